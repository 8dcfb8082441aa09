package main

import (
	"os"
	"path/filepath"
	"testing"

	"forge-adapter/internal/config"
	"forge-adapter/internal/dataset"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConfig(trainData string) *config.Config {
	return &config.Config{ModelName: "LinearNet", LR: 0.01, TrainData: trainData, Epochs: 1, BatchSize: 2, KeyColumn: "id"}
}

func TestOpenSourceCSVKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,f0,f1,label\nr0,1,0,0\nr1,0,1,1\nr2,1,1,1\n"), 0o644))
	cfg := runConfig(path)
	require.NoError(t, cfg.Validate())

	src, err := openSource(cfg, path, sourceOptions{labeled: true}, zerolog.Nop())
	require.NoError(t, err)
	mem, ok := src.(*dataset.MemorySource)
	require.True(t, ok, "got %T", src)
	require.Len(t, mem.Samples, 3)
	assert.Equal(t, "r2", mem.Samples[2].Key)
	assert.Equal(t, []float64{1, 1}, mem.Samples[2].Features)
	assert.Equal(t, 2, mem.BatchSize)

	unlabeled := filepath.Join(t.TempDir(), "test.csv")
	require.NoError(t, os.WriteFile(unlabeled, []byte("id,f0,f1\nr0,1,0\n"), 0o644))
	_, err = openSource(cfg, unlabeled, sourceOptions{labeled: true}, zerolog.Nop())
	assert.Error(t, err)
	_, err = openSource(cfg, unlabeled, sourceOptions{}, zerolog.Nop())
	assert.NoError(t, err)
}

func TestOpenSourceShardRoots(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	for _, dir := range []string{a, b} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "shard-000000.tar"), nil, 0o644))
	}
	cfg := runConfig(a + "," + b)
	cfg.Repeat = true
	cfg.MaxSteps = 5
	cfg.NumWorkers = 3
	require.NoError(t, cfg.Validate())

	src, err := openSource(cfg, cfg.TrainData, sourceOptions{labeled: true, repeat: cfg.Repeat}, zerolog.Nop())
	require.NoError(t, err)
	shards, ok := src.(*dataset.ShardSource)
	require.True(t, ok, "got %T", src)
	assert.Len(t, shards.Roots, 2)
	assert.True(t, shards.Repeat)
	assert.True(t, shards.Shard.Labeled)
	assert.Equal(t, 3, shards.NumWorkers)

	src, err = openSource(cfg, a, sourceOptions{}, zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, src.(*dataset.ShardSource).Repeat)

	_, err = openSource(cfg, filepath.Join(a, "missing"), sourceOptions{}, zerolog.Nop())
	assert.Error(t, err)
}

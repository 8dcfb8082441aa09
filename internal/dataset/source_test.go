package dataset

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"forge-adapter/internal/nn"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBatches(t *testing.T, src Source) []Batch {
	t.Helper()
	batches, errCh := src.Batches(context.Background())
	var out []Batch
	for b := range batches {
		out = append(out, b)
	}
	for err := range errCh {
		require.NoError(t, err)
	}
	return out
}

func TestNewBatch(t *testing.T) {
	b, err := NewBatch(4, []Sample{
		{Key: "a", Row: 10, Features: []float64{1, 2}, Label: 1, HasLabel: true},
		{Key: "b", Row: 11, Features: []float64{3, 4}, Label: 0, HasLabel: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, b.Index)
	assert.Equal(t, 2, b.Size())
	assert.True(t, b.Labeled())
	assert.Equal(t, []int{10, 11}, b.Rows)
	assert.Equal(t, []int{1, 0}, b.Labels)
	assert.Equal(t, 4.0, b.Inputs.At(1, 1))

	_, err = NewBatch(0, []Sample{{Features: []float64{1}}, {Features: []float64{1, 2}}})
	assert.True(t, errors.Is(err, nn.ErrShapeMismatch))

	_, err = NewBatch(0, []Sample{{Features: []float64{1}, HasLabel: true}, {Features: []float64{1}}})
	assert.Error(t, err)

	_, err = NewBatch(0, nil)
	assert.True(t, errors.Is(err, nn.ErrShapeMismatch))

	unlabeled, err := NewBatch(0, []Sample{{Features: []float64{1}}})
	require.NoError(t, err)
	assert.False(t, unlabeled.Labeled())
}

const tableCSV = `id,f0,f1,f2,f3,label
r0,0.1,0.2,0.3,0.4,0
r1,1,2,3,4,3
r2,0,0,0,1,9
`

func TestLoadCSV(t *testing.T) {
	table, err := LoadCSV(strings.NewReader(tableCSV), CSVOptions{LabelColumn: "label", KeyColumn: "id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f0", "f1", "f2", "f3"}, table.FeatureNames)
	require.Len(t, table.Samples, 3)
	assert.True(t, table.Labeled())
	assert.Equal(t, "r1", table.Samples[1].Key)
	assert.Equal(t, []float64{1, 2, 3, 4}, table.Samples[1].Features)
	assert.Equal(t, 9, table.Samples[2].Label)
	assert.Equal(t, 2, table.Samples[2].Row)

	// Without the label column the table is unlabeled test data.
	table, err = LoadCSV(strings.NewReader("f0,f1\n1,2\n3,4\n"), CSVOptions{LabelColumn: "label", KeyColumn: "id"})
	require.NoError(t, err)
	assert.False(t, table.Labeled())
	assert.Equal(t, "1", table.Samples[1].Key)

	_, err = LoadCSV(strings.NewReader("name,f0\nx,1\n"), CSVOptions{})
	assert.Error(t, err)
}

func TestMemorySourceBatching(t *testing.T) {
	table, err := LoadCSV(strings.NewReader(tableCSV), CSVOptions{LabelColumn: "label", KeyColumn: "id"})
	require.NoError(t, err)

	batches := collectBatches(t, table.Source(2, false, 0))
	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].Index)
	assert.Equal(t, []int{0, 1}, batches[0].Rows)
	assert.Equal(t, 1, batches[1].Index)
	assert.Equal(t, []int{2}, batches[1].Rows)
}

func TestMemorySourceShuffleCoversEveryRow(t *testing.T) {
	samples := make([]Sample, 10)
	for i := range samples {
		samples[i] = Sample{Row: i, Features: []float64{float64(i)}, Label: i % 2, HasLabel: true}
	}
	src := &MemorySource{Samples: samples, BatchSize: 3, Shuffle: true, Seed: 9}
	var rows []int
	for _, b := range collectBatches(t, src) {
		rows = append(rows, b.Rows...)
		for i, r := range b.Rows {
			assert.Equal(t, float64(r), b.Inputs.At(i, 0))
		}
	}
	sort.Ints(rows)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, rows)
}

func TestShardSource(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "train")
	featureShard(t, dir, "shard-000000.tar", map[string]int{"a": 1, "b": 2, "c": 3})
	featureShard(t, dir, "shard-000001.tar", map[string]int{"d": 4, "e": 5})
	roots, err := DiscoverByRoot([]string{dir})
	require.NoError(t, err)

	src := &ShardSource{Roots: roots, BatchSize: 2, NumWorkers: 2, Seed: 3, Shard: ShardOptions{Labeled: true}}
	for pass := 0; pass < 2; pass++ {
		batches := collectBatches(t, src)
		require.Len(t, batches, 3)
		total := 0
		for i, b := range batches {
			assert.Equal(t, i, b.Index)
			total += b.Size()
			for j, label := range b.Labels {
				// featureShard stores the label as the last feature.
				assert.Equal(t, float64(label), b.Inputs.At(j, 3))
			}
		}
		assert.Equal(t, 5, total)
	}
}

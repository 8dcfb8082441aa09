package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamShardPairsEntries(t *testing.T) {
	shard := writeShard(t, t.TempDir(), "shard-000000.tar", []entry{
		{key: "000001", ext: ".feat", payload: []byte("0.1, 0.2 0.3\t0.4")},
		{key: "000002", ext: ".png", payload: pngBytes(t, 4)},
		{key: "000001", ext: ".cls", payload: []byte("3\n")},
		{key: "000002", ext: ".cls", payload: []byte("7")},
		{key: "000002", ext: ".json", payload: []byte("{}")},
	})

	samples, err := drain(StreamShard(context.Background(), shard, ShardOptions{Labeled: true, ImageGrid: 2}))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	sort.Slice(samples, func(i, j int) bool { return samples[i].Key < samples[j].Key })

	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, samples[0].Features)
	assert.Equal(t, 3, samples[0].Label)
	assert.True(t, samples[0].HasLabel)
	assert.Len(t, samples[1].Features, 4)
	assert.Equal(t, 7, samples[1].Label)
}

func TestStreamShardUnlabeled(t *testing.T) {
	shard := writeShard(t, t.TempDir(), "shard-000000.tar", []entry{
		{key: "a", ext: ".feat", payload: []byte("1 2")},
		{key: "a", ext: ".cls", payload: []byte("1")},
		{key: "b", ext: ".feat", payload: []byte("3 4")},
	})
	samples, err := drain(StreamShard(context.Background(), shard, ShardOptions{}))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "a", samples[0].Key)
	assert.False(t, samples[0].HasLabel)
	assert.Equal(t, []float64{3, 4}, samples[1].Features)
}

func TestStreamShardIncomplete(t *testing.T) {
	shard := writeShard(t, t.TempDir(), "shard-000000.tar", []entry{
		{key: "a", ext: ".feat", payload: []byte("1 2")},
	})
	_, err := drain(StreamShard(context.Background(), shard, ShardOptions{Labeled: true}))
	assert.Error(t, err)
}

func TestStreamShardBadLabel(t *testing.T) {
	shard := writeShard(t, t.TempDir(), "shard-000000.tar", []entry{
		{key: "a", ext: ".cls", payload: []byte("three")},
	})
	_, err := drain(StreamShard(context.Background(), shard, ShardOptions{Labeled: true}))
	assert.Error(t, err)
}

func TestExtractImageFeatures(t *testing.T) {
	features, err := ExtractImageFeatures(pngBytes(t, DefaultImageGrid), 0)
	require.NoError(t, err)
	require.Len(t, features, DefaultImageGrid*DefaultImageGrid)
	for _, v := range features {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	_, err = ExtractImageFeatures([]byte("not an image"), 4)
	assert.Error(t, err)
}

func TestExtractImageFeaturesAveragesCells(t *testing.T) {
	// Left half black, right half white.
	img := image.NewGray(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 2; x < 4; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	features, err := ExtractImageFeatures(encodePNG(t, img), 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0, 1}, features)

	// A single cell averages the whole image.
	features, err = ExtractImageFeatures(encodePNG(t, img), 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, features[0], 1e-12)

	// More cells than pixels still yields one value per cell.
	features, err = ExtractImageFeatures(encodePNG(t, img), 8)
	require.NoError(t, err)
	require.Len(t, features, 64)
	assert.Equal(t, 0.0, features[0])
	assert.Equal(t, 1.0, features[7])
}

type entry struct {
	key, ext string
	payload  []byte
}

func writeShard(t *testing.T, dir, name string, entries []entry) string {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.key + e.ext, Size: int64(len(e.payload)), Mode: 0o644}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write(e.payload)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// featureShard writes a labeled shard of 4-feature samples.
func featureShard(t *testing.T, dir, name string, labels map[string]int) string {
	t.Helper()
	var entries []entry
	for key, label := range labels {
		entries = append(entries,
			entry{key: key, ext: ".feat", payload: []byte("1 0 0 " + strconv.Itoa(label))},
			entry{key: key, ext: ".cls", payload: []byte(strconv.Itoa(label))},
		)
	}
	return writeShard(t, dir, name, entries)
}

func pngBytes(t *testing.T, side int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 255)})
		}
	}
	return encodePNG(t, img)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func drain(samples <-chan Sample, errs <-chan error) ([]Sample, error) {
	var out []Sample
	var firstErr error
	for samples != nil || errs != nil {
		select {
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			out = append(out, s)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return out, firstErr
}

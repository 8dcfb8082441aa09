package dataset

import (
	"context"
	"io"
	"math/rand"
	"os"
	"slices"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// CSVOptions names the special columns of a CSV table. Every other column
// is a numeric feature.
type CSVOptions struct {
	// LabelColumn holds integer class labels. A table without it is
	// unlabeled.
	LabelColumn string
	// KeyColumn, if present in the table, names each sample.
	KeyColumn string
}

// Table is an in-memory dataset.
type Table struct {
	FeatureNames []string
	Samples      []Sample
}

// Labeled reports whether the table's samples carry labels.
func (t *Table) Labeled() bool {
	return len(t.Samples) > 0 && t.Samples[0].HasLabel
}

// LoadCSVFile reads a CSV table from path.
func LoadCSVFile(path string, opts CSVOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open table")
	}
	defer f.Close()
	t, err := LoadCSV(f, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return t, nil
}

// LoadCSV reads a CSV table with a header row.
func LoadCSV(r io.Reader, opts CSVOptions) (*Table, error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "read csv")
	}
	names := df.Names()
	labeled := opts.LabelColumn != "" && slices.Contains(names, opts.LabelColumn)
	keyed := opts.KeyColumn != "" && slices.Contains(names, opts.KeyColumn)

	t := &Table{}
	columns := make([][]float64, 0, len(names))
	for _, name := range names {
		if (labeled && name == opts.LabelColumn) || (keyed && name == opts.KeyColumn) {
			continue
		}
		col := df.Col(name)
		switch col.Type() {
		case series.Int, series.Float, series.Bool:
		default:
			return nil, errors.Errorf("feature column %q is not numeric (%s)", name, col.Type())
		}
		t.FeatureNames = append(t.FeatureNames, name)
		columns = append(columns, col.Float())
	}
	if len(columns) == 0 {
		return nil, errors.New("table has no feature columns")
	}

	var labels []int
	if labeled {
		var err error
		labels, err = df.Col(opts.LabelColumn).Int()
		if err != nil {
			return nil, errors.Wrapf(err, "label column %q", opts.LabelColumn)
		}
	}
	var keys []string
	if keyed {
		keys = df.Col(opts.KeyColumn).Records()
	}

	t.Samples = make([]Sample, df.Nrow())
	for row := range t.Samples {
		s := Sample{Row: row, Key: strconv.Itoa(row), Features: make([]float64, len(columns))}
		if keyed {
			s.Key = keys[row]
		}
		for j, col := range columns {
			s.Features[j] = col[row]
		}
		if labeled {
			s.Label, s.HasLabel = labels[row], true
		}
		t.Samples[row] = s
	}
	return t, nil
}

// Source serves the table as batches of batchSize.
func (t *Table) Source(batchSize int, shuffle bool, seed int64) *MemorySource {
	return &MemorySource{Samples: t.Samples, BatchSize: batchSize, Shuffle: shuffle, Seed: seed}
}

// MemorySource serves in-memory samples. With Shuffle set, every pass uses a
// fresh permutation derived from Seed and the pass number.
type MemorySource struct {
	Samples   []Sample
	BatchSize int
	Shuffle   bool
	Seed      int64

	pass int64
}

// Batches implements Source.
func (m *MemorySource) Batches(ctx context.Context) (<-chan Batch, <-chan error) {
	order := make([]int, len(m.Samples))
	for i := range order {
		order[i] = i
	}
	if m.Shuffle {
		rng := rand.New(rand.NewSource(m.Seed + m.pass))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	m.pass++
	batchSize := m.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	out := make(chan Batch)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for index, start := 0, 0; start < len(order); index, start = index+1, start+batchSize {
			end := min(start+batchSize, len(order))
			chunk := make([]Sample, 0, end-start)
			for _, i := range order[start:end] {
				chunk = append(chunk, m.Samples[i])
			}
			b, err := NewBatch(index, chunk)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- b:
			}
		}
	}()
	return out, errCh
}

// Package dataset turns WebDataset shards and CSV tables into ordered
// minibatches for the training runtime.
package dataset

import (
	"context"

	"forge-adapter/internal/nn"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Sample is one record: a feature vector and, for labeled data, its class.
type Sample struct {
	Key      string
	Row      int
	Features []float64
	Label    int
	HasLabel bool
}

// Batch is a minibatch. Rows holds each sample's position in its source so
// predictions can be put back in source order. Labels is nil for unlabeled
// (test) batches.
type Batch struct {
	Index  int
	Rows   []int
	Keys   []string
	Inputs *mat.Dense
	Labels []int
}

// Size is the number of samples in the batch.
func (b Batch) Size() int {
	if b.Inputs == nil {
		return 0
	}
	r, _ := b.Inputs.Dims()
	return r
}

// Labeled reports whether the batch carries labels.
func (b Batch) Labeled() bool {
	return b.Labels != nil
}

// NewBatch packs samples into a batch. Every sample must have the same
// number of features, and either all or none must be labeled.
func NewBatch(index int, samples []Sample) (Batch, error) {
	if len(samples) == 0 {
		return Batch{}, errors.Wrap(nn.ErrShapeMismatch, "empty batch")
	}
	width := len(samples[0].Features)
	if width == 0 {
		return Batch{}, errors.Wrapf(nn.ErrShapeMismatch, "sample %q has no features", samples[0].Key)
	}
	labeled := samples[0].HasLabel
	b := Batch{
		Index:  index,
		Rows:   make([]int, len(samples)),
		Keys:   make([]string, len(samples)),
		Inputs: mat.NewDense(len(samples), width, nil),
	}
	if labeled {
		b.Labels = make([]int, len(samples))
	}
	for i, s := range samples {
		if len(s.Features) != width {
			return Batch{}, errors.Wrapf(nn.ErrShapeMismatch, "sample %q has %d features, want %d", s.Key, len(s.Features), width)
		}
		if s.HasLabel != labeled {
			return Batch{}, errors.Errorf("batch %d mixes labeled and unlabeled samples", index)
		}
		b.Rows[i] = s.Row
		b.Keys[i] = s.Key
		b.Inputs.SetRow(i, s.Features)
		if labeled {
			b.Labels[i] = s.Label
		}
	}
	return b, nil
}

// Source produces one pass (epoch) of batches per call. The batch channel is
// closed at the end of the pass; the error channel delivers at most one error
// and is closed afterwards.
type Source interface {
	Batches(ctx context.Context) (<-chan Batch, <-chan error)
}

// batchFromSamples groups a sample stream into batches of batchSize; the
// final batch may be smaller.
func batchFromSamples(ctx context.Context, samples <-chan Sample, sampleErrs <-chan error, batchSize int) (<-chan Batch, <-chan error) {
	out := make(chan Batch)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		pending := make([]Sample, 0, batchSize)
		index := 0
		flush := func() bool {
			b, err := NewBatch(index, pending)
			if err != nil {
				errCh <- err
				return false
			}
			index++
			pending = make([]Sample, 0, batchSize)
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case out <- b:
				return true
			}
		}

		for samples != nil || sampleErrs != nil {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case err, ok := <-sampleErrs:
				if !ok {
					sampleErrs = nil
					continue
				}
				if err != nil {
					errCh <- err
					return
				}
			case s, ok := <-samples:
				if !ok {
					samples = nil
					continue
				}
				pending = append(pending, s)
				if len(pending) == batchSize && !flush() {
					return
				}
			}
		}
		if len(pending) > 0 {
			flush()
		}
	}()
	return out, errCh
}

package dataset

import (
	"context"
)

// ShardSource serves batches from WebDataset shards through the multi-root
// sampler. Each call to Batches makes one pass over every shard; the shard
// order is reshuffled per pass from Seed. With Repeat set a single call
// cycles through the shards until ctx is done.
type ShardSource struct {
	Roots      map[string][]string
	BatchSize  int
	NumWorkers int
	Seed       int64
	Repeat     bool
	Shard      ShardOptions

	pass int64
}

// Batches implements Source.
func (s *ShardSource) Batches(ctx context.Context) (<-chan Batch, <-chan error) {
	seed := s.Seed + s.pass
	s.pass++
	samples, sampleErrs, err := StartSampler(ctx, SamplerOptions{
		Roots:      s.Roots,
		Seed:       seed,
		NumWorkers: s.NumWorkers,
		Repeat:     s.Repeat,
		Shard:      s.Shard,
	})
	if err != nil {
		return failed(err)
	}
	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	return batchFromSamples(ctx, samples, sampleErrs, batchSize)
}

func failed(err error) (<-chan Batch, <-chan error) {
	out := make(chan Batch)
	errCh := make(chan error, 1)
	errCh <- err
	close(out)
	close(errCh)
	return out, errCh
}

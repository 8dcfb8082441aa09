package dataset

import (
	"context"
	"math/rand"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

const defaultSamplerSeed = 42

// SamplerOptions configures the multi-root sampler.
type SamplerOptions struct {
	Roots      map[string][]string
	Seed       int64
	NumWorkers int
	// Repeat cycles through the shards forever, reshuffling each cycle.
	// Otherwise the sampler makes a single pass and closes its output.
	Repeat bool
	Shard  ShardOptions
}

// shardRef is one shard scheduled for reading, tagged with its root.
type shardRef struct {
	root string
	path string
}

type shardJob struct {
	seq int64
	shardRef
}

// openShard is a shard being decoded by a worker.
type openShard struct {
	seq     int64
	path    string
	samples <-chan Sample
	errs    <-chan error
}

type sampler struct {
	opts SamplerOptions
	rng  *rand.Rand
}

// StartSampler streams the samples of every shard under opts.Roots. Shards
// are decoded concurrently by NumWorkers goroutines but delivered in
// schedule order, and Row numbers samples in delivery order, so a given seed
// always reproduces the same stream.
func StartSampler(parent context.Context, opts SamplerOptions) (<-chan Sample, <-chan error, error) {
	if len(opts.Roots) == 0 {
		return nil, nil, errors.New("sampler: no dataset roots provided")
	}
	total := 0
	for _, shards := range opts.Roots {
		total += len(shards)
	}
	if total == 0 {
		return nil, nil, errors.New("sampler: no shards discovered")
	}
	opts.NumWorkers = max(opts.NumWorkers, 1)
	opts.Shard = opts.Shard.withDefaults()
	if opts.Seed == 0 {
		opts.Seed = defaultSamplerSeed
	}
	s := &sampler{opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}

	ctx, cancel := context.WithCancel(parent)
	jobs := make(chan shardJob, opts.NumWorkers)
	opened := make(chan openShard, opts.NumWorkers)
	out := make(chan Sample, opts.NumWorkers*2)
	errCh := make(chan error, 1)

	go s.schedule(ctx, jobs)

	var wg sync.WaitGroup
	wg.Add(opts.NumWorkers)
	for range opts.NumWorkers {
		go func() {
			defer wg.Done()
			s.open(ctx, jobs, opened)
		}()
	}
	go func() {
		wg.Wait()
		close(opened)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		if err := s.deliver(ctx, opened, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh, nil
}

// schedule emits shard jobs, one interleaved pass at a time.
func (s *sampler) schedule(ctx context.Context, jobs chan<- shardJob) {
	defer close(jobs)
	var seq int64
	for {
		for _, ref := range interleaveShards(s.opts.Roots, s.rng) {
			select {
			case <-ctx.Done():
				return
			case jobs <- shardJob{seq: seq, shardRef: ref}:
				seq++
			}
		}
		if !s.opts.Repeat {
			return
		}
	}
}

// open starts decoding every job it receives and hands the stream on.
func (s *sampler) open(ctx context.Context, jobs <-chan shardJob, opened chan<- openShard) {
	for job := range jobs {
		samples, errs := StreamShard(ctx, job.path, s.opts.Shard)
		select {
		case <-ctx.Done():
			return
		case opened <- openShard{seq: job.seq, path: job.path, samples: samples, errs: errs}:
		}
	}
}

// deliver drains opened shards strictly in sequence order, holding back
// shards that were opened early.
func (s *sampler) deliver(ctx context.Context, opened <-chan openShard, out chan<- Sample) error {
	held := make(map[int64]openShard)
	var next int64
	row := 0
	for {
		shard, ready := held[next]
		if !ready {
			select {
			case <-ctx.Done():
				return nil
			case o, ok := <-opened:
				if !ok {
					return nil
				}
				held[o.seq] = o
			}
			continue
		}
		delete(held, next)
		next++

		for sample := range shard.samples {
			sample.Row = row
			row++
			select {
			case <-ctx.Done():
				return nil
			case out <- sample:
			}
		}
		if err := <-shard.errs; err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrapf(err, "shard %s", shard.path)
		}
	}
}

// interleaveShards shuffles each root's shards and then takes one shard per
// root in turn, roots in lexical order, until every shard is scheduled.
func interleaveShards(roots map[string][]string, rng *rand.Rand) []shardRef {
	names := maps.Keys(roots)
	slices.Sort(names)
	queues := make(map[string][]string, len(roots))
	total := 0
	for _, root := range names {
		q := slices.Clone(roots[root])
		if rng != nil {
			rng.Shuffle(len(q), func(i, j int) { q[i], q[j] = q[j], q[i] })
		}
		queues[root] = q
		total += len(q)
	}

	order := make([]shardRef, 0, total)
	for len(order) < total {
		for _, root := range names {
			if q := queues[root]; len(q) > 0 {
				order = append(order, shardRef{root: root, path: q[0]})
				queues[root] = q[1:]
			}
		}
	}
	return order
}

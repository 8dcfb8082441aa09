package trainer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"forge-adapter/internal/adapter"
	"forge-adapter/internal/checkpoint"
	"forge-adapter/internal/config"
	"forge-adapter/internal/dataset"
	"forge-adapter/internal/metrics"
	"forge-adapter/internal/model"
	"forge-adapter/internal/optim"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/floats"
)

// Module is the callback surface the loop drives. *adapter.Adapter
// implements it.
type Module interface {
	HParams() config.HParams
	Model() model.Model
	SetSink(metrics.Sink)
	TrainingStep(batch dataset.Batch, batchIdx int) (adapter.StepOutput, error)
	ValidationStep(batch dataset.Batch, batchIdx int) error
	TestStep(batch dataset.Batch, batchIdx int) (adapter.Predictions, error)
	ConfigureOptimizers() (optim.Optimizer, error)
}

// RunConfig captures the knobs of the training loop.
type RunConfig struct {
	Epochs int
	// MaxSteps stops training after that many optimizer steps; 0 means no
	// limit.
	MaxSteps int
	LogEvery int
	// CheckpointDir, when set, receives a checkpoint at the end of every
	// epoch under <dir>/<model_name>/<run id>/epoch-NNN.
	CheckpointDir string
	// Sink receives every metric the module logs, in addition to the loop's
	// own bookkeeping.
	Sink metrics.Sink
	// Progress renders a progress bar to ProgressWriter (stderr if nil).
	Progress       bool
	ProgressWriter io.Writer
	Logger         zerolog.Logger
}

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch      int
	Steps      int
	TrainLoss  float64
	Validated  bool
	ValLoss    float64
	ValAcc     float64
	Checkpoint string
}

// Result summarizes a Fit run.
type Result struct {
	RunID    string
	Steps    int
	Epochs   []EpochResult
	Duration time.Duration
}

// Fit trains module on train for cfg.Epochs epochs, validating on val (if
// not nil) after every epoch. The first step error aborts the run.
func Fit(ctx context.Context, module Module, train, val dataset.Source, cfg RunConfig) (*Result, error) {
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.MaxSteps < 0 {
		return nil, errors.New("trainer: max steps must be >= 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}

	res := &Result{RunID: uuid.NewString()}
	log := cfg.Logger.With().Str("run", res.RunID).Str("model", module.HParams().ModelName).Logger()
	rec := metrics.NewRecorder()
	module.SetSink(metrics.Multi(rec, cfg.Sink))
	defer module.SetSink(cfg.Sink)

	opt, err := module.ConfigureOptimizers()
	if err != nil {
		return nil, errors.Wrap(err, "configure optimizers")
	}

	var bar *progressbar.ProgressBar
	if cfg.Progress {
		bar = newProgressBar(cfg)
		defer bar.Finish()
	}

	start := time.Now()
	log.Info().Int("epochs", cfg.Epochs).Int("max_steps", cfg.MaxSteps).Float64("lr", opt.LearningRate()).Msg("training started")

	var window metrics.Window
	samples := int64(0)
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rec.Reset()
		trainSizes, stop, err := runEpoch(ctx, module, opt, train, cfg, &window, bar, &res.Steps, &samples, log.With().Int("epoch", epoch).Logger())
		if err != nil {
			return res, err
		}
		epochSteps := len(trainSizes)

		er := EpochResult{Epoch: epoch, Steps: epochSteps}
		er.TrainLoss = sampleMean(rec.Values(metrics.TrainLoss), trainSizes)
		if val != nil {
			rec.Reset()
			valSizes, err := validate(ctx, module, val)
			if err != nil {
				return res, err
			}
			er.Validated = true
			er.ValLoss = sampleMean(rec.Values(metrics.ValLoss), valSizes)
			er.ValAcc = sampleMean(rec.Values(metrics.ValAcc), valSizes)
		}
		if cfg.CheckpointDir != "" {
			dir := filepath.Join(cfg.CheckpointDir, module.HParams().ModelName, res.RunID, fmt.Sprintf("epoch-%03d", epoch))
			size, err := checkpoint.Save(dir, module.HParams(), module.Model(), res.Steps)
			if err != nil {
				return res, errors.Wrapf(err, "checkpoint epoch %d", epoch)
			}
			er.Checkpoint = dir
			log.Debug().Str("dir", dir).Str("size", humanize.Bytes(uint64(size))).Msg("checkpoint saved")
		}
		res.Epochs = append(res.Epochs, er)

		ev := log.Info().Int("epoch", epoch).Int("steps", epochSteps).Float64(metrics.TrainLoss, er.TrainLoss)
		if er.Validated {
			ev = ev.Float64(metrics.ValLoss, er.ValLoss).Float64(metrics.ValAcc, er.ValAcc)
		}
		ev.Msg("epoch done")

		if stop {
			break
		}
	}

	res.Duration = time.Since(start)
	log.Info().
		Int("steps", res.Steps).
		Str("samples", humanize.Comma(samples)).
		Dur("elapsed", res.Duration).
		Msg("training finished")
	return res, nil
}

// runEpoch makes one pass over train and returns the size of every batch
// stepped on. It reports whether MaxSteps was reached.
func runEpoch(ctx context.Context, module Module, opt optim.Optimizer, train dataset.Source, cfg RunConfig,
	window *metrics.Window, bar *progressbar.ProgressBar, step *int, samples *int64, log zerolog.Logger) ([]int, bool, error) {
	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, errs := train.Batches(epochCtx)

	var sizes []int
	for batchIdx := 0; ; batchIdx++ {
		startData := time.Now()
		batch, ok, err := nextBatch(epochCtx, batches, errs)
		if err != nil {
			return sizes, false, errors.Wrap(err, "next training batch")
		}
		if !ok {
			return sizes, false, nil
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		out, err := module.TrainingStep(batch, batchIdx)
		if err != nil {
			return sizes, false, err
		}
		opt.ZeroGrad()
		if err := out.Backward(); err != nil {
			return sizes, false, errors.Wrapf(err, "backward batch %d", batchIdx)
		}
		if err := opt.Step(); err != nil {
			return sizes, false, errors.Wrapf(err, "optimizer step %d", *step)
		}
		computeTime := time.Since(startCompute)

		sizes = append(sizes, batch.Size())
		*step++
		*samples += int64(batch.Size())
		window.Record(batch.Size(), dataTime, computeTime, out.Loss)
		if bar != nil {
			bar.Describe(fmt.Sprintf("loss %.4f", out.Loss))
			_ = bar.Add(1)
		}
		if window.Steps() >= cfg.LogEvery {
			log.Info().Int("step", *step).EmbedObject(window.Snapshot()).Msg("train")
		}
		if cfg.MaxSteps > 0 && *step >= cfg.MaxSteps {
			return sizes, true, nil
		}
	}
}

// Validate runs ValidationStep over one pass of src and returns val_loss and
// val_acc averaged over its samples.
func Validate(ctx context.Context, module Module, src dataset.Source, sink metrics.Sink) (valLoss, valAcc float64, err error) {
	rec := metrics.NewRecorder()
	module.SetSink(metrics.Multi(rec, sink))
	defer module.SetSink(sink)
	sizes, err := validate(ctx, module, src)
	if err != nil {
		return 0, 0, err
	}
	return sampleMean(rec.Values(metrics.ValLoss), sizes), sampleMean(rec.Values(metrics.ValAcc), sizes), nil
}

// validate returns the size of every batch it validated, in order.
func validate(ctx context.Context, module Module, src dataset.Source) ([]int, error) {
	valCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, errs := src.Batches(valCtx)
	var sizes []int
	for batchIdx := 0; ; batchIdx++ {
		batch, ok, err := nextBatch(valCtx, batches, errs)
		if err != nil {
			return nil, errors.Wrap(err, "next validation batch")
		}
		if !ok {
			return sizes, nil
		}
		if err := module.ValidationStep(batch, batchIdx); err != nil {
			return nil, err
		}
		sizes = append(sizes, batch.Size())
	}
}

// sampleMean averages per-batch values weighted by batch size, so a short
// final batch counts for its samples only. Without one size per value it
// falls back to the plain mean.
func sampleMean(values []float64, sizes []int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(sizes) != len(values) {
		return floats.Sum(values) / float64(len(values))
	}
	weights := make([]float64, len(sizes))
	for i, n := range sizes {
		weights[i] = float64(n)
	}
	total := floats.Sum(weights)
	if total == 0 {
		return 0
	}
	return floats.Dot(values, weights) / total
}

// Collected holds the per-batch predictions of a test pass in arrival order.
type Collected []adapter.Predictions

// Concat joins the predictions in batch order.
func (c Collected) Concat() []int { return adapter.Concat(c) }

// ByRow orders the predictions by source row.
func (c Collected) ByRow() ([]int, error) { return adapter.ByRow(c) }

// Test runs TestStep over one pass of src.
func Test(ctx context.Context, module Module, src dataset.Source) (Collected, error) {
	testCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, errs := src.Batches(testCtx)
	var out Collected
	for batchIdx := 0; ; batchIdx++ {
		batch, ok, err := nextBatch(testCtx, batches, errs)
		if err != nil {
			return nil, errors.Wrap(err, "next test batch")
		}
		if !ok {
			return out, nil
		}
		p, err := module.TestStep(batch, batchIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
}

// nextBatch returns the next batch, or ok=false once the source is
// exhausted without error.
func nextBatch(ctx context.Context, batches <-chan dataset.Batch, errs <-chan error) (dataset.Batch, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return dataset.Batch{}, false, ctx.Err()
		case err, open := <-errs:
			if !open {
				errs = nil
				continue
			}
			if err != nil {
				return dataset.Batch{}, false, err
			}
		case b, open := <-batches:
			if open {
				return b, true, nil
			}
			if errs != nil {
				if err := <-errs; err != nil {
					return dataset.Batch{}, false, err
				}
			}
			return dataset.Batch{}, false, nil
		}
	}
}

func newProgressBar(cfg RunConfig) *progressbar.ProgressBar {
	w := cfg.ProgressWriter
	if w == nil {
		w = os.Stderr
	}
	total := -1
	if cfg.MaxSteps > 0 {
		total = cfg.MaxSteps
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("training"),
		progressbar.OptionSetItsString("step"),
		progressbar.OptionShowIts(),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

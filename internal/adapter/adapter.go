// Package adapter binds a registered model to the callbacks a training
// runtime drives: forward, training/validation/test steps and optimizer
// construction. It owns no loop, goroutine or I/O of its own.
package adapter

import (
	"forge-adapter/internal/config"
	"forge-adapter/internal/dataset"
	"forge-adapter/internal/metrics"
	"forge-adapter/internal/model"
	"forge-adapter/internal/nn"
	"forge-adapter/internal/optim"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrStaleStep is returned by StepOutput.Backward once the model has run
// another forward pass since the step that produced it.
var ErrStaleStep = errors.New("adapter: stale step output")

// Adapter owns exactly one model instance and the hyperparameters it was
// built from. Step methods are not safe for concurrent use; a runtime that
// replicates training runs one Adapter per replica.
type Adapter struct {
	hp    config.HParams
	model model.Model
	sink  metrics.Sink

	// forwards counts forward passes; a StepOutput is only valid while it
	// is unchanged.
	forwards uint64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSink sets the sink metrics are reported to.
func WithSink(s metrics.Sink) Option {
	return func(a *Adapter) { a.SetSink(s) }
}

// New validates hp, resolves hp.ModelName in reg (model.Default when nil)
// and instantiates it.
func New(hp config.HParams, reg *model.Registry, opts ...Option) (*Adapter, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = model.Default
	}
	m, err := reg.New(hp.ModelName)
	if err != nil {
		return nil, err
	}
	a := &Adapter{hp: hp, model: m, sink: metrics.Discard}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// HParams returns the hyperparameters the adapter was built with.
func (a *Adapter) HParams() config.HParams { return a.hp }

// Model returns the owned model.
func (a *Adapter) Model() model.Model { return a.model }

// SetSink replaces the metric sink; nil discards metrics.
func (a *Adapter) SetSink(s metrics.Sink) {
	if s == nil {
		s = metrics.Discard
	}
	a.sink = s
}

// Forward runs the model on x, shaped (batch, features), returning
// (batch, classes) logits.
func (a *Adapter) Forward(x *mat.Dense) (*mat.Dense, error) {
	a.forwards++
	return a.model.Forward(x)
}

// StepOutput is the result of a training step.
type StepOutput struct {
	Loss float64

	backward func() error
}

// Backward accumulates the gradient of Loss into the model parameters. It
// fails with ErrStaleStep once the adapter has run another forward pass.
func (o StepOutput) Backward() error {
	if o.backward == nil {
		return errors.New("step output carries no gradient")
	}
	return o.backward()
}

// TrainingStep computes the mean cross-entropy of the batch and reports it
// as train_loss.
func (a *Adapter) TrainingStep(batch dataset.Batch, batchIdx int) (StepOutput, error) {
	x, y, err := split(batch)
	if err != nil {
		return StepOutput{}, errors.WithMessagef(err, "training batch %d", batchIdx)
	}
	out, err := a.Forward(x)
	if err != nil {
		return StepOutput{}, errors.WithMessagef(err, "training batch %d", batchIdx)
	}
	loss, grad, err := nn.CrossEntropy(out, y)
	if err != nil {
		return StepOutput{}, errors.WithMessagef(err, "training batch %d", batchIdx)
	}
	a.sink.Log(metrics.TrainLoss, loss)
	pass := a.forwards
	return StepOutput{
		Loss: loss,
		backward: func() error {
			if a.forwards != pass {
				return errors.Wrapf(ErrStaleStep, "training batch %d", batchIdx)
			}
			return a.model.Backward(grad)
		},
	}, nil
}

// ValidationStep reports val_loss and val_acc for the batch.
func (a *Adapter) ValidationStep(batch dataset.Batch, batchIdx int) error {
	x, y, err := split(batch)
	if err != nil {
		return errors.WithMessagef(err, "validation batch %d", batchIdx)
	}
	out, err := a.Forward(x)
	if err != nil {
		return errors.WithMessagef(err, "validation batch %d", batchIdx)
	}
	loss, _, err := nn.CrossEntropy(out, y)
	if err != nil {
		return errors.WithMessagef(err, "validation batch %d", batchIdx)
	}
	acc, err := nn.Accuracy(nn.Argmax(out), y)
	if err != nil {
		return errors.WithMessagef(err, "validation batch %d", batchIdx)
	}
	a.sink.Log(metrics.ValLoss, loss)
	a.sink.Log(metrics.ValAcc, acc)
	return nil
}

// TestStep returns the predicted class of every sample in the batch. Labels,
// if the batch has any, are ignored.
func (a *Adapter) TestStep(batch dataset.Batch, batchIdx int) (Predictions, error) {
	if batch.Size() == 0 {
		return Predictions{}, errors.Wrapf(nn.ErrShapeMismatch, "test batch %d is empty", batchIdx)
	}
	out, err := a.Forward(batch.Inputs)
	if err != nil {
		return Predictions{}, errors.WithMessagef(err, "test batch %d", batchIdx)
	}
	if _, c := out.Dims(); c != a.model.NumClasses() {
		return Predictions{}, errors.Wrapf(nn.ErrShapeMismatch, "model produced %d logits, want %d", c, a.model.NumClasses())
	}
	p := Predictions{BatchIndex: batchIdx, Labels: nn.Argmax(out)}
	if batch.Rows != nil {
		if len(batch.Rows) != len(p.Labels) {
			return Predictions{}, errors.Wrapf(nn.ErrShapeMismatch, "test batch %d has %d rows for %d samples", batchIdx, len(batch.Rows), len(p.Labels))
		}
		p.Rows = append([]int(nil), batch.Rows...)
	}
	return p, nil
}

// ConfigureOptimizers returns an Adam optimizer over the model's parameters
// with the configured learning rate.
func (a *Adapter) ConfigureOptimizers() (optim.Optimizer, error) {
	return optim.Adam(a.model.Parameters()).LearningRate(a.hp.LR).Done()
}

func split(batch dataset.Batch) (*mat.Dense, []int, error) {
	n := batch.Size()
	if n == 0 {
		return nil, nil, errors.Wrap(nn.ErrShapeMismatch, "empty batch")
	}
	if !batch.Labeled() {
		return nil, nil, errors.Wrap(nn.ErrShapeMismatch, "batch has no labels")
	}
	if n != len(batch.Labels) {
		return nil, nil, errors.Wrapf(nn.ErrShapeMismatch, "%d inputs but %d labels", n, len(batch.Labels))
	}
	return batch.Inputs, batch.Labels, nil
}

// Package optim implements first-order optimizers over model parameters.
package optim

import (
	"forge-adapter/internal/model"
)

// Optimizer updates parameter values from their accumulated gradients.
type Optimizer interface {
	// Step applies one update using the current gradients.
	Step() error
	// ZeroGrad clears the gradients of every managed parameter.
	ZeroGrad()
	LearningRate() float64
	// StepCount is the number of updates applied so far.
	StepCount() int64
}

func zeroGrad(params []*model.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

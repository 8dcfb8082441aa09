package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultFeatures is the input width of the built-in models.
	DefaultFeatures = 4
	// DefaultClasses is the number of logits the built-in models produce.
	DefaultClasses = 10
	// DefaultSeed seeds the built-in models' initialization.
	DefaultSeed = 1
)

// LinearNet is a single dense layer mapping features straight to logits.
type LinearNet struct {
	fc *dense
}

// NewLinearNet constructs the model with seeded random initialization.
func NewLinearNet(numFeatures, numClasses int, seed int64) *LinearNet {
	if numFeatures <= 0 {
		numFeatures = DefaultFeatures
	}
	if numClasses <= 0 {
		numClasses = DefaultClasses
	}
	rng := rand.New(rand.NewSource(seed))
	return &LinearNet{fc: newDense("fc", numFeatures, numClasses, rng)}
}

// Forward returns the logits for x.
func (m *LinearNet) Forward(x *mat.Dense) (*mat.Dense, error) {
	return m.fc.forward(x)
}

// Backward accumulates the parameter gradients for gradOut.
func (m *LinearNet) Backward(gradOut *mat.Dense) error {
	_, err := m.fc.backward(gradOut)
	return err
}

func (m *LinearNet) Parameters() []*Parameter { return m.fc.parameters() }
func (m *LinearNet) NumFeatures() int         { return m.fc.in }
func (m *LinearNet) NumClasses() int          { return m.fc.out }

package model

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DefaultHidden is the hidden width of MLPNet.
const DefaultHidden = 32

// MLPNet is a two layer perceptron with a ReLU hidden layer.
type MLPNet struct {
	hidden, out *dense
	mask        *mat.Dense
}

// NewMLPNet constructs the model with seeded random initialization.
func NewMLPNet(numFeatures, hidden, numClasses int, seed int64) *MLPNet {
	if numFeatures <= 0 {
		numFeatures = DefaultFeatures
	}
	if hidden <= 0 {
		hidden = DefaultHidden
	}
	if numClasses <= 0 {
		numClasses = DefaultClasses
	}
	rng := rand.New(rand.NewSource(seed))
	return &MLPNet{
		hidden: newDense("hidden", numFeatures, hidden, rng),
		out:    newDense("out", hidden, numClasses, rng),
	}
}

// Forward returns the logits for x.
func (m *MLPNet) Forward(x *mat.Dense) (*mat.Dense, error) {
	h, err := m.hidden.forward(x)
	if err != nil {
		return nil, err
	}
	a, mask := relu(h)
	logits, err := m.out.forward(a)
	if err != nil {
		return nil, err
	}
	m.mask = mask
	return logits, nil
}

// Backward accumulates the parameter gradients for gradOut.
func (m *MLPNet) Backward(gradOut *mat.Dense) error {
	if m.mask == nil {
		return errNoForward
	}
	g, err := m.out.backward(gradOut)
	if err != nil {
		return err
	}
	g.MulElem(g, m.mask)
	if _, err := m.hidden.backward(g); err != nil {
		return errors.Wrap(err, "hidden layer")
	}
	return nil
}

func (m *MLPNet) Parameters() []*Parameter {
	return append(m.hidden.parameters(), m.out.parameters()...)
}

func (m *MLPNet) NumFeatures() int { return m.hidden.in }
func (m *MLPNet) NumClasses() int  { return m.out.out }

package model

import (
	"gonum.org/v1/gonum/mat"
)

// Model is a classifier producing (batch, NumClasses) logits from
// (batch, NumFeatures) inputs. Backward consumes the gradient of the loss
// with respect to the logits of the latest Forward call and accumulates
// parameter gradients; it never updates parameter values.
type Model interface {
	Forward(x *mat.Dense) (*mat.Dense, error)
	Backward(gradOut *mat.Dense) error
	Parameters() []*Parameter
	NumFeatures() int
	NumClasses() int
}

// Parameter is a learnable tensor and its accumulated gradient.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter wraps value with a zeroed gradient of the same shape.
func NewParameter(name string, value *mat.Dense) *Parameter {
	r, c := value.Dims()
	return &Parameter{Name: name, Value: value, Grad: mat.NewDense(r, c, nil)}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Accumulate adds g to the gradient.
func (p *Parameter) Accumulate(g mat.Matrix) {
	p.Grad.Add(p.Grad, g)
}

// Size is the number of scalars held by the parameter.
func (p *Parameter) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

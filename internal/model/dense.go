package model

import (
	"math"
	"math/rand"

	"forge-adapter/internal/nn"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var errNoForward = errors.New("backward called before forward")

// dense is a fully connected layer y = x·Wᵀ + b.
type dense struct {
	in, out int
	weight  *Parameter // (out, in)
	bias    *Parameter // (1, out)
	input   *mat.Dense
}

// newDense initializes weights uniformly in ±1/sqrt(in).
func newDense(name string, in, out int, rng *rand.Rand) *dense {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, out*in)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * bound
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = (rng.Float64()*2 - 1) * bound
	}
	return &dense{
		in:     in,
		out:    out,
		weight: NewParameter(name+".weight", mat.NewDense(out, in, w)),
		bias:   NewParameter(name+".bias", mat.NewDense(1, out, b)),
	}
}

func (d *dense) forward(x *mat.Dense) (*mat.Dense, error) {
	r, c := x.Dims()
	if r == 0 {
		return nil, errors.Wrap(nn.ErrShapeMismatch, "empty batch")
	}
	if c != d.in {
		return nil, errors.Wrapf(nn.ErrShapeMismatch, "%s expects %d features, got %d", d.weight.Name, d.in, c)
	}
	y := mat.NewDense(r, d.out, nil)
	y.Mul(x, d.weight.Value.T())
	bias := d.bias.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	d.input = mat.DenseCopyOf(x)
	return y, nil
}

// backward accumulates dW = gᵀ·x and db = Σ g, returning g·W.
func (d *dense) backward(gradOut *mat.Dense) (*mat.Dense, error) {
	if d.input == nil {
		return nil, errNoForward
	}
	r, c := gradOut.Dims()
	if ir, _ := d.input.Dims(); r != ir || c != d.out {
		return nil, errors.Wrapf(nn.ErrShapeMismatch, "%s gradient is %dx%d, want %dx%d", d.weight.Name, r, c, ir, d.out)
	}
	var gw mat.Dense
	gw.Mul(gradOut.T(), d.input)
	d.weight.Accumulate(&gw)

	gb := d.bias.Grad.RawRowView(0)
	for i := 0; i < r; i++ {
		for j, v := range gradOut.RawRowView(i) {
			gb[j] += v
		}
	}

	gradIn := mat.NewDense(r, d.in, nil)
	gradIn.Mul(gradOut, d.weight.Value)
	return gradIn, nil
}

func (d *dense) parameters() []*Parameter {
	return []*Parameter{d.weight, d.bias}
}

// relu applies max(0, x) and returns the activation mask for backward.
func relu(x *mat.Dense) (*mat.Dense, *mat.Dense) {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	mask := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		src, dst, m := x.RawRowView(i), out.RawRowView(i), mask.RawRowView(i)
		for j, v := range src {
			if v > 0 {
				dst[j] = v
				m[j] = 1
			}
		}
	}
	return out, mask
}

// Package nn holds the numerical pieces shared by models, the adapter and the
// optimizer: softmax, cross-entropy with its gradient, argmax and accuracy.
//
// Tensors are gonum dense matrices laid out as (batch, features).
package nn

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch marks tensors whose shapes, or labels whose range, do not
// fit together.
var ErrShapeMismatch = errors.New("shape mismatch")

// softmax returns the row-wise softmax of logits.
func softmax(logits mat.Matrix) *mat.Dense {
	r, c := logits.Dims()
	if r == 0 || c == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(r, c, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, logits)
		softmaxInto(out.RawRowView(i), row)
	}
	return out
}

func softmaxInto(dst, logits []float64) {
	maxLogit := floats.Max(logits)
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		dst[i] = e
		sum += e
	}
	floats.Scale(1/sum, dst)
}

// CheckLabels verifies that every label is a class index in [0, numClasses).
func CheckLabels(labels []int, numClasses int) error {
	for i, l := range labels {
		if l < 0 || l >= numClasses {
			return errors.Wrapf(ErrShapeMismatch, "label[%d]=%d outside [0, %d)", i, l, numClasses)
		}
	}
	return nil
}

// CrossEntropy computes the mean softmax cross-entropy of logits against
// integer class labels, and the gradient of that mean with respect to logits.
func CrossEntropy(logits mat.Matrix, labels []int) (float64, *mat.Dense, error) {
	r, c := logits.Dims()
	if r != len(labels) {
		return 0, nil, errors.Wrapf(ErrShapeMismatch, "logits batch %d != labels batch %d", r, len(labels))
	}
	if r == 0 {
		return 0, nil, errors.Wrap(ErrShapeMismatch, "empty batch")
	}
	if err := CheckLabels(labels, c); err != nil {
		return 0, nil, err
	}

	grad := mat.NewDense(r, c, nil)
	row := make([]float64, c)
	total := 0.0
	inv := 1 / float64(r)
	for i := 0; i < r; i++ {
		mat.Row(row, i, logits)
		label := labels[i]
		lse := floats.LogSumExp(row)
		total += lse - row[label]

		g := grad.RawRowView(i)
		softmaxInto(g, row)
		g[label] -= 1
		floats.Scale(inv, g)
	}
	return total * inv, grad, nil
}

// Argmax returns, for each row, the index of its largest value. Ties resolve
// to the lowest index.
func Argmax(logits mat.Matrix) []int {
	r, c := logits.Dims()
	out := make([]int, r)
	if c == 0 {
		return out
	}
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, logits)
		out[i] = floats.MaxIdx(row)
	}
	return out
}

// Accuracy is the fraction of predictions equal to their label.
func Accuracy(predicted, labels []int) (float64, error) {
	if len(predicted) != len(labels) {
		return 0, errors.Wrapf(ErrShapeMismatch, "%d predictions for %d labels", len(predicted), len(labels))
	}
	if len(labels) == 0 {
		return 0, errors.Wrap(ErrShapeMismatch, "empty batch")
	}
	correct := 0
	for i, p := range predicted {
		if p == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}

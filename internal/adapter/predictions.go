package adapter

import (
	"sort"

	"github.com/pkg/errors"
)

// Predictions are the predicted classes of one test batch. Rows carries each
// sample's position in its source when the batch provided it.
type Predictions struct {
	BatchIndex int
	Rows       []int
	Labels     []int
}

// Concat joins per-batch predictions in batch order.
func Concat(preds []Predictions) []int {
	sorted := append([]Predictions(nil), preds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BatchIndex < sorted[j].BatchIndex })
	total := 0
	for _, p := range sorted {
		total += len(p.Labels)
	}
	out := make([]int, 0, total)
	for _, p := range sorted {
		out = append(out, p.Labels...)
	}
	return out
}

// ByRow places predictions at their source rows. Rows must cover 0..n-1
// exactly once.
func ByRow(preds []Predictions) ([]int, error) {
	total := 0
	for _, p := range preds {
		if len(p.Rows) != len(p.Labels) {
			return nil, errors.Errorf("batch %d carries no row ids", p.BatchIndex)
		}
		total += len(p.Labels)
	}
	out := make([]int, total)
	seen := make([]bool, total)
	for _, p := range preds {
		for i, row := range p.Rows {
			if row < 0 || row >= total {
				return nil, errors.Errorf("batch %d: row %d outside [0, %d)", p.BatchIndex, row, total)
			}
			if seen[row] {
				return nil, errors.Errorf("batch %d: row %d predicted twice", p.BatchIndex, row)
			}
			seen[row] = true
			out[row] = p.Labels[i]
		}
	}
	return out, nil
}

package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcatOrdersByBatch(t *testing.T) {
	preds := []Predictions{
		{BatchIndex: 1, Labels: []int{3, 4}},
		{BatchIndex: 0, Labels: []int{1, 2}},
		{BatchIndex: 2, Labels: []int{5}},
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, Concat(preds))
	assert.Empty(t, Concat(nil))
}

func TestByRow(t *testing.T) {
	preds := []Predictions{
		{BatchIndex: 0, Rows: []int{2, 0}, Labels: []int{7, 5}},
		{BatchIndex: 1, Rows: []int{1}, Labels: []int{6}},
	}
	out, err := ByRow(preds)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7}, out)

	_, err = ByRow([]Predictions{{Rows: []int{0, 0}, Labels: []int{1, 2}}})
	assert.Error(t, err)
	_, err = ByRow([]Predictions{{Rows: []int{5}, Labels: []int{1}}})
	assert.Error(t, err)
	_, err = ByRow([]Predictions{{Labels: []int{1}}})
	assert.Error(t, err)
}

package optim

import (
	"math"
	"testing"

	"forge-adapter/internal/model"
	"forge-adapter/internal/nn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	// With bias correction the first update is lr·sign(g) up to epsilon.
	p := model.NewParameter("w", mat.NewDense(1, 3, []float64{1, 1, 1}))
	p.Grad.SetRow(0, []float64{0.5, -2, 0})
	opt, err := Adam([]*model.Parameter{p}).LearningRate(0.1).Done()
	require.NoError(t, err)
	require.NoError(t, opt.Step())

	assert.InDelta(t, 0.9, p.Value.At(0, 0), 1e-6)
	assert.InDelta(t, 1.1, p.Value.At(0, 1), 1e-6)
	assert.Equal(t, 1.0, p.Value.At(0, 2))
	assert.EqualValues(t, 1, opt.StepCount())
	assert.Equal(t, 0.1, opt.LearningRate())

	opt.ZeroGrad()
	assert.Equal(t, 0.0, p.Grad.At(0, 1))
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	// f(w) = Σ (w - 3)², minimized at w = 3.
	p := model.NewParameter("w", mat.NewDense(1, 2, []float64{0, 10}))
	opt, err := Adam([]*model.Parameter{p}).LearningRate(0.1).Done()
	require.NoError(t, err)
	for i := 0; i < 2000; i++ {
		opt.ZeroGrad()
		for j := 0; j < 2; j++ {
			p.Grad.Set(0, j, 2*(p.Value.At(0, j)-3))
		}
		require.NoError(t, opt.Step())
	}
	assert.InDelta(t, 3, p.Value.At(0, 0), 1e-2)
	assert.InDelta(t, 3, p.Value.At(0, 1), 1e-2)
}

func TestAdamTrainsLinearNet(t *testing.T) {
	m := model.NewLinearNet(4, 10, 1)
	x := mat.NewDense(2, 4, []float64{1, 0, 0, 1, 0, 1, 1, 0})
	labels := []int{0, 3}
	opt, err := Adam(m.Parameters()).LearningRate(0.05).Done()
	require.NoError(t, err)

	var first, last float64
	for i := 0; i < 50; i++ {
		opt.ZeroGrad()
		logits, err := m.Forward(x)
		require.NoError(t, err)
		loss, grad, err := nn.CrossEntropy(logits, labels)
		require.NoError(t, err)
		require.NoError(t, m.Backward(grad))
		require.NoError(t, opt.Step())
		if i == 0 {
			first = loss
		}
		last = loss
	}
	assert.Less(t, last, first/2)
}

func TestAdamConfigValidation(t *testing.T) {
	p := model.NewParameter("w", mat.NewDense(1, 1, nil))
	params := []*model.Parameter{p}

	_, err := Adam(nil).Done()
	assert.Error(t, err)
	_, err = Adam(params).LearningRate(0).Done()
	assert.Error(t, err)
	_, err = Adam(params).LearningRate(math.NaN()).Done()
	assert.Error(t, err)
	_, err = Adam(params).Betas(1, 0.9).Done()
	assert.Error(t, err)
	_, err = Adam(params).Epsilon(0).Done()
	assert.Error(t, err)

	opt, err := Adam(params).Done()
	require.NoError(t, err)
	assert.Equal(t, AdamDefaultLearningRate, opt.LearningRate())
}

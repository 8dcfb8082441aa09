package optim

import (
	"math"

	"forge-adapter/internal/model"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// AdamDefaultLearningRate is used if no learning rate is set.
	AdamDefaultLearningRate = 0.001
	AdamDefaultBeta1        = 0.9
	AdamDefaultBeta2        = 0.999
	AdamDefaultEpsilon      = 1e-8
)

// AdamConfig configures an Adam optimizer. Create it with Adam and finish
// with Done.
type AdamConfig struct {
	params       []*model.Parameter
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
}

// Adam returns the configuration of an Adam optimizer (Kingma & Ba, 2014)
// over params, with bias-corrected first and second moment estimates.
func Adam(params []*model.Parameter) *AdamConfig {
	return &AdamConfig{
		params:       params,
		learningRate: AdamDefaultLearningRate,
		beta1:        AdamDefaultBeta1,
		beta2:        AdamDefaultBeta2,
		epsilon:      AdamDefaultEpsilon,
	}
}

// LearningRate sets the step size.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the exponential decay rates of the moment estimates.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon sets the denominator term for numerical stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Done validates the configuration and builds the optimizer.
func (c *AdamConfig) Done() (Optimizer, error) {
	if len(c.params) == 0 {
		return nil, errors.New("adam: no parameters to optimize")
	}
	if !(c.learningRate > 0) || math.IsInf(c.learningRate, 0) {
		return nil, errors.Errorf("adam: learning rate must be > 0, got %v", c.learningRate)
	}
	if c.beta1 < 0 || c.beta1 >= 1 || c.beta2 < 0 || c.beta2 >= 1 {
		return nil, errors.Errorf("adam: betas must be in [0, 1), got (%v, %v)", c.beta1, c.beta2)
	}
	if !(c.epsilon > 0) {
		return nil, errors.Errorf("adam: epsilon must be > 0, got %v", c.epsilon)
	}
	o := &adam{config: *c}
	for _, p := range c.params {
		r, cols := p.Value.Dims()
		o.moment1 = append(o.moment1, mat.NewDense(r, cols, nil))
		o.moment2 = append(o.moment2, mat.NewDense(r, cols, nil))
	}
	return o, nil
}

type adam struct {
	config           AdamConfig
	moment1, moment2 []*mat.Dense
	step             int64
}

func (o *adam) Step() error {
	o.step++
	c := &o.config
	debias1 := 1 / (1 - math.Pow(c.beta1, float64(o.step)))
	debias2 := 1 / (1 - math.Pow(c.beta2, float64(o.step)))
	for i, p := range c.params {
		r, cols := p.Value.Dims()
		if gr, gc := p.Grad.Dims(); gr != r || gc != cols {
			return errors.Errorf("adam: %s gradient is %dx%d, value is %dx%d", p.Name, gr, gc, r, cols)
		}
		m1, m2 := o.moment1[i], o.moment2[i]
		for row := 0; row < r; row++ {
			value, grad := p.Value.RawRowView(row), p.Grad.RawRowView(row)
			first, second := m1.RawRowView(row), m2.RawRowView(row)
			for j, g := range grad {
				first[j] = c.beta1*first[j] + (1-c.beta1)*g
				second[j] = c.beta2*second[j] + (1-c.beta2)*g*g
				value[j] -= c.learningRate * (first[j] * debias1) / (math.Sqrt(second[j]*debias2) + c.epsilon)
			}
		}
	}
	return nil
}

func (o *adam) ZeroGrad()             { zeroGrad(o.config.params) }
func (o *adam) LearningRate() float64 { return o.config.learningRate }
func (o *adam) StepCount() int64      { return o.step }

package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalid marks configuration that is missing a required key or carries an
// unusable value.
var ErrInvalid = errors.New("invalid configuration")

const (
	KeyModelName = "model_name"
	KeyLR        = "lr"
)

// HParams is the hyperparameter record bound to an adapter. It is a value
// type: copies never share mutable state.
type HParams struct {
	ModelName string
	LR        float64

	extra map[string]any
}

// NewHParams builds and validates an HParams record.
func NewHParams(modelName string, lr float64) (HParams, error) {
	hp := HParams{ModelName: modelName, LR: lr}
	if err := hp.Validate(); err != nil {
		return HParams{}, err
	}
	return hp, nil
}

// ParseHParams builds HParams from a flat mapping. Keys other than
// model_name and lr are retained and persisted alongside the model.
func ParseHParams(m map[string]any) (HParams, error) {
	if m == nil {
		return HParams{}, errors.Wrap(ErrInvalid, "no hyperparameters given")
	}
	rawName, ok := m[KeyModelName]
	if !ok {
		return HParams{}, errors.Wrapf(ErrInvalid, "missing %q", KeyModelName)
	}
	name, ok := rawName.(string)
	if !ok {
		return HParams{}, errors.Wrapf(ErrInvalid, "%q must be a string, got %T", KeyModelName, rawName)
	}
	rawLR, ok := m[KeyLR]
	if !ok {
		return HParams{}, errors.Wrapf(ErrInvalid, "missing %q", KeyLR)
	}
	lr, err := toFloat(rawLR)
	if err != nil {
		return HParams{}, errors.Wrapf(ErrInvalid, "%q: %v", KeyLR, err)
	}

	hp := HParams{ModelName: name, LR: lr}
	for k, v := range m {
		if k == KeyModelName || k == KeyLR {
			continue
		}
		if hp.extra == nil {
			hp.extra = make(map[string]any, len(m))
		}
		hp.extra[k] = v
	}
	if err := hp.Validate(); err != nil {
		return HParams{}, err
	}
	return hp, nil
}

// Validate checks the required keys.
func (h HParams) Validate() error {
	if strings.TrimSpace(h.ModelName) == "" {
		return errors.Wrapf(ErrInvalid, "%q must be set", KeyModelName)
	}
	if math.IsNaN(h.LR) || math.IsInf(h.LR, 0) || h.LR <= 0 {
		return errors.Wrapf(ErrInvalid, "%q must be a positive number (got %v)", KeyLR, h.LR)
	}
	return nil
}

// Get returns an extra hyperparameter.
func (h HParams) Get(key string) (any, bool) {
	switch key {
	case KeyModelName:
		return h.ModelName, true
	case KeyLR:
		return h.LR, true
	}
	v, ok := h.extra[key]
	return v, ok
}

// Map returns a fresh flat mapping of every hyperparameter.
func (h HParams) Map() map[string]any {
	out := make(map[string]any, len(h.extra)+2)
	for k, v := range h.extra {
		out[k] = v
	}
	out[KeyModelName] = h.ModelName
	out[KeyLR] = h.LR
	return out
}

func (h HParams) String() string {
	return fmt.Sprintf("%s=%s %s=%g (+%d)", KeyModelName, h.ModelName, KeyLR, h.LR, len(h.extra))
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

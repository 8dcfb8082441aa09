package model

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	assert.Equal(t, []string{"LinearNet", "MLPNet"}, Default.Names())
	for _, name := range Default.Names() {
		m, err := Default.New(name)
		require.NoError(t, err)
		assert.Equal(t, DefaultFeatures, m.NumFeatures())
		assert.Equal(t, DefaultClasses, m.NumClasses())
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	f := func() (Model, error) { return NewLinearNet(4, 2, 1), nil }
	for _, name := range []string{"b", "c", "a"} {
		r.MustRegister(name, f)
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
	assert.Empty(t, NewRegistry().Names())
}

func TestRegistryNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("DoesNotExist")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = r.Lookup("DoesNotExist")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	f := func() (Model, error) { return NewLinearNet(4, 2, 1), nil }
	require.NoError(t, r.Register("A", f))
	assert.Error(t, r.Register("A", f))
	assert.Error(t, r.Register("", f))
	assert.Error(t, r.Register("B", nil))
	assert.Panics(t, func() { r.MustRegister("A", f) })
}

func TestRegistryConstructionFailures(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("Broken", func() (Model, error) { return nil, errors.New("no weights") })
	r.MustRegister("Panics", func() (Model, error) { panic("boom") })
	r.MustRegister("Nil", func() (Model, error) { return nil, nil })

	for _, name := range []string{"Broken", "Panics", "Nil"} {
		m, err := r.New(name)
		assert.Nil(t, m)
		assert.Truef(t, errors.Is(err, ErrConstruction), "%s: got %v", name, err)
	}
}

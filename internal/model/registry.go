package model

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

var (
	// ErrNotFound is returned when no model is registered under a name.
	ErrNotFound = errors.New("model not found")
	// ErrConstruction is returned when a registered factory fails.
	ErrConstruction = errors.New("model construction failed")
)

// Factory builds a fresh model instance.
type Factory func() (Model, error)

// Registry maps model names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default holds every built-in model variant.
var Default = NewRegistry()

func init() {
	Default.MustRegister("LinearNet", func() (Model, error) {
		return NewLinearNet(DefaultFeatures, DefaultClasses, DefaultSeed), nil
	})
	Default.MustRegister("MLPNet", func() (Model, error) {
		return NewMLPNet(DefaultFeatures, DefaultHidden, DefaultClasses, DefaultSeed), nil
	})
}

// Register adds a factory under name. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return errors.New("registry: empty model name")
	}
	if f == nil {
		return errors.Errorf("registry: nil factory for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return errors.Errorf("registry: model %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error, for use from init.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q (known: %v)", name, r.Names())
	}
	return f, nil
}

// New resolves name and instantiates it. Factory errors and panics are
// reported as ErrConstruction.
func (r *Registry) New(name string) (m Model, err error) {
	f, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			m = nil
			err = errors.Wrapf(ErrConstruction, "%q panicked: %v", name, p)
		}
	}()
	m, err = f()
	if err != nil {
		return nil, errors.Wrapf(ErrConstruction, "%q: %v", name, err)
	}
	if m == nil {
		return nil, errors.Wrapf(ErrConstruction, "%q: factory returned no model", name)
	}
	return m, nil
}

// Names lists the registered models in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := maps.Keys(r.factories)
	slices.Sort(names)
	return names
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry%v", r.Names())
}

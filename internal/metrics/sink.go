package metrics

import (
	"sync"

	"github.com/rs/zerolog"
)

// Metric names emitted by the adapter.
const (
	TrainLoss = "train_loss"
	ValLoss   = "val_loss"
	ValAcc    = "val_acc"
)

// Sink receives named scalar metrics. Log is fire-and-forget.
type Sink interface {
	Log(name string, value float64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(name string, value float64)

func (f SinkFunc) Log(name string, value float64) { f(name, value) }

// Discard drops every metric.
var Discard Sink = SinkFunc(func(string, float64) {})

type multi []Sink

func (m multi) Log(name string, value float64) {
	for _, s := range m {
		s.Log(name, value)
	}
}

// Multi fans metrics out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Recorder keeps every logged value in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	values map[string][]float64
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{values: make(map[string][]float64)}
}

func (r *Recorder) Log(name string, value float64) {
	r.mu.Lock()
	r.values[name] = append(r.values[name], value)
	r.mu.Unlock()
}

// Values returns a copy of the history of name.
func (r *Recorder) Values(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values[name]...)
}

// Last returns the most recent value of name.
func (r *Recorder) Last(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[name]
	if len(v) == 0 {
		return 0, false
	}
	return v[len(v)-1], true
}

// Mean returns the average of every value of name.
func (r *Recorder) Mean(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[name]
	if len(v) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v)), true
}

// Reset forgets every value.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.values = make(map[string][]float64)
	r.mu.Unlock()
}

// LogSink writes each metric as a debug event.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Log(name string, value float64) {
	s.Logger.Debug().Str("metric", name).Float64("value", value).Msg("metric")
}

package metrics

import (
	"time"

	"github.com/rs/zerolog"
)

// Window aggregates step timings and losses between two snapshots.
type Window struct {
	steps    int
	samples  int
	waited   time.Duration
	computed time.Duration
	lossSum  float64
	lastLoss float64
}

// Record accounts one optimizer step over batchSize samples.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.steps++
	w.samples += batchSize
	w.waited += dataTime
	w.computed += computeTime
	w.lossSum += loss
	w.lastLoss = loss
}

// Steps is the number of steps recorded since the last snapshot.
func (w *Window) Steps() int { return w.steps }

// Snapshot summarizes the window and starts a new one.
func (w *Window) Snapshot() Snapshot {
	defer func() { *w = Window{} }()
	snap := Snapshot{Steps: w.steps, LastLoss: w.lastLoss}
	if elapsed := w.waited + w.computed; elapsed > 0 {
		snap.SamplesPerSec = float64(w.samples) / elapsed.Seconds()
	}
	if w.steps == 0 {
		return snap
	}
	n := float64(w.steps)
	snap.AvgDataMS = msec(w.waited) / n
	snap.AvgComputeMS = msec(w.computed) / n
	snap.MeanLoss = w.lossSum / n
	return snap
}

func msec(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Snapshot is the summary of a Window.
type Snapshot struct {
	Steps         int
	SamplesPerSec float64
	AvgDataMS     float64
	AvgComputeMS  float64
	LastLoss      float64
	MeanLoss      float64
}

// MarshalZerologObject lets a Snapshot be embedded in a log event.
func (s Snapshot) MarshalZerologObject(e *zerolog.Event) {
	e.Int("window_steps", s.Steps).
		Float64("samples_per_sec", s.SamplesPerSec).
		Float64("data_ms", s.AvgDataMS).
		Float64("compute_ms", s.AvgComputeMS).
		Float64("loss", s.LastLoss).
		Float64("mean_loss", s.MeanLoss)
}

// Package tracker keeps the previous telemetry sample and classifies
// the transition to the current one.
package tracker

import "github.com/mpapenbr/iracelog-sectortiming/pkg/model"

type Event int

const (
	EventFirstSample Event = iota
	EventNormal
	EventLapIncreased
	EventLapDecreased
)

func (e Event) String() string {
	switch e {
	case EventFirstSample:
		return "first_sample"
	case EventLapIncreased:
		return "lap_number_increased"
	case EventLapDecreased:
		return "lap_number_decreased"
	default:
		return "normal"
	}
}

// Hysteresis is the band used to detect the start/finish line passing.
// A wrap is declared if the previous position was above High and the current
// position is below Low.
type Hysteresis struct {
	High float64
	Low  float64
}

var DefaultHysteresis = Hysteresis{High: 0.9, Low: 0.1}

type Tracker struct {
	prev    model.TelemetrySample
	curr    model.TelemetrySample
	hasPrev bool
	hasCurr bool
	h       Hysteresis
}

type Option func(t *Tracker)

func WithHysteresis(h Hysteresis) Option {
	return func(t *Tracker) {
		t.h = h
	}
}

func New(opts ...Option) *Tracker {
	ret := &Tracker{h: DefaultHysteresis}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Update stores s as the current sample and reports how the lap number changed
// compared to the previous one.
func (t *Tracker) Update(s model.TelemetrySample) Event {
	if !t.hasCurr {
		t.curr = s
		t.prev = s
		t.hasCurr = true
		return EventFirstSample
	}
	t.prev = t.curr
	t.hasPrev = true
	t.curr = s
	switch {
	case s.LapNumber < t.prev.LapNumber:
		return EventLapDecreased
	case s.LapNumber > t.prev.LapNumber:
		return EventLapIncreased
	default:
		return EventNormal
	}
}

// Previous returns the sample before the current one.
// On the first sample previous and current are the same.
func (t *Tracker) Previous() model.TelemetrySample {
	return t.prev
}

func (t *Tracker) Current() model.TelemetrySample {
	return t.curr
}

// Wrapped reports if the start/finish line was passed between the previous
// and the current sample.
func (t *Tracker) Wrapped() bool {
	return t.hasPrev && IsFinishWrap(t.prev.TrackPosition, t.curr.TrackPosition, t.h)
}

func (t *Tracker) Hysteresis() Hysteresis {
	return t.h
}

// Reset forgets all samples.
func (t *Tracker) Reset() {
	*t = Tracker{h: t.h}
}

func IsFinishWrap(prev, curr float64, h Hysteresis) bool {
	return prev > h.High && curr < h.Low
}

// Crossed reports if boundary b was passed when moving from prev to curr.
// wrapped signals that the start/finish line was passed in between.
func Crossed(prev, curr, b float64, wrapped bool) bool {
	if wrapped {
		return prev < b || b <= curr
	}
	return prev < b && b <= curr
}

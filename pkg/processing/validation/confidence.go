// Package validation derives confidence scores and validity annotations
// for crossings, sectors and laps. It never modifies the timing data.
package validation

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

// Penalties are the factors applied by the ConfidenceScorer.
type Penalties struct {
	BadTimeDelta     float64 // frame delta <= 0 or > MaxFrameDelta
	LargeJump        float64 // position delta > LargeJumpThreshold
	Stationary       float64 // position delta < StationaryThreshold
	NonPositiveTime  float64 // crossing time <= 0
	HistoricVariance float64 // crossing intervals are inconsistent
}

var DefaultPenalties = Penalties{
	BadTimeDelta:     0.5,
	LargeJump:        0.7,
	Stationary:       0.8,
	NonPositiveTime:  0.3,
	HistoricVariance: 0.8,
}

const (
	MaxFrameDelta       = 5.0
	LargeJumpThreshold  = 0.1
	StationaryThreshold = 0.001
	minHistory          = 3
)

// ConfidenceScorer rates how trustworthy a single boundary crossing is.
type ConfidenceScorer struct {
	penalties         Penalties
	varianceThreshold float64
	capacity          int
	// crossing times per boundary
	history map[int][]float64
	total   int
}

type ScorerOption func(c *ConfidenceScorer)

func WithPenalties(p Penalties) ScorerOption {
	return func(c *ConfidenceScorer) {
		c.penalties = p
	}
}

func WithVarianceThreshold(v float64) ScorerOption {
	return func(c *ConfidenceScorer) {
		c.varianceThreshold = v
	}
}

// WithCrossingHistory limits the number of crossings kept per boundary.
func WithCrossingHistory(n int) ScorerOption {
	return func(c *ConfidenceScorer) {
		if n >= minHistory {
			c.capacity = n
		}
	}
}

func NewConfidenceScorer(opts ...ScorerOption) *ConfidenceScorer {
	ret := &ConfidenceScorer{
		penalties:         DefaultPenalties,
		varianceThreshold: 100,
		capacity:          100,
		history:           make(map[int][]float64),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Score returns a value within [0,1] for a crossing of boundary idx between
// prev and curr at crossingTime.
func (c *ConfidenceScorer) Score(
	prev, curr model.TelemetrySample,
	idx int,
	crossingTime float64,
) float64 {
	confidence := 1.0

	dt := curr.Time - prev.Time
	if !(dt > 0 && dt <= MaxFrameDelta) {
		confidence *= c.penalties.BadTimeDelta
	}

	dp := math.Abs(curr.TrackPosition - prev.TrackPosition)
	if dp > 0.5 {
		// movement across the finish line
		dp = 1 - dp
	}
	switch {
	case math.IsNaN(dp):
		confidence *= c.penalties.Stationary
	case dp > LargeJumpThreshold:
		confidence *= c.penalties.LargeJump
	case dp < StationaryThreshold:
		confidence *= c.penalties.Stationary
	}

	if !(crossingTime > 0) {
		confidence *= c.penalties.NonPositiveTime
	}

	if v, ok := c.intervalVariance(idx); ok && v > c.varianceThreshold {
		confidence *= c.penalties.HistoricVariance
	}
	return clamp01(confidence)
}

// Observe records the crossing time of boundary idx.
func (c *ConfidenceScorer) Observe(idx int, crossingTime float64) {
	h := append(c.history[idx], crossingTime)
	if len(h) > c.capacity {
		h = h[len(h)-c.capacity:]
	}
	c.history[idx] = h
	c.total++
}

// Crossings returns the number of observed crossings.
func (c *ConfidenceScorer) Crossings() int {
	return c.total
}

// Reset drops the crossing history, e.g. after a layout change.
func (c *ConfidenceScorer) Reset() {
	c.history = make(map[int][]float64)
}

// intervalVariance computes the variance of the lap to lap intervals of the
// most recent crossings of boundary idx.
func (c *ConfidenceScorer) intervalVariance(idx int) (float64, bool) {
	h := c.history[idx]
	if len(h) < minHistory {
		return 0, false
	}
	recent := h[len(h)-minHistory:]
	intervals := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		intervals = append(intervals, recent[i]-recent[i-1])
	}
	v := stat.Variance(intervals, nil)
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

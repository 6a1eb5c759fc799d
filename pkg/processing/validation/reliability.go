package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

const (
	StatusGood = "good"
	StatusFair = "fair"
	StatusPoor = "poor"
)

// SectorReliability annotates completed sectors with a confidence and
// detects outliers against the recent history of the same sector.
type SectorReliability struct {
	minDuration         float64
	maxDuration         float64
	outlierThreshold    float64
	confidenceThreshold float64
	capacity            int
	history             []model.SectorTime
	total               int
}

type ReliabilityOption func(r *SectorReliability)

func WithSectorBounds(minDuration, maxDuration float64) ReliabilityOption {
	return func(r *SectorReliability) {
		r.minDuration = minDuration
		r.maxDuration = maxDuration
	}
}

// WithOutlierThreshold sets the z-score above which a sector is an outlier.
func WithOutlierThreshold(z float64) ReliabilityOption {
	return func(r *SectorReliability) {
		r.outlierThreshold = z
	}
}

func WithConfidenceThreshold(c float64) ReliabilityOption {
	return func(r *SectorReliability) {
		r.confidenceThreshold = c
	}
}

func WithSectorHistory(n int) ReliabilityOption {
	return func(r *SectorReliability) {
		if n > 0 {
			r.capacity = n
		}
	}
}

func NewSectorReliability(opts ...ReliabilityOption) *SectorReliability {
	ret := &SectorReliability{
		minDuration:         5,
		maxDuration:         300,
		outlierThreshold:    2.0,
		confidenceThreshold: 0.7,
		capacity:            50,
		history:             make([]model.SectorTime, 0),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Assess returns an annotated copy of st.
func (r *SectorReliability) Assess(st model.SectorTime, crossingConfidence float64) model.SectorTime {
	ret := st
	ret.Notes = append([]string{}, st.Notes...)
	confidence := 1.0

	switch {
	case st.Duration < r.minDuration:
		ret.Notes = append(ret.Notes, fmt.Sprintf("very fast sector: %.3fs", st.Duration))
		confidence *= 0.7
	case st.Duration > r.maxDuration:
		ret.Notes = append(ret.Notes, fmt.Sprintf("very slow sector: %.3fs", st.Duration))
		confidence *= 0.5
	}

	previous := lo.FilterMap(r.history, func(item model.SectorTime, _ int) (float64, bool) {
		return item.Duration, item.SectorIndex == st.SectorIndex
	})
	if len(previous) >= minHistory {
		mean, std := stat.MeanStdDev(previous, nil)
		if std > 0 {
			z := math.Abs(st.Duration-mean) / std
			if z > r.outlierThreshold {
				ret.IsOutlier = true
				ret.Notes = append(ret.Notes,
					fmt.Sprintf("outlier: %.1f std devs from mean", z))
				confidence *= 0.6
			}
		}
	}
	confidence *= clamp01(crossingConfidence)
	ret.Confidence = clamp01(confidence)

	r.history = append(r.history, ret)
	if len(r.history) > r.capacity {
		r.history = r.history[len(r.history)-r.capacity:]
	}
	r.total++
	return ret
}

// AssessLap assesses all sectors of lap. The confidence of each sector as
// delivered by the timing engine is used as crossing confidence.
func (r *SectorReliability) AssessLap(lap *model.LapRecord) *model.LapReport {
	ret := &model.LapReport{Lap: lap}
	ret.Sectors = lo.Map(lap.Sectors, func(st model.SectorTime, _ int) model.SectorTime {
		return r.Assess(st, st.Confidence)
	})
	if len(ret.Sectors) > 0 {
		ret.Confidence = stat.Mean(lo.Map(ret.Sectors,
			func(st model.SectorTime, _ int) float64 { return st.Confidence }), nil)
	}
	ret.Reliable = len(ret.Sectors) > 0 && ret.Confidence >= r.confidenceThreshold
	ret.Notes = r.lapNotes(ret.Sectors)
	return ret
}

func (r *SectorReliability) lapNotes(sectors []model.SectorTime) []string {
	notes := []string{}
	names := func(items []model.SectorTime) string {
		return strings.Join(lo.Map(items, func(st model.SectorTime, _ int) string {
			return fmt.Sprintf("S%d", st.SectorIndex+1)
		}), ", ")
	}
	if outliers := lo.Filter(sectors, func(st model.SectorTime, _ int) bool {
		return st.IsOutlier
	}); len(outliers) > 0 {
		notes = append(notes, "outlier sectors detected: "+names(outliers))
	}
	if low := lo.Filter(sectors, func(st model.SectorTime, _ int) bool {
		return st.Confidence < r.confidenceThreshold
	}); len(low) > 0 {
		notes = append(notes, "low confidence sectors: "+names(low))
	}
	if lo.SomeBy(sectors, func(st model.SectorTime) bool { return st.Duration < r.minDuration }) {
		notes = append(notes, "unusually fast sectors detected")
	}
	if lo.SomeBy(sectors, func(st model.SectorTime) bool { return st.Duration > r.maxDuration }) {
		notes = append(notes, "unusually slow sectors detected (may include stationary time)")
	}
	return notes
}

// Summary describes the last 20 assessed sectors.
func (r *SectorReliability) Summary(recentCrossings int) model.ReliabilitySummary {
	ret := model.ReliabilitySummary{
		SectorsSeen:    r.total,
		RecentCrossing: recentCrossings,
		Status:         StatusPoor,
	}
	if len(r.history) == 0 {
		return ret
	}
	recent := r.history[max(0, len(r.history)-20):]
	ret.AvgConfidence = stat.Mean(lo.Map(recent,
		func(st model.SectorTime, _ int) float64 { return st.Confidence }), nil)
	ret.OutlierRate = float64(lo.CountBy(recent,
		func(st model.SectorTime) bool { return st.IsOutlier })) / float64(len(recent))
	ret.Status = reliabilityStatus(ret.AvgConfidence)
	return ret
}

func (r *SectorReliability) Reset() {
	r.history = r.history[:0]
}

func reliabilityStatus(avg float64) string {
	switch {
	case avg > 0.8:
		return StatusGood
	case avg > 0.6:
		return StatusFair
	default:
		return StatusPoor
	}
}

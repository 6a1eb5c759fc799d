package validation

import (
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

// Thresholds configure the LapValidator.
//
//nolint:lll // readability
type Thresholds struct {
	MaxAbs          float64 // seconds
	MaxPct          float64 // percent
	Warning         float64 // seconds, discrepancies above are noted
	BiasWindow      int     // number of validations checked for systematic bias
	TrendDelta      float64 // seconds
	MinSector       float64 // seconds
	MaxSectorShare  float64 // max share of a single sector on the lap time
	MaxSectorRatio  float64 // max ratio between slowest and fastest sector
	SummaryWindow   int
	HistoryCapacity int
}

var DefaultThresholds = Thresholds{
	MaxAbs:          0.5,
	MaxPct:          1.0,
	Warning:         0.1,
	BiasWindow:      5,
	TrendDelta:      0.2,
	MinSector:       5.0,
	MaxSectorShare:  0.6,
	MaxSectorRatio:  10,
	SummaryWindow:   10,
	HistoryCapacity: 20,
}

// LapValidator cross checks the sum of the sector durations against an
// independently reported lap time.
type LapValidator struct {
	t       Thresholds
	history []model.LapValidation
	total   int
	l       *log.Logger
}

type ValidatorOption func(v *LapValidator)

func WithThresholds(t Thresholds) ValidatorOption {
	return func(v *LapValidator) {
		v.t = t
	}
}

func WithValidatorLogger(l *log.Logger) ValidatorOption {
	return func(v *LapValidator) {
		v.l = l
	}
}

func NewLapValidator(opts ...ValidatorOption) *LapValidator {
	ret := &LapValidator{
		t:       DefaultThresholds,
		history: make([]model.LapValidation, 0),
		l:       log.Default().Named("validation"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

//nolint:funlen // by design
func (v *LapValidator) Validate(lapNum int, durations []float64, reference float64) model.LapValidation {
	sum := lo.Sum(durations)
	disc := math.Abs(sum - reference)
	pct := 100.0
	if reference > 0 {
		pct = disc / reference * 100
	}
	ret := model.LapValidation{
		LapNumber:          lapNum,
		SectorCount:        len(durations),
		SectorSum:          sum,
		ReferenceLapTime:   reference,
		DiscrepancySeconds: disc,
		DiscrepancyPercent: pct,
		Over:               sum > reference,
		Notes:              []string{},
	}
	ret.IsValid = disc <= v.t.MaxAbs && pct <= v.t.MaxPct

	if disc > v.t.Warning {
		if disc > v.t.MaxAbs {
			ret.Notes = append(ret.Notes,
				fmt.Sprintf("critical: large timing discrepancy (%.3fs)", disc))
		} else {
			ret.Notes = append(ret.Notes,
				fmt.Sprintf("warning: timing discrepancy detected (%.3fs)", disc))
		}
	}
	if pct > v.t.MaxPct/2 {
		ret.Notes = append(ret.Notes, fmt.Sprintf("percentage error: %.2f%%", pct))
	}
	ret.Confidence = v.confidence(disc, pct)
	ret.Notes = append(ret.Notes, v.sectorNotes(durations, reference)...)

	v.history = append(v.history, ret)
	if len(v.history) > v.t.HistoryCapacity {
		v.history = v.history[len(v.history)-v.t.HistoryCapacity:]
	}
	v.total++

	if bias := v.detectBias(); bias != nil {
		ret.Bias = bias
		switch bias.Direction {
		case model.BiasOver:
			ret.Notes = append(ret.Notes, fmt.Sprintf(
				"systematic error: consistently over by ~%.3fs (possible timing offset)",
				bias.AvgMagnitude))
		case model.BiasUnder:
			ret.Notes = append(ret.Notes, fmt.Sprintf(
				"systematic error: consistently under by ~%.3fs (possible missing time)",
				bias.AvgMagnitude))
		}
	}
	if trend, ok := v.detectTrend(); ok {
		ret.Trend = trend
		ret.Notes = append(ret.Notes, fmt.Sprintf(
			"increasing timing error trend (+%.3fs over %d laps)", trend, v.t.BiasWindow))
	}
	v.history[len(v.history)-1] = ret

	if ret.IsValid {
		v.l.Debug("lap validated",
			log.Int("lap", lapNum),
			log.Float64("discrepancy", disc))
	} else {
		v.l.Warn("lap validation failed",
			log.Int("lap", lapNum),
			log.Float64("sectorSum", sum),
			log.Float64("reference", reference),
			log.Float64("discrepancy", disc))
	}
	return ret
}

func (v *LapValidator) confidence(disc, pct float64) float64 {
	c := 1.0
	if disc > 0.05 {
		c *= math.Max(0.1, 1-disc/v.t.MaxAbs)
	}
	if pct > 0.1 {
		c *= math.Max(0.1, 1-pct/v.t.MaxPct)
	}
	if disc < 0.01 {
		c = math.Min(1, c*1.1)
	}
	return clamp01(c)
}

func (v *LapValidator) sectorNotes(durations []float64, reference float64) []string {
	notes := []string{}
	for i, d := range durations {
		switch {
		case d < v.t.MinSector:
			notes = append(notes, fmt.Sprintf("S%d very fast: %.3fs", i+1, d))
		case d > reference*v.t.MaxSectorShare:
			notes = append(notes, fmt.Sprintf(
				"S%d very slow: %.3fs (may include stationary time)", i+1, d))
		}
	}
	if len(durations) >= 2 {
		maxIdx := slices.Index(durations, slices.Max(durations))
		minIdx := slices.Index(durations, slices.Min(durations))
		ratio := math.Inf(1)
		if durations[minIdx] > 0 {
			ratio = durations[maxIdx] / durations[minIdx]
		}
		if ratio > v.t.MaxSectorRatio {
			notes = append(notes, fmt.Sprintf(
				"large sector imbalance: S%d (%.3fs) vs S%d (%.3fs)",
				maxIdx+1, durations[maxIdx], minIdx+1, durations[minIdx]))
		}
	}
	return notes
}

// detectBias checks if the most recent validations were all on the same side
// of the reference time.
func (v *LapValidator) detectBias() *model.TimingBias {
	n := v.t.BiasWindow
	if n <= 0 || len(v.history) < n {
		return nil
	}
	recent := v.history[len(v.history)-n:]
	avg := lo.SumBy(recent, func(item model.LapValidation) float64 {
		return item.DiscrepancySeconds
	}) / float64(n)
	switch {
	case lo.EveryBy(recent, func(item model.LapValidation) bool { return item.Over }):
		return &model.TimingBias{Direction: model.BiasOver, AvgMagnitude: avg, Laps: n}
	case lo.EveryBy(recent, func(item model.LapValidation) bool {
		return item.SectorSum < item.ReferenceLapTime
	}):
		return &model.TimingBias{Direction: model.BiasUnder, AvgMagnitude: avg, Laps: n}
	}
	return nil
}

// detectTrend reports the growth of the discrepancy if it grew monotonically
// across the recent window by more than the configured delta.
func (v *LapValidator) detectTrend() (float64, bool) {
	n := v.t.BiasWindow
	if n < 3 || len(v.history) < n {
		return 0, false
	}
	recent := v.history[len(v.history)-n:]
	for i := 1; i < len(recent); i++ {
		if recent[i].DiscrepancySeconds < recent[i-1].DiscrepancySeconds {
			return 0, false
		}
	}
	trend := recent[len(recent)-1].DiscrepancySeconds - recent[0].DiscrepancySeconds
	return trend, trend > v.t.TrendDelta
}

// Summary aggregates the most recent validations.
func (v *LapValidator) Summary() model.ValidationSummary {
	ret := model.ValidationSummary{TotalValidations: v.total, Status: "none"}
	if len(v.history) == 0 {
		return ret
	}
	recent := v.history[max(0, len(v.history)-v.t.SummaryWindow):]
	n := float64(len(recent))
	ret.RecentValidations = len(recent)
	ret.SuccessRate = float64(lo.CountBy(recent,
		func(item model.LapValidation) bool { return item.IsValid })) / n * 100
	ret.AvgDiscrepancy = lo.SumBy(recent,
		func(item model.LapValidation) float64 { return item.DiscrepancySeconds }) / n
	ret.AvgConfidence = lo.SumBy(recent,
		func(item model.LapValidation) float64 { return item.Confidence }) / n
	switch {
	case ret.SuccessRate > 90:
		ret.Status = "excellent"
	case ret.SuccessRate > 75:
		ret.Status = StatusGood
	default:
		ret.Status = StatusPoor
	}
	return ret
}

// SuggestCorrection proposes how a failed validation could be compensated.
// Returns nil for valid laps.
func SuggestCorrection(val *model.LapValidation) *model.Correction {
	if val == nil || val.IsValid {
		return nil
	}
	ret := &model.Correction{
		Discrepancy: val.DiscrepancySeconds,
		Suggestions: []string{},
	}
	if val.SectorSum > 0 {
		ret.ProportionalFactor = val.ReferenceLapTime / val.SectorSum
		ret.Suggestions = append(ret.Suggestions,
			fmt.Sprintf("apply proportional correction factor: %.6f", ret.ProportionalFactor))
	}
	if val.DiscrepancySeconds < 1.0 && val.SectorCount > 0 {
		ret.PerSectorAdjustment = (val.ReferenceLapTime - val.SectorSum) / float64(val.SectorCount)
		ret.HasPerSectorAdjusted = true
		ret.Suggestions = append(ret.Suggestions,
			fmt.Sprintf("distribute %.3fs across sectors: ~%.3fs per sector",
				val.DiscrepancySeconds, math.Abs(ret.PerSectorAdjustment)))
	}
	return ret
}

func (v *LapValidator) Reset() {
	v.history = v.history[:0]
}

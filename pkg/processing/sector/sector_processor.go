// Package sector contains the timing engine which splits a stream of
// telemetry samples into sector and lap times.
package sector

import (
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/layout"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/tracker"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/utils"
)

const (
	StateUninitialized = "UNINITIALIZED"
	StateActive        = "ACTIVE"
)

// CrossingScorer rates boundary crossings. Implementations only observe,
// they never influence the timing itself.
type CrossingScorer interface {
	Score(prev, curr model.TelemetrySample, idx int, crossingTime float64) float64
	Observe(idx int, crossingTime float64)
}

type Stats struct {
	Samples        int `json:"samples"`
	IgnoredSamples int `json:"ignoredSamples"`
	Crossings      int `json:"crossings"`
	Laps           int `json:"laps"`
	ValidLaps      int `json:"validLaps"`
	AbortedLaps    int `json:"abortedLaps"`
	Resets         int `json:"resets"`
}

// SectorProcessor is the timing state machine. It is not safe for concurrent
// use, each session needs its own instance.
//
//nolint:lll // readability
type SectorProcessor struct {
	layout            *layout.Layout
	tr                *tracker.Tracker
	hysteresis        tracker.Hysteresis
	scorer            CrossingScorer
	maxSectorDuration float64
	rearmAtFrameTime  bool
	crossingCap       int
	sectorCap         int
	lapCap            int
	l                 *log.Logger

	state         string
	lapNumber     int
	currentSector int
	sectorStart   float64
	lapStart      float64
	lastTime      float64
	cleanStart    bool // lap timing started at the start/finish line
	partialSector bool // current sector was entered somewhere in the middle
	offTrack      bool
	completed     []model.SectorTime // sectors of the current lap

	bestSectors   []*float64
	bestLap       *float64
	crossings     []model.SectorCrossing
	sectorHistory []model.SectorTime
	laps          []*model.LapRecord
	stats         Stats
}

type Option func(p *SectorProcessor)

func WithLayout(l *layout.Layout) Option {
	return func(p *SectorProcessor) {
		p.layout = l
	}
}

func WithHysteresis(h tracker.Hysteresis) Option {
	return func(p *SectorProcessor) {
		p.hysteresis = h
	}
}

func WithCrossingScorer(s CrossingScorer) Option {
	return func(p *SectorProcessor) {
		p.scorer = s
	}
}

// WithMaxSectorDuration sets the limit (seconds) above which sector times are
// annotated as implausible and ignored for best times.
func WithMaxSectorDuration(d float64) Option {
	return func(p *SectorProcessor) {
		p.maxSectorDuration = d
	}
}

// WithRearmAtFrameTime controls the timestamp used to close a lap and to
// start the next one. If true (default) the timestamp of the frame which
// detected the wrap is used, otherwise the interpolated finish line crossing.
func WithRearmAtFrameTime(b bool) Option {
	return func(p *SectorProcessor) {
		p.rearmAtFrameTime = b
	}
}

func WithHistory(crossings, sectors, laps int) Option {
	return func(p *SectorProcessor) {
		p.crossingCap = crossings
		p.sectorCap = sectors
		p.lapCap = laps
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *SectorProcessor) {
		p.l = l
	}
}

// NewSectorProcessor creates a timing engine. Without a layout the lap is
// treated as a single sector.
func NewSectorProcessor(opts ...Option) *SectorProcessor {
	ret := &SectorProcessor{
		hysteresis:        tracker.DefaultHysteresis,
		maxSectorDuration: 300,
		rearmAtFrameTime:  true,
		crossingCap:       100,
		sectorCap:         50,
		lapCap:            20,
		l:                 log.Default().Named("sector"),
		state:             StateUninitialized,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.layout == nil {
		ret.layout, _ = layout.EqualDivision(1)
	}
	ret.tr = tracker.New(tracker.WithHysteresis(ret.hysteresis))
	ret.bestSectors = make([]*float64, ret.layout.Len())
	return ret
}

// Process feeds a sample into the state machine. A LapRecord is returned
// if a lap was finished with this sample.
// Samples with non-finite values are ignored.
func (p *SectorProcessor) Process(s model.TelemetrySample) *model.LapRecord {
	if !s.Usable() {
		p.stats.IgnoredSamples++
		return nil
	}
	p.stats.Samples++
	ev := p.tr.Update(s)
	switch ev {
	case tracker.EventFirstSample:
		p.start(s)
		return nil
	case tracker.EventLapDecreased:
		p.l.Debug("lap number decreased, resetting",
			log.Int("lap", p.lapNumber),
			log.Int("newLap", s.LapNumber))
		p.stats.Resets++
		p.start(s)
		return nil
	case tracker.EventNormal, tracker.EventLapIncreased:
	}

	prev := p.tr.Previous()
	if s.OffTrack {
		p.offTrack = true
	}
	var ret *model.LapRecord
	switch {
	case p.tr.Wrapped():
		ret = p.handleWrap(prev, s)
	case ev == tracker.EventLapIncreased:
		p.evalCrossings(prev, s)
		ret = p.handleLapIncrease(s)
	default:
		p.evalCrossings(prev, s)
	}
	if s.OffTrack {
		p.offTrack = true
	}
	p.lastTime = s.Time
	return ret
}

// start (re)initializes the timing of the current lap with s.
// Best times and histories are kept.
func (p *SectorProcessor) start(s model.TelemetrySample) {
	idx := p.layout.SectorAt(s.TrackPosition)
	p.arm(s.LapNumber, s.Time, idx, idx == 0 && s.TrackPosition < p.hysteresis.Low)
	p.offTrack = s.OffTrack
	p.lastTime = s.Time
	p.state = StateActive
}

func (p *SectorProcessor) arm(lapNum int, t float64, idx int, clean bool) {
	p.lapNumber = lapNum
	p.currentSector = idx
	p.sectorStart = t
	p.lapStart = t
	p.cleanStart = clean
	p.partialSector = !clean
	p.offTrack = false
	p.completed = make([]model.SectorTime, 0, p.layout.Len())
}

// evalCrossings checks the boundaries after the current sector for crossings
// between prev and curr. Movement across the finish line is not handled here.
func (p *SectorProcessor) evalCrossings(prev, curr model.TelemetrySample) {
	for idx := p.currentSector + 1; idx < p.layout.Len(); idx++ {
		b := p.layout.Start(idx)
		if !tracker.Crossed(prev.TrackPosition, curr.TrackPosition, b, false) {
			return
		}
		t, c := p.crossing(prev, curr, idx, b, false)
		p.closeSector(t, c)
		p.currentSector = idx
	}
}

// crossing computes the crossing time of boundary idx located at b.
func (p *SectorProcessor) crossing(
	prev, curr model.TelemetrySample,
	idx int,
	b float64,
	wrapped bool,
) (float64, model.SectorCrossing) {
	t, ok := tracker.Interpolate(
		prev.TrackPosition, prev.Time, curr.TrackPosition, curr.Time, b, wrapped)
	c := model.SectorCrossing{
		SectorIndex:  idx,
		CrossingTime: t,
		Confidence:   1,
		Method:       model.CrossingInterpolated,
	}
	if !ok {
		c.Method = model.CrossingDirect
	}
	if p.scorer != nil {
		c.Confidence = p.scorer.Score(prev, curr, idx, t)
		p.scorer.Observe(idx, t)
	}
	p.crossings = utils.AppendBounded(p.crossings, c, p.crossingCap)
	p.stats.Crossings++
	return t, c
}

// closeSector finishes the current sector at time t.
func (p *SectorProcessor) closeSector(t float64, c model.SectorCrossing) {
	defer func() {
		p.partialSector = false
		p.sectorStart = t
	}()
	if p.partialSector {
		return
	}
	d := t - p.sectorStart
	st := model.SectorTime{
		SectorIndex: p.currentSector,
		Duration:    d,
		LapNumber:   p.lapNumber,
		Confidence:  c.Confidence,
	}
	switch {
	case d < 0:
		st.Notes = append(st.Notes, fmt.Sprintf("negative duration: %.3fs", d))
	case d > p.maxSectorDuration:
		st.Notes = append(st.Notes, fmt.Sprintf("duration exceeds %.0fs: %.3fs",
			p.maxSectorDuration, d))
	case d == 0:
		st.Notes = append(st.Notes, "zero duration")
	}
	p.completed = append(p.completed, st)
	p.sectorHistory = utils.AppendBounded(p.sectorHistory, st, p.sectorCap)

	if p.cleanStart && !p.offTrack && d > 0 && d <= p.maxSectorDuration {
		if best := p.bestSectors[st.SectorIndex]; best == nil || d < *best {
			p.bestSectors[st.SectorIndex] = &d
		}
	}
	p.l.Debug("sector completed",
		log.Int("lap", p.lapNumber),
		log.Int("sector", st.SectorIndex),
		log.Float64("duration", d),
		log.Float64("confidence", st.Confidence))
}

func (p *SectorProcessor) handleWrap(prev, s model.TelemetrySample) *model.LapRecord {
	// boundaries between prev and the finish line
	for idx := p.currentSector + 1; idx < p.layout.Len(); idx++ {
		b := p.layout.Start(idx)
		if prev.TrackPosition >= b {
			continue
		}
		t, c := p.crossing(prev, s, idx, b, true)
		p.closeSector(t, c)
		p.currentSector = idx
	}
	finish, c := p.crossing(prev, s, 0, 0, true)
	closeTime := finish
	if p.rearmAtFrameTime {
		closeTime = s.Time
	}
	p.closeSector(closeTime, c)

	var ret *model.LapRecord
	finished := p.lapNumber
	if len(p.completed) > 0 {
		ret = p.finishLap(closeTime, finish, false)
	}

	next := s.LapNumber
	if next <= finished {
		next = finished + 1
	}
	p.arm(next, closeTime, 0, true)
	// boundaries passed after the finish line within this frame
	p.evalCrossings(model.TelemetrySample{
		TrackPosition: 0, Time: closeTime, LapNumber: next,
	}, s)
	return ret
}

// handleLapIncrease is called when the lap counter advanced without a
// position wrap.
func (p *SectorProcessor) handleLapIncrease(s model.TelemetrySample) *model.LapRecord {
	if s.LapNumber <= p.lapNumber {
		// counter catches up with a wrap already handled
		return nil
	}
	if s.TrackPosition > p.hysteresis.High {
		// counter is ahead of the position, the wrap is expected shortly
		return nil
	}
	if len(p.completed) == 0 {
		p.lapNumber = s.LapNumber
		return nil
	}
	p.l.Debug("lap number increased without wrap",
		log.Int("lap", p.lapNumber),
		log.Int("newLap", s.LapNumber),
		log.Float64("trackPos", s.TrackPosition))
	ret := p.finishLap(s.Time, 0, true)
	p.stats.AbortedLaps++
	idx := p.layout.SectorAt(s.TrackPosition)
	p.arm(s.LapNumber, s.Time, idx, idx == 0 && s.TrackPosition < p.hysteresis.Low)
	return ret
}

func (p *SectorProcessor) finishLap(end, finish float64, aborted bool) *model.LapRecord {
	durations := lo.Map(p.completed, func(st model.SectorTime, _ int) float64 {
		return st.Duration
	})
	complete := !aborted && p.cleanStart && len(durations) == p.layout.Len()
	ret := &model.LapRecord{
		LapNumber:       p.lapNumber,
		SectorDurations: durations,
		Sectors:         slices.Clone(p.completed),
		TotalDuration:   lo.Sum(durations),
		IsComplete:      complete,
		IsOutLap:        !p.cleanStart || p.offTrack,
		StartTime:       p.lapStart,
		EndTime:         end,
	}
	if !aborted {
		ret.FinishCrossingTime = finish
	}
	ret.IsValid = complete && !p.offTrack &&
		lo.EveryBy(durations, func(d float64) bool {
			return d > 0 && d <= p.maxSectorDuration
		})
	if ret.IsValid {
		p.stats.ValidLaps++
		if p.bestLap == nil || ret.TotalDuration < *p.bestLap {
			v := ret.TotalDuration
			p.bestLap = &v
		}
	}
	p.stats.Laps++
	p.laps = utils.AppendBounded(p.laps, ret, p.lapCap)
	p.l.Debug("lap completed",
		log.Int("lap", ret.LapNumber),
		log.Float64("total", ret.TotalDuration),
		log.Bool("complete", ret.IsComplete),
		log.Bool("valid", ret.IsValid))
	return ret
}

// SetLayout replaces the layout. The timing of the current lap and the best
// sector times are reset, the best lap time is kept.
func (p *SectorProcessor) SetLayout(l *layout.Layout) {
	if l == nil || l.Equal(p.layout) {
		return
	}
	p.layout = l
	p.bestSectors = make([]*float64, l.Len())
	if r, ok := p.scorer.(interface{ Reset() }); ok {
		r.Reset()
	}
	if p.state == StateActive {
		p.start(p.tr.Current())
	}
	p.l.Info("sector layout changed",
		log.String("source", l.Source()),
		log.Int("sectors", l.Len()))
}

// Reset returns to the uninitialized state and drops all best times and
// histories.
func (p *SectorProcessor) Reset() {
	p.tr.Reset()
	p.state = StateUninitialized
	p.lapNumber = 0
	p.currentSector = 0
	p.completed = nil
	p.bestSectors = make([]*float64, p.layout.Len())
	p.bestLap = nil
	p.crossings = nil
	p.sectorHistory = nil
	p.laps = nil
	p.stats.Resets++
}

func (p *SectorProcessor) Layout() *layout.Layout {
	return p.layout
}

func (p *SectorProcessor) State() string {
	return p.state
}

func (p *SectorProcessor) Stats() Stats {
	return p.stats
}

// Progress describes the current lap.
func (p *SectorProcessor) Progress() model.Progress {
	ret := model.Progress{
		Initialized:          p.state == StateActive,
		LapNumber:            p.lapNumber,
		CurrentSectorIndex:   p.currentSector,
		CurrentSector:        p.currentSector + 1,
		TotalSectors:         p.layout.Len(),
		CompletedSectorCount: len(p.completed),
		CurrentLapSplits: lo.Map(p.completed, func(st model.SectorTime, _ int) float64 {
			return st.Duration
		}),
		BestSectorTimes: p.BestSectorTimes(),
		BestLapTime:     p.BestLapTime(),
		Boundaries:      p.layout.Fractions(),
	}
	if ret.Initialized {
		ret.ElapsedInSector = math.Max(0, p.lastTime-p.sectorStart)
	}
	return ret
}

func (p *SectorProcessor) BestSectorTimes() []*float64 {
	return lo.Map(p.bestSectors, func(v *float64, _ int) *float64 {
		if v == nil {
			return nil
		}
		c := *v
		return &c
	})
}

func (p *SectorProcessor) BestLapTime() *float64 {
	if p.bestLap == nil {
		return nil
	}
	v := *p.bestLap
	return &v
}

// TheoreticalBest returns the sum of the best sector times. The second result
// is false if not every sector has a best time yet.
func (p *SectorProcessor) TheoreticalBest() (float64, bool) {
	if lo.Contains(p.bestSectors, nil) {
		return 0, false
	}
	return lo.SumBy(p.bestSectors, func(v *float64) float64 { return *v }), true
}

// Compare compares the sectors of lap with the best sector times.
func (p *SectorProcessor) Compare(lap *model.LapRecord) model.LapComparison {
	ret := model.LapComparison{
		LapNumber: lap.LapNumber,
		Sectors:   make([]model.SectorComparison, 0, len(lap.Sectors)),
	}
	allBest := len(lap.Sectors) == p.layout.Len()
	for _, st := range lap.Sectors {
		sc := model.SectorComparison{SectorIndex: st.SectorIndex, Time: st.Duration}
		if st.SectorIndex < len(p.bestSectors) && p.bestSectors[st.SectorIndex] != nil {
			best := *p.bestSectors[st.SectorIndex]
			sc.BestTime = &best
			sc.Delta = st.Duration - best
			sc.IsPersonalBest = math.Abs(sc.Delta) < 0.001
			ret.TotalDelta += sc.Delta
		}
		allBest = allBest && sc.IsPersonalBest
		ret.Sectors = append(ret.Sectors, sc)
	}
	ret.IsTheoreticalBest = allBest
	return ret
}

// RecentLaps returns up to n of the most recently finished laps.
func (p *SectorProcessor) RecentLaps(n int) []*model.LapRecord {
	return slices.Clone(utils.Last(p.laps, n))
}

func (p *SectorProcessor) Crossings() []model.SectorCrossing {
	return slices.Clone(p.crossings)
}

func (p *SectorProcessor) SectorHistory() []model.SectorTime {
	return slices.Clone(p.sectorHistory)
}

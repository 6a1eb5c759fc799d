// Package processing embeds the sector timing into a stream of telemetry
// frames. Each Processor handles exactly one session.
package processing

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/config"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/layout"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/sector"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/tracker"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/util"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/validation"
)

// keys added to every frame
const (
	KeyInitialized           = "sector_timing_initialized"
	KeyMethod                = "sector_timing_method"
	KeyCurrentSector         = "current_sector"
	KeyCurrentSectorIndex    = "current_sector_index"
	KeyTotalSectors          = "total_sectors"
	KeyCurrentSectorTime     = "current_sector_time"
	KeyCompletedSectorsCount = "completed_sectors_count"
	KeyCurrentLapSectorTimes = "current_lap_sector_times"
	KeyBestSectorTimes       = "best_sector_times"
	KeyBestLapTime           = "best_lap_time"
	KeySectorBoundaries      = "sector_boundaries"
	KeyError                 = "sector_timing_error"
)

// keys added when a lap was completed
const (
	KeySectorTimes        = "sector_times"
	KeySectorTotalTime    = "sector_total_time"
	KeySectorLapComplete  = "sector_lap_complete"
	KeySectorLapValid     = "sector_lap_valid"
	KeyCompletedLapNumber = "completed_lap_number"
	KeySectorLapConf      = "sector_lap_confidence"
	KeySectorLapReliable  = "sector_lap_reliable"
	KeySectorValidation   = "sector_validation"
)

var ErrSessionClosed = errors.New("session closed")

// SectorTimeKey returns the frame key for the 0-based sector index idx.
func SectorTimeKey(idx int) string {
	return fmt.Sprintf("sector%d_time", idx+1)
}

// LapHandler is called for every completed lap.
type LapHandler func(report *model.LapReport)

type Statistics struct {
	SessionID       string                   `json:"sessionId"`
	Frames          int                      `json:"frames"`
	MalformedFrames int                      `json:"malformedFrames"`
	Errors          int                      `json:"errors"`
	Laps            int                      `json:"laps"`
	LastError       string                   `json:"lastError,omitempty"`
	Engine          sector.Stats             `json:"engine"`
	Reliability     model.ReliabilitySummary `json:"reliability"`
	Validation      model.ValidationSummary  `json:"validation"`
}

type Processor struct {
	mu          sync.Mutex
	sessionID   string
	layoutSrc   layout.Source
	fallback    bool
	timing      config.TimingConfig
	extractor   *util.FrameExtractor
	engine      *sector.SectorProcessor
	scorer      *validation.ConfidenceScorer
	reliability *validation.SectorReliability
	validator   *validation.LapValidator
	handlers    []LapHandler
	metrics     *metrics
	stats       Statistics
	closed      bool
	l           *log.Logger
}

type ProcessorOption func(proc *Processor)

func WithLayoutSource(src layout.Source) ProcessorOption {
	return func(proc *Processor) {
		proc.layoutSrc = src
	}
}

// WithFallbackSingleSector uses a single whole-lap sector if the layout
// cannot be resolved.
func WithFallbackSingleSector(b bool) ProcessorOption {
	return func(proc *Processor) {
		proc.fallback = b
	}
}

func WithTimingConfig(cfg config.TimingConfig) ProcessorOption {
	return func(proc *Processor) {
		proc.timing = cfg
	}
}

func WithExtractor(e *util.FrameExtractor) ProcessorOption {
	return func(proc *Processor) {
		proc.extractor = e
	}
}

func WithLapHandler(h LapHandler) ProcessorOption {
	return func(proc *Processor) {
		proc.handlers = append(proc.handlers, h)
	}
}

func WithSessionID(id string) ProcessorOption {
	return func(proc *Processor) {
		proc.sessionID = id
	}
}

func WithLogger(l *log.Logger) ProcessorOption {
	return func(proc *Processor) {
		proc.l = l
	}
}

// NewSession creates an independent timing session.
//
//nolint:funlen // by design
func NewSession(opts ...ProcessorOption) (*Processor, error) {
	ret := &Processor{
		timing: config.DefaultTimingConfig(),
		l:      log.Default().Named("processing"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.sessionID == "" {
		ret.sessionID = uuid.New().String()
	}
	if ret.extractor == nil {
		ret.extractor = util.NewFrameExtractor()
	}
	l, err := layout.Resolve(ret.layoutSrc)
	if err != nil {
		if !ret.fallback {
			return nil, err
		}
		ret.l.Warn("sector layout unavailable, using single sector",
			log.ErrorField(err))
		//nolint:errcheck // 1 is always valid
		l, _ = layout.EqualDivision(1)
	}
	cfg := ret.timing
	ret.scorer = validation.NewConfidenceScorer(
		validation.WithVarianceThreshold(cfg.VarianceThreshold),
		validation.WithCrossingHistory(cfg.CrossingHistory),
	)
	ret.reliability = validation.NewSectorReliability(
		validation.WithSectorBounds(cfg.MinSectorDuration, cfg.MaxSectorDuration),
		validation.WithOutlierThreshold(cfg.OutlierThreshold),
		validation.WithSectorHistory(cfg.SectorHistory),
	)
	thresholds := validation.DefaultThresholds
	thresholds.MaxAbs = cfg.MaxAbsDiscrepancy
	thresholds.MaxPct = cfg.MaxPctDiscrepancy
	thresholds.HistoryCapacity = cfg.ValidationHistory
	ret.validator = validation.NewLapValidator(
		validation.WithThresholds(thresholds),
		validation.WithValidatorLogger(ret.l.Named("validation")),
	)
	ret.engine = sector.NewSectorProcessor(
		sector.WithLayout(l),
		sector.WithHysteresis(tracker.Hysteresis{
			High: cfg.HysteresisHigh,
			Low:  cfg.HysteresisLow,
		}),
		sector.WithCrossingScorer(ret.scorer),
		sector.WithMaxSectorDuration(cfg.MaxSectorDuration),
		sector.WithRearmAtFrameTime(cfg.RearmAtFrameTime),
		sector.WithHistory(cfg.CrossingHistory, cfg.SectorHistory, cfg.LapHistory),
		sector.WithLogger(ret.l.Named("sector")),
	)
	ret.stats.SessionID = ret.sessionID
	ret.metrics = newMetrics(ret.sessionID, ret.l)
	ret.l.Info("session created",
		log.String("session", ret.sessionID),
		log.String("layout", l.Source()),
		log.Int("sectors", l.Len()))
	return ret, nil
}

// ProcessFrame returns a copy of frame augmented with the sector timing keys.
// The input frame is never modified. Errors are reported within the returned
// frame (key KeyError), they never abort the caller's loop.
func (p *Processor) ProcessFrame(frame map[string]any) (ret map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("processing frame: %v", r)
			p.l.Error("recovered from panic", log.ErrorField(err))
			ret = p.errorFrame(frame, err)
		}
	}()

	p.stats.Frames++
	p.metrics.inc(p.metrics.frames)
	if p.closed {
		return p.errorFrame(frame, ErrSessionClosed)
	}
	ret = maps.Clone(frame)
	if ret == nil {
		ret = make(map[string]any)
	}
	sample, err := p.extractor.Extract(frame)
	if err != nil {
		p.stats.MalformedFrames++
		p.metrics.inc(p.metrics.malformed)
		p.l.Debug("malformed frame", log.ErrorField(err))
		p.addProgress(ret)
		return ret
	}
	lap := p.engine.Process(sample)
	p.addProgress(ret)
	if lap != nil {
		p.addLap(ret, p.completeLap(lap, frame))
	}
	return ret
}

func (p *Processor) errorFrame(frame map[string]any, err error) map[string]any {
	p.stats.Errors++
	p.stats.LastError = err.Error()
	p.metrics.inc(p.metrics.errors)
	ret := maps.Clone(frame)
	if ret == nil {
		ret = make(map[string]any)
	}
	ret[KeyError] = err.Error()
	return ret
}

func (p *Processor) completeLap(lap *model.LapRecord, frame map[string]any) *model.LapReport {
	report := p.reliability.AssessLap(lap)
	report.SessionID = p.sessionID
	if ref, ok := p.extractor.ReferenceLapTime(frame); ok && lap.IsComplete {
		v := p.validator.Validate(lap.LapNumber, lap.SectorDurations, ref)
		report.Validation = &v
	}
	p.stats.Laps++
	p.metrics.inc(p.metrics.laps)
	p.l.Info("lap completed",
		log.Int("lap", lap.LapNumber),
		log.Float64("time", lap.TotalDuration),
		log.Bool("valid", lap.IsValid),
		log.Float64("confidence", report.Confidence))
	for _, h := range p.handlers {
		h(report)
	}
	return report
}

func (p *Processor) addProgress(frame map[string]any) {
	pr := p.engine.Progress()
	frame[KeyInitialized] = pr.Initialized
	frame[KeyMethod] = p.engine.Layout().Source()
	frame[KeyCurrentSector] = pr.CurrentSector
	frame[KeyCurrentSectorIndex] = pr.CurrentSectorIndex
	frame[KeyTotalSectors] = pr.TotalSectors
	frame[KeyCurrentSectorTime] = pr.ElapsedInSector
	frame[KeyCompletedSectorsCount] = pr.CompletedSectorCount
	frame[KeyCurrentLapSectorTimes] = pr.CurrentLapSplits
	frame[KeyBestSectorTimes] = pr.BestSectorTimes
	if pr.BestLapTime != nil {
		frame[KeyBestLapTime] = *pr.BestLapTime
	} else {
		frame[KeyBestLapTime] = nil
	}
	frame[KeySectorBoundaries] = pr.Boundaries
}

func (p *Processor) addLap(frame map[string]any, report *model.LapReport) {
	lap := report.Lap
	frame[KeySectorTimes] = lap.SectorDurations
	frame[KeySectorTotalTime] = lap.TotalDuration
	frame[KeySectorLapComplete] = lap.IsComplete
	frame[KeySectorLapValid] = lap.IsValid
	frame[KeyCompletedLapNumber] = lap.LapNumber
	frame[KeySectorLapConf] = report.Confidence
	frame[KeySectorLapReliable] = report.Reliable
	for _, st := range lap.Sectors {
		frame[SectorTimeKey(st.SectorIndex)] = st.Duration
	}
	if report.Validation != nil {
		frame[KeySectorValidation] = report.Validation
	}
}

// SetLayout replaces the sector layout of the running session.
func (p *Processor) SetLayout(l *layout.Layout) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.SetLayout(l)
}

func (p *Processor) Layout() *layout.Layout {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Layout()
}

func (p *Processor) SessionID() string {
	return p.sessionID
}

func (p *Processor) Progress() model.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Progress()
}

// RecentLaps returns up to n of the most recently completed laps.
func (p *Processor) RecentLaps(n int) []*model.LapRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.RecentLaps(n)
}

func (p *Processor) Compare(lap *model.LapRecord) model.LapComparison {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Compare(lap)
}

func (p *Processor) TheoreticalBest() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.TheoreticalBest()
}

func (p *Processor) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := p.stats
	ret.Engine = p.engine.Stats()
	ret.Reliability = p.reliability.Summary(p.scorer.Crossings())
	ret.Validation = p.validator.Summary()
	return ret
}

// Reset drops all timing state including best times.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.Reset()
	p.scorer.Reset()
	p.reliability.Reset()
	p.validator.Reset()
}

// Close ends the session. Frames passed afterwards are returned with an
// error marker.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.l.Info("session closed",
		log.String("session", p.sessionID),
		log.Int("frames", p.stats.Frames),
		log.Int("laps", p.stats.Laps))
	return nil
}

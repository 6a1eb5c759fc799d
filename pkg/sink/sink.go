// Package sink forwards completed laps to external systems.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/utils/broadcast"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Sink receives lap reports. Write is never called concurrently for the same
// sink.
type Sink interface {
	Name() string
	Write(ctx context.Context, report *model.LapReport) error
	Close() error
}

// column names used by ToRow
const (
	ColSessionID   = "session_id"
	ColLapNumber   = "lap_number"
	ColTotalTime   = "total_time"
	ColIsComplete  = "is_complete"
	ColIsValid     = "is_valid"
	ColIsOutLap    = "is_out_lap"
	ColConfidence  = "confidence"
	ColReliable    = "reliable"
	ColStartTime   = "start_time"
	ColEndTime     = "end_time"
	ColDiscrepancy = "discrepancy"
)

// SectorColumn returns the column name of the 0-based sector index idx.
func SectorColumn(idx int) string {
	return fmt.Sprintf("sector%d_time", idx+1)
}

// ToRow flattens a report into a single row with one column per sector.
func ToRow(report *model.LapReport) map[string]any {
	lap := report.Lap
	ret := map[string]any{
		ColSessionID:  report.SessionID,
		ColLapNumber:  lap.LapNumber,
		ColTotalTime:  lap.TotalDuration,
		ColIsComplete: lap.IsComplete,
		ColIsValid:    lap.IsValid,
		ColIsOutLap:   lap.IsOutLap,
		ColConfidence: report.Confidence,
		ColReliable:   report.Reliable,
		ColStartTime:  lap.StartTime,
		ColEndTime:    lap.EndTime,
	}
	for _, st := range lap.Sectors {
		ret[SectorColumn(st.SectorIndex)] = st.Duration
	}
	if report.Validation != nil {
		ret[ColDiscrepancy] = report.Validation.DiscrepancySeconds
	}
	return ret
}

// LogSink logs every lap.
type LogSink struct {
	l *log.Logger
}

func NewLogSink(l *log.Logger) *LogSink {
	return &LogSink{l: l}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, report *model.LapReport) error {
	s.l.Info("lap",
		log.String("session", report.SessionID),
		log.Int("lap", report.Lap.LapNumber),
		log.Float64("time", report.Lap.TotalDuration),
		log.Floats64("sectors", report.Lap.SectorDurations),
		log.Bool("valid", report.Lap.IsValid),
		log.Float64("confidence", report.Confidence),
		log.Strings("notes", report.Notes))
	return nil
}

func (s *LogSink) Close() error { return nil }

// Dispatcher hands lap reports to all sinks. Each sink is served by its own
// goroutine so a slow sink does not block the frame processing.
type Dispatcher struct {
	mu          sync.Mutex
	ctx         context.Context
	source      chan *model.LapReport
	srv         broadcast.Server[*model.LapReport]
	sinks       []Sink
	wg          sync.WaitGroup
	closed      bool
	l           *log.Logger
	errs        atomic.Int64
	skipped     atomic.Int64
	sendTimeout time.Duration
	bufferSize  int
}

type DispatcherOption func(d *Dispatcher)

func WithLogger(l *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.l = l
	}
}

// WithSendTimeout sets the time a lap waits for a busy sink before it is
// skipped for that sink.
func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.sendTimeout = t
	}
}

// WithBufferSize sets the number of laps queued per sink.
func WithBufferSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.bufferSize = n
	}
}

func NewDispatcher(ctx context.Context, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ctx:         ctx,
		source:      make(chan *model.LapReport),
		sinks:       sinks,
		l:           log.Default().Named("sink"),
		sendTimeout: time.Second,
		bufferSize:  100,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.srv = broadcast.NewServer(ctx, "laps", d.source,
		broadcast.WithBufferSize[*model.LapReport](d.bufferSize),
		broadcast.WithSendTimeout[*model.LapReport](d.sendTimeout),
		broadcast.WithSkipHandler(d.skip),
		broadcast.WithLogger[*model.LapReport](d.l))
	for _, s := range sinks {
		ch := d.srv.Subscribe()
		d.wg.Add(1)
		go d.serve(s, ch)
	}
	return d
}

func (d *Dispatcher) serve(s Sink, ch <-chan *model.LapReport) {
	defer d.wg.Done()
	for report := range ch {
		if err := s.Write(d.ctx, report); err != nil {
			d.errs.Add(1)
			d.l.Warn("could not write lap",
				log.String("sink", s.Name()),
				log.Int("lap", report.Lap.LapNumber),
				log.ErrorField(err))
		}
	}
}

func (d *Dispatcher) skip(report *model.LapReport) {
	d.skipped.Add(1)
	d.l.Warn("sink busy, lap skipped",
		log.String("session", report.SessionID),
		log.Int("lap", report.Lap.LapNumber))
}

// Handle passes report to the sinks. It may be used as lap handler of a
// processing session.
func (d *Dispatcher) Handle(report *model.LapReport) {
	if err := d.Dispatch(report); err != nil {
		d.l.Debug("lap dropped", log.ErrorField(err))
	}
}

func (d *Dispatcher) Dispatch(report *model.LapReport) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.source <- report:
		return nil
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

// Errors returns the number of failed writes.
func (d *Dispatcher) Errors() int64 {
	return d.errs.Load()
}

// Skipped returns the number of laps not delivered to a sink because it was
// busy.
func (d *Dispatcher) Skipped() int64 {
	return d.skipped.Load()
}

// Close waits until all pending laps are written and closes the sinks.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.source)
	d.mu.Unlock()

	d.wg.Wait()
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

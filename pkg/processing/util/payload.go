package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

var ErrMalformedFrame = errors.New("malformed telemetry frame")

// key aliases in order of preference
var (
	PositionKeys  = []string{"track_position", "LapDistPct", "lap_dist_pct", "trackPos"}
	TimeKeys      = []string{"session_time", "SessionTime", "SessionTimeSecs", "timestamp", "time"}
	LapKeys       = []string{"lap_number", "Lap", "lap"}
	OnTrackKeys   = []string{"on_track", "IsOnTrack", "OnTrack"}
	ReferenceKeys = []string{"LapLastLapTime", "last_lap_time", "reference_lap_time"}
)

// FrameExtractor reads telemetry samples from generic frames.
// The key lookup follows the configured aliases.
type FrameExtractor struct {
	positionKeys  []string
	timeKeys      []string
	lapKeys       []string
	onTrackKeys   []string
	referenceKeys []string
}

type ExtractorOption func(e *FrameExtractor)

// WithPositionKeys puts additional keys in front of the default aliases
func WithPositionKeys(keys ...string) ExtractorOption {
	return func(e *FrameExtractor) {
		e.positionKeys = append(keys, e.positionKeys...)
	}
}

func WithTimeKeys(keys ...string) ExtractorOption {
	return func(e *FrameExtractor) {
		e.timeKeys = append(keys, e.timeKeys...)
	}
}

func WithLapKeys(keys ...string) ExtractorOption {
	return func(e *FrameExtractor) {
		e.lapKeys = append(keys, e.lapKeys...)
	}
}

func NewFrameExtractor(opts ...ExtractorOption) *FrameExtractor {
	ret := &FrameExtractor{
		positionKeys:  PositionKeys,
		timeKeys:      TimeKeys,
		lapKeys:       LapKeys,
		onTrackKeys:   OnTrackKeys,
		referenceKeys: ReferenceKeys,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Extract builds a sample from frame. Missing or non numeric position, time
// or lap values result in an error wrapping ErrMalformedFrame.
// A missing on-track flag means the car is on track.
func (e *FrameExtractor) Extract(frame map[string]any) (model.TelemetrySample, error) {
	var ret model.TelemetrySample
	var err error
	if ret.TrackPosition, err = e.number(frame, e.positionKeys); err != nil {
		return ret, err
	}
	if ret.TrackPosition < 0 || ret.TrackPosition > 1 {
		return ret, fmt.Errorf("track position %v out of range: %w",
			ret.TrackPosition, ErrMalformedFrame)
	}
	if ret.Time, err = e.number(frame, e.timeKeys); err != nil {
		return ret, err
	}
	lap, err := e.number(frame, e.lapKeys)
	if err != nil {
		return ret, err
	}
	ret.LapNumber = int(lap)
	if v, ok := lookup(frame, e.onTrackKeys); ok {
		if b, ok := v.(bool); ok {
			ret.OffTrack = !b
		}
	}
	return ret, nil
}

// ReferenceLapTime returns the lap time reported by the simulator, if any.
// Values <= 0 are treated as not available.
func (e *FrameExtractor) ReferenceLapTime(frame map[string]any) (float64, bool) {
	v, ok := lookup(frame, e.referenceKeys)
	if !ok {
		return 0, false
	}
	f, err := toFloat(v)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

func (e *FrameExtractor) number(frame map[string]any, keys []string) (float64, error) {
	v, ok := lookup(frame, keys)
	if !ok {
		return 0, fmt.Errorf("none of %v present: %w", keys, ErrMalformedFrame)
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("key %s: %w", keys[0], err)
	}
	return f, nil
}

func lookup(frame map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := frame[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

//nolint:cyclop // type switch
func toFloat(v any) (float64, error) {
	var ret float64
	switch n := v.(type) {
	case float64:
		ret = n
	case float32:
		ret = float64(n)
	case int:
		ret = float64(n)
	case int32:
		ret = float64(n)
	case int64:
		ret = float64(n)
	case uint:
		ret = float64(n)
	case uint32:
		ret = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%v: %w", v, ErrMalformedFrame)
		}
		ret = f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", n, ErrMalformedFrame)
		}
		ret = f
	default:
		return 0, fmt.Errorf("unsupported type %T: %w", v, ErrMalformedFrame)
	}
	if math.IsNaN(ret) || math.IsInf(ret, 0) {
		return 0, fmt.Errorf("non finite value %v: %w", ret, ErrMalformedFrame)
	}
	return ret, nil
}

package util

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

//nolint:funlen // ok for tests
func TestFrameExtractor_Extract(t *testing.T) {
	tests := []struct {
		name    string
		frame   map[string]any
		want    model.TelemetrySample
		wantErr bool
	}{
		{
			name: "canonical keys",
			frame: map[string]any{
				"track_position": 0.25, "session_time": 12.5, "lap_number": 3,
			},
			want: model.TelemetrySample{TrackPosition: 0.25, Time: 12.5, LapNumber: 3},
		},
		{
			name: "iRacing keys",
			frame: map[string]any{
				"LapDistPct": float32(0.5), "SessionTime": 100.0, "Lap": int32(7),
				"IsOnTrack": false,
			},
			want: model.TelemetrySample{
				TrackPosition: 0.5, Time: 100, LapNumber: 7, OffTrack: true,
			},
		},
		{
			name: "json numbers and strings",
			frame: map[string]any{
				"lap_dist_pct": json.Number("0.75"), "timestamp": "5.5", "lap": json.Number("2"),
			},
			want: model.TelemetrySample{TrackPosition: 0.75, Time: 5.5, LapNumber: 2},
		},
		{
			name: "nil value falls through to next alias",
			frame: map[string]any{
				"track_position": nil, "trackPos": 0.1, "time": 1.0, "lap_number": 1,
			},
			want: model.TelemetrySample{TrackPosition: 0.1, Time: 1, LapNumber: 1},
		},
		{
			name:    "missing position",
			frame:   map[string]any{"session_time": 1.0, "lap_number": 1},
			wantErr: true,
		},
		{
			name: "NaN position",
			frame: map[string]any{
				"track_position": math.NaN(), "session_time": 1.0, "lap_number": 1,
			},
			wantErr: true,
		},
		{
			name: "position out of range",
			frame: map[string]any{
				"track_position": 1.5, "session_time": 1.0, "lap_number": 1,
			},
			wantErr: true,
		},
		{
			name: "infinite time",
			frame: map[string]any{
				"track_position": 0.5, "session_time": math.Inf(1), "lap_number": 1,
			},
			wantErr: true,
		},
		{
			name: "unsupported type",
			frame: map[string]any{
				"track_position": []int{1}, "session_time": 1.0, "lap_number": 1,
			},
			wantErr: true,
		},
		{
			name:    "missing lap",
			frame:   map[string]any{"track_position": 0.5, "session_time": 1.0},
			wantErr: true,
		},
	}
	e := NewFrameExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(tt.frame)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrMalformedFrame), "got %v", err)
				return
			}
			assert.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFrameExtractor_CustomKeys(t *testing.T) {
	e := NewFrameExtractor(WithPositionKeys("pos"), WithTimeKeys("t"), WithLapKeys("l"))
	got, err := e.Extract(map[string]any{"pos": 0.3, "t": 2.0, "l": 4})
	assert.NoError(t, err)
	assert.Equal(t, model.TelemetrySample{TrackPosition: 0.3, Time: 2, LapNumber: 4}, got)
}

func TestFrameExtractor_ReferenceLapTime(t *testing.T) {
	e := NewFrameExtractor()
	v, ok := e.ReferenceLapTime(map[string]any{"LapLastLapTime": 91.25})
	assert.True(t, ok)
	assert.InDelta(t, 91.25, v, 1e-12)

	v, ok = e.ReferenceLapTime(map[string]any{"last_lap_time": "88.5"})
	assert.True(t, ok)
	assert.InDelta(t, 88.5, v, 1e-12)

	_, ok = e.ReferenceLapTime(map[string]any{"LapLastLapTime": -1.0})
	assert.False(t, ok)
	_, ok = e.ReferenceLapTime(map[string]any{})
	assert.False(t, ok)
}

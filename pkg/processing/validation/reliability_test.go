//nolint:funlen // ok for tests
package validation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

func TestSectorReliability_Assess(t *testing.T) {
	tests := []struct {
		name        string
		history     []model.SectorTime
		input       model.SectorTime
		crossing    float64
		wantConf    float64
		wantOutlier bool
		wantNotes   []string
	}{
		{
			name:      "regular",
			input:     model.SectorTime{SectorIndex: 0, Duration: 30},
			crossing:  1,
			wantConf:  1,
			wantNotes: []string{},
		},
		{
			name:      "crossing confidence is applied",
			input:     model.SectorTime{SectorIndex: 0, Duration: 30},
			crossing:  0.5,
			wantConf:  0.5,
			wantNotes: []string{},
		},
		{
			name:      "very fast",
			input:     model.SectorTime{SectorIndex: 0, Duration: 3},
			crossing:  1,
			wantConf:  0.7,
			wantNotes: []string{"very fast sector: 3.000s"},
		},
		{
			name:      "very slow",
			input:     model.SectorTime{SectorIndex: 0, Duration: 400},
			crossing:  1,
			wantConf:  0.5,
			wantNotes: []string{"very slow sector: 400.000s"},
		},
		{
			name: "outlier",
			history: []model.SectorTime{
				{SectorIndex: 1, Duration: 30},
				{SectorIndex: 1, Duration: 30.5},
				{SectorIndex: 1, Duration: 29.5},
			},
			input:       model.SectorTime{SectorIndex: 1, Duration: 35},
			crossing:    1,
			wantConf:    0.6,
			wantOutlier: true,
			wantNotes:   []string{"outlier: 10.0 std devs from mean"},
		},
		{
			name: "other sector history is ignored",
			history: []model.SectorTime{
				{SectorIndex: 1, Duration: 30},
				{SectorIndex: 1, Duration: 30.5},
				{SectorIndex: 1, Duration: 29.5},
			},
			input:     model.SectorTime{SectorIndex: 2, Duration: 35},
			crossing:  1,
			wantConf:  1,
			wantNotes: []string{},
		},
		{
			name: "within spread",
			history: []model.SectorTime{
				{SectorIndex: 1, Duration: 30},
				{SectorIndex: 1, Duration: 30.5},
				{SectorIndex: 1, Duration: 29.5},
			},
			input:     model.SectorTime{SectorIndex: 1, Duration: 30.6},
			crossing:  1,
			wantConf:  1,
			wantNotes: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSectorReliability()
			for _, h := range tt.history {
				r.Assess(h, 1)
			}
			got := r.Assess(tt.input, tt.crossing)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, tt.wantOutlier, got.IsOutlier)
			if diff := cmp.Diff(tt.wantNotes, got.Notes); diff != "" {
				t.Errorf("notes mismatch (-want +got):\n%s", diff)
			}
			// input is not modified
			assert.Equal(t, tt.input.Duration, got.Duration)
			assert.False(t, tt.input.IsOutlier)
		})
	}
}

func TestSectorReliability_HistoryBounded(t *testing.T) {
	r := NewSectorReliability(WithSectorHistory(5))
	for range 20 {
		r.Assess(model.SectorTime{Duration: 30}, 1)
	}
	assert.Len(t, r.history, 5)
	s := r.Summary(7)
	assert.Equal(t, 20, s.SectorsSeen)
	assert.Equal(t, 7, s.RecentCrossing)
	assert.Equal(t, StatusGood, s.Status)
	assert.InDelta(t, 1.0, s.AvgConfidence, 1e-9)
	assert.InDelta(t, 0.0, s.OutlierRate, 1e-9)
}

func TestSectorReliability_AssessLap(t *testing.T) {
	r := NewSectorReliability()
	lap := &model.LapRecord{
		LapNumber: 3,
		Sectors: []model.SectorTime{
			{SectorIndex: 0, Duration: 30, Confidence: 1},
			{SectorIndex: 1, Duration: 3, Confidence: 0.9},
			{SectorIndex: 2, Duration: 30, Confidence: 0.8},
		},
	}
	report := r.AssessLap(lap)
	assert.Same(t, lap, report.Lap)
	assert.Len(t, report.Sectors, 3)
	assert.InDelta(t, (1+0.63+0.8)/3, report.Confidence, 1e-9)
	assert.True(t, report.Reliable)
	if diff := cmp.Diff([]string{
		"low confidence sectors: S2",
		"unusually fast sectors detected",
	}, report.Notes); diff != "" {
		t.Errorf("notes mismatch (-want +got):\n%s", diff)
	}

	empty := r.AssessLap(&model.LapRecord{LapNumber: 4})
	assert.False(t, empty.Reliable)
	assert.InDelta(t, 0.0, empty.Confidence, 1e-9)
}

func TestSectorReliability_Summary(t *testing.T) {
	r := NewSectorReliability(WithConfidenceThreshold(0.9), WithSectorBounds(1, 100))
	assert.Equal(t, StatusPoor, r.Summary(0).Status)

	r.Assess(model.SectorTime{Duration: 30}, 0.7)
	r.Assess(model.SectorTime{Duration: 30}, 0.7)
	s := r.Summary(2)
	assert.Equal(t, StatusFair, s.Status)

	r.Reset()
	assert.Equal(t, StatusPoor, r.Summary(0).Status)
}

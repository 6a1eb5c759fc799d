// Package telemetry generates synthetic telemetry for tests.
package telemetry

import (
	"math"

	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

// Generator produces samples of a car driving at constant speed.
type Generator struct {
	Rate      float64 // samples per second
	LapTime   float64 // seconds
	StartPos  float64 // track position of the first sample
	StartTime float64
	StartLap  int
}

func New(rate, lapTime float64) *Generator {
	return &Generator{Rate: rate, LapTime: lapTime, StartLap: 1}
}

// Laps returns samples covering the given number of laps. The last sample is
// the one at (or just after) the final start/finish line passing.
func (g *Generator) Laps(laps float64) []model.TelemetrySample {
	perLap := g.Rate * g.LapTime
	total := int(math.Ceil((laps - g.StartPos) * perLap))
	ret := make([]model.TelemetrySample, 0, total+1)
	for i := 0; i <= total; i++ {
		dist := g.StartPos + float64(i)/perLap
		whole := math.Floor(dist)
		ret = append(ret, model.TelemetrySample{
			TrackPosition: dist - whole,
			Time:          g.StartTime + float64(i)/g.Rate,
			LapNumber:     g.StartLap + int(whole),
		})
	}
	return ret
}

// Frames converts samples into raw frames as delivered by a telemetry source.
func Frames(samples []model.TelemetrySample) []map[string]any {
	ret := make([]map[string]any, 0, len(samples))
	for _, s := range samples {
		ret = append(ret, map[string]any{
			"track_position": s.TrackPosition,
			"session_time":   s.Time,
			"lap_number":     s.LapNumber,
			"on_track":       !s.OffTrack,
		})
	}
	return ret
}

package model

import "math"

// SectorBoundary marks the start of a sector as fraction of the lap distance.
// SectorIndex is zero based and contiguous within a layout.
type SectorBoundary struct {
	SectorIndex   int     `json:"sectorIndex"`
	StartFraction float64 `json:"startFraction"`
}

// TelemetrySample is the normalized form of a single telemetry frame.
// Time is the session clock (or wall clock) in seconds.
type TelemetrySample struct {
	TrackPosition float64 `json:"trackPosition"`
	Time          float64 `json:"time"`
	LapNumber     int     `json:"lapNumber"`
	// OffTrack is set if the source reported the car as not being on track.
	OffTrack bool `json:"offTrack"`
}

// Usable reports whether the sample carries finite values and a position
// within the lap range.
func (s TelemetrySample) Usable() bool {
	if math.IsNaN(s.TrackPosition) || math.IsInf(s.TrackPosition, 0) {
		return false
	}
	if math.IsNaN(s.Time) || math.IsInf(s.Time, 0) {
		return false
	}
	return s.TrackPosition >= 0 && s.TrackPosition <= 1
}

type CrossingMethod string

const (
	CrossingInterpolated CrossingMethod = "interpolated"
	CrossingDirect       CrossingMethod = "direct"
)

// SectorCrossing is created when the car passes a sector boundary.
type SectorCrossing struct {
	SectorIndex  int            `json:"sectorIndex"`
	CrossingTime float64        `json:"crossingTime"`
	Confidence   float64        `json:"confidence"`
	Method       CrossingMethod `json:"method"`
}

// SectorTime is the duration of a single completed sector.
type SectorTime struct {
	SectorIndex int      `json:"sectorIndex"`
	Duration    float64  `json:"duration"`
	LapNumber   int      `json:"lapNumber"`
	Confidence  float64  `json:"confidence"`
	IsOutlier   bool     `json:"isOutlier"`
	Notes       []string `json:"notes,omitempty"`
}

// LapRecord is emitted once per finished (or aborted) lap. It is not modified
// after it was emitted.
type LapRecord struct {
	LapNumber int `json:"lapNumber"`
	// SectorDurations are ordered by sector index.
	SectorDurations []float64    `json:"sectorDurations"`
	Sectors         []SectorTime `json:"sectors"`
	TotalDuration   float64      `json:"totalDuration"`
	IsComplete      bool         `json:"isComplete"`
	IsValid         bool         `json:"isValid"`
	// IsOutLap marks laps which were not timed from the start/finish line
	// or where the car left the track.
	IsOutLap  bool    `json:"isOutLap"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	// FinishCrossingTime is the interpolated instant the start/finish line
	// was passed. Zero for laps not ended by a finish line crossing.
	FinishCrossingTime float64 `json:"finishCrossingTime"`
}

// Progress describes the timing state between two laps.
// CurrentSector is the 1-based display variant of CurrentSectorIndex.
type Progress struct {
	Initialized          bool       `json:"initialized"`
	LapNumber            int        `json:"lapNumber"`
	CurrentSectorIndex   int        `json:"currentSectorIndex"`
	CurrentSector        int        `json:"currentSector"`
	TotalSectors         int        `json:"totalSectors"`
	ElapsedInSector      float64    `json:"elapsedInSector"`
	CompletedSectorCount int        `json:"completedSectorCount"`
	CurrentLapSplits     []float64  `json:"currentLapSplits"`
	BestSectorTimes      []*float64 `json:"bestSectorTimes"`
	BestLapTime          *float64   `json:"bestLapTime"`
	Boundaries           []float64  `json:"boundaries"`
}

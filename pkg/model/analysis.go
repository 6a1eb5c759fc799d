package model

type BiasDirection string

const (
	BiasOver  BiasDirection = "over"
	BiasUnder BiasDirection = "under"
)

// TimingBias is reported when recent validations were consistently off to
// the same side of the reference lap time.
type TimingBias struct {
	Direction    BiasDirection `json:"direction"`
	AvgMagnitude float64       `json:"avgMagnitude"`
	Laps         int           `json:"laps"`
}

// LapValidation is the result of cross checking the sum of sector durations
// against an independently reported lap time.
type LapValidation struct {
	LapNumber          int         `json:"lapNumber"`
	IsValid            bool        `json:"isValid"`
	SectorCount        int         `json:"sectorCount"`
	SectorSum          float64     `json:"sectorSum"`
	ReferenceLapTime   float64     `json:"referenceLapTime"`
	DiscrepancySeconds float64     `json:"discrepancySeconds"`
	DiscrepancyPercent float64     `json:"discrepancyPercent"`
	// Over is set if the sector sum is larger than the reference lap time.
	Over       bool        `json:"over"`
	Confidence float64     `json:"confidence"`
	Notes      []string    `json:"notes,omitempty"`
	Bias       *TimingBias `json:"bias,omitempty"`
	// Trend holds the growth of the discrepancy over the recent window if
	// it grew monotonically beyond the configured delta.
	Trend float64 `json:"trend,omitempty"`
}

// ValidationSummary aggregates the most recent validations.
type ValidationSummary struct {
	TotalValidations  int     `json:"totalValidations"`
	RecentValidations int     `json:"recentValidations"`
	SuccessRate       float64 `json:"successRate"`
	AvgDiscrepancy    float64 `json:"avgDiscrepancy"`
	AvgConfidence     float64 `json:"avgConfidence"`
	Status            string  `json:"status"`
}

// Correction is a proposal how a failed validation could be compensated.
type Correction struct {
	Discrepancy          float64  `json:"discrepancy"`
	ProportionalFactor   float64  `json:"proportionalFactor,omitempty"`
	PerSectorAdjustment  float64  `json:"perSectorAdjustment,omitempty"`
	HasPerSectorAdjusted bool     `json:"hasPerSectorAdjusted"`
	Suggestions          []string `json:"suggestions"`
}

// ReliabilitySummary describes the recent sector measurements quality.
type ReliabilitySummary struct {
	AvgConfidence  float64 `json:"avgConfidence"`
	OutlierRate    float64 `json:"outlierRate"`
	SectorsSeen    int     `json:"sectorsSeen"`
	RecentCrossing int     `json:"recentCrossings"`
	Status         string  `json:"status"`
}

// LapReport bundles a lap record with the annotations produced by the
// validation layer.
type LapReport struct {
	SessionID  string         `json:"sessionId"`
	Lap        *LapRecord     `json:"lap"`
	Sectors    []SectorTime   `json:"sectors"`
	Confidence float64        `json:"confidence"`
	Reliable   bool           `json:"reliable"`
	Notes      []string       `json:"notes,omitempty"`
	Validation *LapValidation `json:"validation,omitempty"`
}

// SectorComparison compares one sector of a lap with the best known time.
type SectorComparison struct {
	SectorIndex    int      `json:"sectorIndex"`
	Time           float64  `json:"time"`
	BestTime       *float64 `json:"bestTime"`
	Delta          float64  `json:"delta"`
	IsPersonalBest bool     `json:"isPersonalBest"`
}

// LapComparison compares all sectors of a lap with the best sector times.
type LapComparison struct {
	LapNumber         int                `json:"lapNumber"`
	Sectors           []SectorComparison `json:"sectors"`
	TotalDelta        float64            `json:"totalDelta"`
	IsTheoreticalBest bool               `json:"isTheoreticalBest"`
}

package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB                   string // connection string for the database (optional lap sink)
	NatsURL              string // URL of the NATS server
	FrameSubject         string // subject to receive telemetry frames from
	OutputSubject        string // subject to publish augmented frames to
	LapSubject           string // subject to publish completed laps to
	LogLevel             string // sets the log level (zap log level values)
	LogFormat            string // text vs json
	LogFilter            string // zapfilter rules, e.g. "debug:sector.*"
	EnableTelemetry      bool   // enable telemetry (stdout metrics exporter)
	TelemetryInterval    string // interval for metrics export
	Sectors              int    // number of equal sectors if no layout is given
	Boundaries           string // comma separated list of boundary fractions
	TrackID              int    // id of a track stored in the database providing the sectors
	LayoutFile           string // path to layout file (TrackInfo or SessionInfo yaml)
	WatchLayout          bool   // reload the layout file on changes
	FallbackSingleSector bool   // use a single whole-lap sector if layout is unavailable
	PrintFrames          bool   // if true, augmented frames are printed on debug level
	WaitForServices      string // duration to wait for other services to be ready
)

// TimingConfig holds the tunables of the timing engine and the validation
// layer. The values are read from the "timing" section of the config file.
//
//nolint:lll // readablity
type TimingConfig struct {
	HysteresisHigh    float64 `mapstructure:"hysteresis-high"`     // wrap detected if prev position above this
	HysteresisLow     float64 `mapstructure:"hysteresis-low"`      // ... and current position below this
	MaxSectorDuration float64 `mapstructure:"max-sector-duration"` // seconds
	MinSectorDuration float64 `mapstructure:"min-sector-duration"` // seconds
	RearmAtFrameTime  bool    `mapstructure:"rearm-at-frame-time"` // new lap starts at wrap frame time
	CrossingHistory   int     `mapstructure:"crossing-history"`
	SectorHistory     int     `mapstructure:"sector-history"`
	LapHistory        int     `mapstructure:"lap-history"`
	OutlierThreshold  float64 `mapstructure:"outlier-threshold"` // z-score
	VarianceThreshold float64 `mapstructure:"variance-threshold"`
	MaxAbsDiscrepancy float64 `mapstructure:"max-abs-discrepancy"` // seconds
	MaxPctDiscrepancy float64 `mapstructure:"max-pct-discrepancy"` // percent
	ValidationHistory int     `mapstructure:"validation-history"`
}

func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		HysteresisHigh:    0.9,
		HysteresisLow:     0.1,
		MaxSectorDuration: 300,
		MinSectorDuration: 5,
		RearmAtFrameTime:  true,
		CrossingHistory:   100,
		SectorHistory:     50,
		LapHistory:        20,
		OutlierThreshold:  2.0,
		VarianceThreshold: 100,
		MaxAbsDiscrepancy: 0.5,
		MaxPctDiscrepancy: 1.0,
		ValidationHistory: 20,
	}
}

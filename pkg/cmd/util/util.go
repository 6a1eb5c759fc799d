package util

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nats-io/nats.go"
	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/config"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/db/postgres"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/processing/layout"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/repository/track"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/sink"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/sink/natssink"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/sink/pgsink"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/utils"
)

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

// SetupLogger creates the logger according to the log flags and installs it
// as default logger.
func SetupLogger() (*log.Logger, error) {
	filter, err := log.WithFilter(config.LogFilter)
	if err != nil {
		return nil, err
	}
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			filter)
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			filter)
	}
	log.ResetDefault(logger)
	return logger, nil
}

// TimingConfig reads the "timing" section of the config file. Missing values
// keep their defaults.
func TimingConfig() (config.TimingConfig, error) {
	cfg := config.DefaultTimingConfig()
	if err := viper.UnmarshalKey("timing", &cfg); err != nil {
		return cfg, fmt.Errorf("timing config: %w", err)
	}
	if cfg.HysteresisLow >= cfg.HysteresisHigh {
		return cfg, fmt.Errorf("timing config: hysteresis-low (%v) must be below hysteresis-high (%v)",
			cfg.HysteresisLow, cfg.HysteresisHigh)
	}
	return cfg, nil
}

// ParseBoundaries parses a comma separated list of start fractions.
func ParseBoundaries(s string) ([]float64, error) {
	parts := lo.Filter(strings.Split(s, ","), func(p string, _ int) bool {
		return strings.TrimSpace(p) != ""
	})
	ret := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid boundary %q: %w", p, err)
		}
		ret = append(ret, f)
	}
	return ret, nil
}

// LayoutSource returns the layout source configured by the flags.
// Precedence: layout file, boundaries, number of sectors.
// nil is returned if nothing is configured.
func LayoutSource() (layout.Source, error) {
	switch {
	case config.LayoutFile != "":
		return layout.FileSource(config.LayoutFile), nil
	case config.Boundaries != "":
		b, err := ParseBoundaries(config.Boundaries)
		if err != nil {
			return nil, err
		}
		return layout.ManualSource(b), nil
	case config.Sectors > 0:
		return layout.EqualSource(config.Sectors), nil
	default:
		return nil, nil
	}
}

// TrackSource loads the sectors of the track with the given id from the database.
func TrackSource(ctx context.Context, id int) (layout.Source, error) {
	if config.DB == "" {
		return nil, fmt.Errorf("track-id %d requires a database connection", id)
	}
	pool, err := postgres.InitWithURL(ctx, config.DB,
		postgres.WithTracer(log.Default().Named("sql")),
		postgres.WithMaxConns(1))
	if err != nil {
		return nil, err
	}
	defer pool.Close()
	ti, err := track.LoadByID(ctx, pool, id)
	if err != nil {
		return nil, err
	}
	return layout.TrackInfoSource{Track: ti}, nil
}

// ResolveSource is LayoutSource extended by the track stored in the database.
// A layout file takes precedence over the track id.
func ResolveSource(ctx context.Context) (layout.Source, error) {
	if config.LayoutFile == "" && config.TrackID > 0 {
		return TrackSource(ctx, config.TrackID)
	}
	return LayoutSource()
}

// NewSession creates a processing session from the flags and the config file.
func NewSession(
	ctx context.Context,
	opts ...processing.ProcessorOption,
) (*processing.Processor, error) {
	src, err := ResolveSource(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := TimingConfig()
	if err != nil {
		return nil, err
	}
	return processing.NewSession(append([]processing.ProcessorOption{
		processing.WithLayoutSource(src),
		processing.WithFallbackSingleSector(config.FallbackSingleSector),
		processing.WithTimingConfig(cfg),
	}, opts...)...)
}

// WaitForServices waits until the configured NATS server and database accept
// tcp connections.
func WaitForServices() error {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil || timeout <= 0 {
		return nil
	}
	addrs := []string{}
	if config.NatsURL != "" {
		addrs = append(addrs, utils.ExtractFromNatsURL(config.NatsURL))
	}
	if config.DB != "" {
		addrs = append(addrs, utils.ExtractFromDBURL(config.DB))
	}
	for _, addr := range lo.Compact(addrs) {
		if err := utils.WaitForTCP(addr, timeout); err != nil {
			return err
		}
	}
	return nil
}

// Sinks holds the lap sinks configured by the flags and the resources they use.
type Sinks struct {
	Dispatcher *sink.Dispatcher
	nc         *nats.Conn
}

// SetupSinks creates the lap sinks. Laps are always logged, NATS and postgres
// sinks are added if configured. nc may be nil, a connection is created if
// needed.
func SetupSinks(ctx context.Context, nc *nats.Conn) (*Sinks, error) {
	ret := &Sinks{}
	sinks := []sink.Sink{sink.NewLogSink(log.Default().Named("laps"))}
	if config.LapSubject != "" && config.NatsURL != "" {
		if nc == nil {
			var err error
			if nc, err = nats.Connect(config.NatsURL, nats.Name("ist")); err != nil {
				return nil, fmt.Errorf("connect to nats: %w", err)
			}
			ret.nc = nc
		}
		sinks = append(sinks, natssink.New(nc, config.LapSubject))
	}
	if config.DB != "" {
		pool, err := postgres.InitWithURL(ctx, config.DB,
			postgres.WithTracer(log.Default().Named("sql")))
		if err != nil {
			ret.closeConn()
			return nil, err
		}
		sinks = append(sinks, pgsink.New(pool))
	}
	ret.Dispatcher = sink.NewDispatcher(ctx, sinks)
	return ret, nil
}

func (s *Sinks) closeConn() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *Sinks) Close() error {
	err := s.Dispatcher.Close()
	s.closeConn()
	return err
}

// WatchLayout reloads the layout file on changes and applies it to proc.
// It returns when ctx is done.
//
//nolint:cyclop // by design
func WatchLayout(ctx context.Context, path string, proc *processing.Processor) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create fsnotify watcher: %w", err)
	}
	// watching the directory also covers editors replacing the file
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("could not watch %s: %w", path, err)
	}
	l := log.Default().Named("layout")
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) ||
					!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				l.Info("layout file changed, reloading", log.String("file", event.Name))
				newLayout, err := layout.LoadFile(path)
				if err != nil {
					l.Error("could not load layout", log.ErrorField(err))
					continue
				}
				proc.SetLayout(newLayout)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.Error("watcher error", log.ErrorField(err))
			}
		}
	}()
	return nil
}

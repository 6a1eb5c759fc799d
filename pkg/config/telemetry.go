package config

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mpapenbr/iracelog-sectortiming/log"
)

type Telemetry struct {
	ctx           context.Context
	meterProvider *sdkmetric.MeterProvider
}

// Shutdown flushes pending metrics and stops the exporter
func (t *Telemetry) Shutdown() {
	if t.meterProvider == nil {
		return
	}
	if err := t.meterProvider.Shutdown(t.ctx); err != nil {
		log.Warn("could not shutdown meter provider", log.ErrorField(err))
	}
}

// SetupTelemetry installs a global meter provider exporting to stdout.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	interval, err := time.ParseDuration(TelemetryInterval)
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return &Telemetry{ctx: ctx, meterProvider: mp}, nil
}

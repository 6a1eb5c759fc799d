package processing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mpapenbr/iracelog-sectortiming/log"
)

type metrics struct {
	frames    metric.Int64Counter
	malformed metric.Int64Counter
	laps      metric.Int64Counter
	errors    metric.Int64Counter
	attrs     metric.MeasurementOption
}

// newMetrics registers the session counters on the global meter provider.
// Nothing is exported unless a meter provider was installed.
func newMetrics(sessionID string, l *log.Logger) *metrics {
	meter := otel.GetMeterProvider().Meter("ist.processing")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"))
		if err != nil {
			l.Error("failed to register metric",
				log.String("metric", name),
				log.ErrorField(err))
			return noop.Int64Counter{}
		}
		return c
	}
	return &metrics{
		frames:    counter("ist.processing.frames", "Number of processed frames"),
		malformed: counter("ist.processing.malformed", "Number of malformed frames"),
		laps:      counter("ist.processing.laps", "Number of completed laps"),
		errors:    counter("ist.processing.errors", "Number of processing errors"),
		attrs:     metric.WithAttributes(attribute.String("session", sessionID)),
	}
}

func (m *metrics) inc(c metric.Int64Counter) {
	c.Add(context.Background(), 1, m.attrs)
}

// Package natssink publishes lap reports on a NATS subject.
package natssink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
)

// Publisher is the part of *nats.Conn used by the sink.
type Publisher interface {
	Publish(subj string, data []byte) error
	Flush() error
}

var _ Publisher = (*nats.Conn)(nil)

type Sink struct {
	conn    Publisher
	subject string
	l       *log.Logger
}

type Option func(s *Sink)

func WithLogger(l *log.Logger) Option {
	return func(s *Sink) {
		s.l = l
	}
}

// New creates a sink publishing to subject. A "{session}" placeholder in
// subject is replaced by the session id of each report.
func New(conn Publisher, subject string, opts ...Option) *Sink {
	ret := &Sink{
		conn:    conn,
		subject: subject,
		l:       log.Default().Named("sink.nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (s *Sink) Name() string { return "nats" }

func (s *Sink) Subject(report *model.LapReport) string {
	return strings.ReplaceAll(s.subject, "{session}", report.SessionID)
}

func (s *Sink) Write(_ context.Context, report *model.LapReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal lap report: %w", err)
	}
	subj := s.Subject(report)
	if err := s.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subj, err)
	}
	s.l.Debug("lap published",
		log.String("subject", subj),
		log.Int("lap", report.Lap.LapNumber))
	return nil
}

// Close flushes pending messages. The connection itself is owned by the caller.
func (s *Sink) Close() error {
	return s.conn.Flush()
}

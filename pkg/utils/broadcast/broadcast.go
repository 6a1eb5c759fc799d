package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/iracelog-sectortiming/log"
)

// Server distributes every message received from a source channel to all
// subscribers. Slow subscribers are skipped after a timeout.
type Server[T any] interface {
	Subscribe() <-chan T
	CancelSubscription(<-chan T)
	Close()
}

type server[T any] struct {
	name           string
	source         <-chan T
	listeners      []chan T
	addListener    chan chan T
	removeListener chan (<-chan T)
	ctx            context.Context
	cancel         context.CancelFunc
	sendTimeout    time.Duration
	bufferSize     int
	l              *log.Logger
	onSkip         func(T)
	mu             sync.Mutex
	numRcv         int64
	numSnd         int64
	numSkip        int64
}

type Option[T any] func(*server[T])

// WithSendTimeout sets the time to wait for a subscriber before the message
// is skipped for it.
func WithSendTimeout[T any](d time.Duration) Option[T] {
	return func(s *server[T]) {
		s.sendTimeout = d
	}
}

// WithBufferSize sets the channel capacity of new subscriptions.
func WithBufferSize[T any](n int) Option[T] {
	return func(s *server[T]) {
		s.bufferSize = n
	}
}

// WithSkipHandler registers a callback invoked with every message that was
// skipped for a subscriber.
func WithSkipHandler[T any](f func(msg T)) Option[T] {
	return func(s *server[T]) {
		s.onSkip = f
	}
}

func WithLogger[T any](l *log.Logger) Option[T] {
	return func(s *server[T]) {
		s.l = l
	}
}

func NewServer[T any](ctx context.Context, name string, source <-chan T, opts ...Option[T]) Server[T] {
	sctx, cancel := context.WithCancel(ctx)
	s := &server[T]{
		name:           name,
		source:         source,
		addListener:    make(chan chan T),
		removeListener: make(chan (<-chan T)),
		ctx:            sctx,
		cancel:         cancel,
		sendTimeout:    50 * time.Millisecond,
		l:              log.Default().Named("broadcast"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMetrics()
	go s.serve()
	return s
}

func (s *server[T]) Subscribe() <-chan T {
	ch := make(chan T, s.bufferSize)
	select {
	case s.addListener <- ch:
	case <-s.ctx.Done():
		close(ch)
	}
	return ch
}

func (s *server[T]) CancelSubscription(ch <-chan T) {
	select {
	case s.removeListener <- ch:
	case <-s.ctx.Done():
	}
}

func (s *server[T]) Close() {
	s.mu.Lock()
	s.l.Info("closing broadcast server",
		log.String("name", s.name),
		log.Int64("rcv", s.numRcv),
		log.Int64("snd", s.numSnd),
		log.Int64("skip", s.numSkip))
	s.mu.Unlock()
	s.cancel()
}

func (s *server[T]) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("ist.broadcast")
	attrs := metric.WithAttributes(attribute.String("name", s.name))
	register := func(name, desc string, value func() int64) {
		if _, err := meter.Int64ObservableCounter(
			name,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(value(), attrs)
				return nil
			})); err != nil {
			s.l.Error("failed to register metric",
				log.String("metric", name),
				log.ErrorField(err))
		}
	}
	locked := func(v *int64) func() int64 {
		return func() int64 {
			s.mu.Lock()
			defer s.mu.Unlock()
			return *v
		}
	}
	register("ist.broadcast.rcv", "Number of received messages", locked(&s.numRcv))
	register("ist.broadcast.snd", "Number of sent messages", locked(&s.numSnd))
	register("ist.broadcast.skip", "Number of skipped messages", locked(&s.numSkip))
}

// Stats returns the number of received, sent and skipped messages.
func Stats[T any](srv Server[T]) (rcv, snd, skip int64, err error) {
	s, ok := srv.(*server[T])
	if !ok {
		return 0, 0, 0, fmt.Errorf("unsupported server type %T", srv)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numRcv, s.numSnd, s.numSkip, nil
}

//nolint:cyclop // by design
func (s *server[T]) serve() {
	defer func() {
		s.cancel()
		for _, listener := range s.listeners {
			close(listener)
		}
		s.listeners = nil
	}()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ch := <-s.addListener:
			s.listeners = append(s.listeners, ch)
		case ch := <-s.removeListener:
			for i, listener := range s.listeners {
				if listener == ch {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					close(listener)
					break
				}
			}
		case msg, ok := <-s.source:
			if !ok {
				s.l.Debug("source closed", log.String("name", s.name))
				return
			}
			s.mu.Lock()
			s.numRcv++
			s.mu.Unlock()
			for _, listener := range s.listeners {
				select {
				case listener <- msg:
					s.mu.Lock()
					s.numSnd++
					s.mu.Unlock()
				case <-time.After(s.sendTimeout):
					s.mu.Lock()
					s.numSkip++
					s.mu.Unlock()
					if s.onSkip != nil {
						s.onSkip(msg)
					}
				}
			}
		}
	}
}

package activity

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/jrsteele09/go-oidc-gate/activity"

// Sink delivers events to a log transport. Write runs on the request path
// and must not block on a slow transport: sinks backed by a pipe or the
// network buffer and drop instead (see NewAsyncZerologSink).
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Logger fans events out to its sinks synchronously, in call order.
type Logger struct {
	sinks    []Sink
	now      func() time.Time
	failures atomic.Int64
	counter  metric.Int64Counter
}

type Option func(*Logger)

// WithSink adds a sink
func WithSink(s Sink) Option {
	return func(l *Logger) {
		l.sinks = append(l.sinks, s)
	}
}

// WithClock overrides the clock used for missing timestamps
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

func New(opts ...Option) *Logger {
	l := &Logger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"activity.sink.failures",
		metric.WithDescription("Activity events a sink failed to deliver"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("activity: failure counter unavailable")
	}
	l.counter = counter
	return l
}

// Record emits event to every sink. It never returns an error and never panics.
func (l *Logger) Record(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	for _, sink := range l.sinks {
		if err := l.deliver(ctx, sink, event.clone()); err != nil {
			l.failures.Add(1)
			if l.counter != nil {
				l.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(event.Type))))
			}
			log.Debug().Err(err).Str("event", string(event.Type)).Msg("activity: event dropped")
		}
	}
}

// Failures returns how many deliveries failed since the logger was created
func (l *Logger) Failures() int64 {
	if l == nil {
		return 0
	}
	return l.failures.Load()
}

func (l *Logger) deliver(ctx context.Context, sink Sink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sink panic: %v", gateerrors.ErrLogSink, r)
		}
	}()
	if err := sink.Write(ctx, event); err != nil {
		return fmt.Errorf("%w: %v", gateerrors.ErrLogSink, err)
	}
	return nil
}

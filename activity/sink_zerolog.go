package activity

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-oidc-gate/internal/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"github.com/rs/zerolog/log"
)

const asyncPollInterval = 10 * time.Millisecond

var _ Sink = (*ZerologSink)(nil)

// ZerologSink writes one JSON line per event. Lines bypass the global log
// level so that security events are never filtered out.
type ZerologSink struct {
	out     io.Writer
	logger  zerolog.Logger
	closer  io.Closer
	dropped atomic.Int64
}

// NewZerologSink writes straight to w. Use it when w never stalls, such as
// a buffer or a local file.
func NewZerologSink(w io.Writer) *ZerologSink {
	s := &ZerologSink{}
	s.init(zerolog.SyncWriter(w))
	return s
}

// NewAsyncZerologSink queues up to size lines in a ring buffer that a
// background goroutine drains into w. Write never blocks; when w falls
// behind, the oldest queued lines are overwritten and counted by Dropped.
// Close flushes the queue. It does not close w.
func NewAsyncZerologSink(w io.Writer, size int) *ZerologSink {
	s := &ZerologSink{}
	dw := diode.NewWriter(struct{ io.Writer }{w}, size, asyncPollInterval, func(missed int) {
		s.dropped.Add(int64(missed))
		log.Warn().Int("missed", missed).Msg("activity: sink fell behind, events dropped")
	})
	s.init(dw)
	s.closer = dw
	return s
}

func (s *ZerologSink) init(out io.Writer) {
	s.out = out
	s.logger = zerolog.New(out).With().Str("channel", "activity").Logger()
}

// Dropped is the number of lines an async sink overwrote before writing them
func (s *ZerologSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes and stops an async sink; a no-op for a direct one
func (s *ZerologSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *ZerologSink) Write(_ context.Context, event Event) error {
	cw := &captureWriter{w: s.out}
	l := s.logger.Output(cw)

	e := l.Log().
		Str(zerolog.LevelFieldName, levelFor(event.Type).String()).
		Str("event", string(event.Type)).
		Str("event_id", event.ID).
		Str("timestamp", event.Timestamp.Format(time.RFC3339Nano))
	if subject := utils.Value(event.Subject); subject != "" {
		e = e.Str("user_id", subject)
	}
	if event.Email != "" {
		e = e.Str("email", event.Email)
	}
	if event.Path != "" {
		e = e.Str("path", event.Path)
	}
	if event.SourceIP != "" {
		e = e.Str("source_ip", event.SourceIP)
	}
	if event.UserAgent != "" {
		e = e.Str("user_agent", event.UserAgent)
	}
	if len(event.Extra) > 0 {
		fields := make(map[string]interface{}, len(event.Extra))
		for k, v := range event.Extra {
			fields[k] = v
		}
		e = e.Dict("extra", zerolog.Dict().Fields(fields))
	}
	e.Send()

	return cw.error()
}

func levelFor(t EventType) zerolog.Level {
	switch t {
	case EventLoginFailure, EventUnauthorizedAccess:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// captureWriter remembers the error of the write it forwards, since zerolog
// only reports write failures to its global error handler.
type captureWriter struct {
	w   io.Writer
	mu  sync.Mutex
	err error
}

func (c *captureWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
	}
	return n, err
}

func (c *captureWriter) error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

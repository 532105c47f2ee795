// Package relay binds one downstream SSE connection to one upstream provider
// stream and re-frames provider events into the outbound protocol.
package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/longkey1/llmrelay/internal/chat"
)

// ReadSize is the size of a single upstream read.
const ReadSize = 4096

// Termination causes reported by Stats.
const (
	CauseTerminal    = "terminal"
	CauseEOF         = "eof"
	CauseUpstreamErr = "upstream_error"
	CauseConnect     = "connect_error"
	CauseReadErr     = "read_error"
	CauseIdle        = "idle_timeout"
	CauseCanceled    = "canceled"
)

// Messages forwarded to clients for failures that carry no upstream message.
const (
	MsgConnectFailed = "Error connecting to upstream"
	MsgInterrupted   = "upstream stream interrupted"
	MsgIdleTimeout   = "upstream idle timeout"
)

// Options tune one relayed stream.
type Options struct {
	// IdleTimeout aborts the upstream when no bytes arrive for this long. Zero disables it.
	IdleTimeout time.Duration
	Log         logrus.FieldLogger
}

// Stats summarizes a finished stream.
type Stats struct {
	Fragments int
	Bytes     int
	Cause     string
}

// Stream is a lazy, finite sequence of outbound messages produced from one
// upstream connection. Recv returns the terminal marker exactly once, as the
// last message, and io.EOF afterwards.
type Stream struct {
	log    logrus.FieldLogger
	body   io.ReadCloser
	dec    chat.Decoder
	ctx    context.Context
	cancel context.CancelFunc
	buf    []byte

	queue []chat.OutboundMessage
	ended bool // terminal queued
	stats Stats

	idleTimeout time.Duration
	idle        *time.Timer
	timedOut    atomic.Bool
	releaseOnce sync.Once
}

// Open starts the upstream request. It never fails: a connect failure becomes
// an error message followed by the terminal marker.
func Open(ctx context.Context, adapter chat.Adapter, req chat.Request, opts Options) *Stream {
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		buf:         make([]byte, ReadSize),
		idleTimeout: opts.IdleTimeout,
	}

	body, err := s.connect(adapter, req)
	if err != nil {
		switch ue, ok := chat.AsUpstreamError(err); {
		case ok:
			entry := log.WithError(err).WithField("status", ue.StatusCode)
			switch {
			case chat.IsAuth(err):
				// the relay's own credentials were refused
				entry.Error("upstream rejected credentials")
			case chat.IsRateLimit(err):
				entry.Warn("upstream rate limited")
			default:
				entry.Warn("upstream rejected request")
			}
			s.fail(ue.SafeMessage(), CauseUpstreamErr)
		case s.timedOut.Load():
			log.WithField("idle_timeout", s.idleTimeout.String()).Warn("upstream did not answer, aborting")
			s.fail(MsgIdleTimeout, CauseIdle)
		default:
			log.WithError(err).Error("upstream connection failed")
			s.fail(MsgConnectFailed, CauseConnect)
		}
		s.release()
		return s
	}

	s.body = body
	s.dec = adapter.NewDecoder(log)
	if s.idleTimeout > 0 {
		s.idle = time.AfterFunc(s.idleTimeout, func() {
			s.timedOut.Store(true)
			s.release()
		})
	}
	return s
}

// connect opens the upstream request. The idle timeout also bounds the wait
// for the response headers.
func (s *Stream) connect(adapter chat.Adapter, req chat.Request) (io.ReadCloser, error) {
	if s.idleTimeout <= 0 {
		return adapter.Open(s.ctx, req)
	}
	t := time.AfterFunc(s.idleTimeout, func() {
		s.timedOut.Store(true)
		s.cancel()
	})
	defer t.Stop()
	return adapter.Open(s.ctx, req)
}

// Recv returns the next outbound message, blocking on upstream reads.
func (s *Stream) Recv() (chat.OutboundMessage, error) {
	for len(s.queue) == 0 {
		if s.ended {
			return chat.OutboundMessage{}, io.EOF
		}
		s.fill()
	}

	m := s.queue[0]
	s.queue = s.queue[1:]
	if m.IsTerminal() {
		s.stopIdle()
		s.release()
	}
	return m, nil
}

// Close releases the upstream connection. It is safe to call more than once
// and concurrently with Recv, which then returns the terminal marker.
func (s *Stream) Close() error {
	s.stopIdle()
	s.release()
	return nil
}

// Stats reports counters of the stream. Call it after Recv returned io.EOF.
func (s *Stream) Stats() Stats {
	return s.stats
}

func (s *Stream) fill() {
	if s.idle != nil {
		s.idle.Reset(s.idleTimeout)
	}
	n, err := s.body.Read(s.buf)
	s.stopIdle()

	if n > 0 {
		s.stats.Bytes += n
		s.push(s.dec.Decode(s.buf[:n]))
	}
	if err == nil || s.ended {
		return
	}

	switch {
	case errors.Is(err, io.EOF):
		s.push(s.dec.Flush())
		s.finish(CauseEOF)
	case s.timedOut.Load():
		s.log.WithField("idle_timeout", s.idleTimeout.String()).Warn("upstream idle, aborting")
		s.fail(MsgIdleTimeout, CauseIdle)
	case s.ctx.Err() != nil:
		// downstream went away; nobody reads the error
		s.finish(CauseCanceled)
	default:
		s.log.WithError(err).Error("upstream read failed")
		s.fail(MsgInterrupted, CauseReadErr)
	}
}

func (s *Stream) push(events []chat.Event) {
	for _, e := range events {
		if s.ended {
			return
		}
		switch {
		case e.Err != "":
			s.log.WithField("upstream_error", e.Err).Warn("upstream reported an error")
			s.fail(e.Err, CauseUpstreamErr)
		case e.Content != "":
			s.stats.Fragments++
			s.queue = append(s.queue, chat.Content(e.Content))
		}
		if e.Done {
			s.finish(CauseTerminal)
		}
	}
}

func (s *Stream) fail(msg, cause string) {
	if s.ended {
		return
	}
	s.queue = append(s.queue, chat.Failure(msg))
	s.finish(cause)
}

func (s *Stream) finish(cause string) {
	if s.ended {
		return
	}
	s.ended = true
	s.stats.Cause = cause
	s.queue = append(s.queue, chat.Terminal())
}

func (s *Stream) stopIdle() {
	if s.idle != nil {
		s.idle.Stop()
	}
}

// release may run on the idle timer goroutine.
func (s *Stream) release() {
	s.releaseOnce.Do(func() {
		s.cancel()
		if s.body != nil {
			s.body.Close()
		}
	})
}

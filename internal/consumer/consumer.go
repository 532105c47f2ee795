// Package consumer implements the client side of the relay protocol: it
// submits one turn at a time and grows the assistant reply from the streamed
// fragments.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/longkey1/llmrelay/internal/chat"
	"github.com/longkey1/llmrelay/internal/frame"
)

// State of the consumer.
type State int

const (
	Idle State = iota
	Sending
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Messages recorded when the stream fails on the client side.
const (
	MsgStreamEnded = "stream ended unexpectedly"
	MsgTransport   = "connection to relay failed"
)

var (
	ErrEmptyInput = errors.New("input is empty")
	ErrBusy       = errors.New("a request is already in flight")
	ErrLoading    = errors.New("cannot clear while a request is being sent")
)

// Framing of the relay's outbound protocol.
var Framing = frame.Config{
	Separator: chat.FramePrefix,
	Terminal:  chat.TerminalData,
	Extract:   frame.FirstEvent,
}

const readSize = 4096

// Snapshot is a copy of the consumer state handed to observers.
type Snapshot struct {
	ConversationID string
	Turns          []chat.Turn
	State          State
	Loading        bool
	Err            string
}

// Current returns the last turn, or a zero Turn when there is none.
func (s Snapshot) Current() chat.Turn {
	if len(s.Turns) == 0 {
		return chat.Turn{}
	}
	return s.Turns[len(s.Turns)-1]
}

// Consumer owns one conversation and at most one in-flight request.
type Consumer struct {
	transport Transport
	log       logrus.FieldLogger

	mu     sync.Mutex
	conv   *chat.Conversation
	state  State
	err    string
	gen    uint64 // bumped by every submit and clear; stale pumps compare it
	cancel context.CancelFunc

	// notifyMu orders deliveries so observers never see an older snapshot after a newer one.
	notifyMu  sync.Mutex
	observers []func(Snapshot)

	wg conc.WaitGroup
}

// New creates a consumer with an empty conversation.
func New(transport Transport, log logrus.FieldLogger) *Consumer {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Consumer{
		transport: transport,
		log:       log,
		conv:      chat.NewConversation(),
	}
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn must not call Submit or Clear.
func (c *Consumer) Subscribe(fn func(Snapshot)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.observers = append(c.observers, fn)
}

// Snapshot returns the current state.
func (c *Consumer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Consumer) snapshotLocked() Snapshot {
	turns := make([]chat.Turn, len(c.conv.Turns))
	copy(turns, c.conv.Turns)
	return Snapshot{
		ConversationID: c.conv.ID,
		Turns:          turns,
		State:          c.state,
		Loading:        c.state == Sending,
		Err:            c.err,
	}
}

// Submit starts a new turn for input on the provider serving model. It is
// rejected while another request is in flight.
func (c *Consumer) Submit(ctx context.Context, input string, model chat.ModelInfo) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}

	req := chat.BuildRequest(c.conv.Turns, input, model.Label)
	c.conv.Turns = append(c.conv.Turns, chat.Turn{User: input})
	c.state = Sending
	c.err = ""
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	convID := c.conv.ID
	c.mu.Unlock()

	c.publish()

	log := c.log.WithFields(logrus.Fields{
		"conversation_id": convID,
		"provider":        model.Provider,
		"model":           model.Label,
	})
	c.wg.Go(func() {
		c.run(ctx, gen, model.Provider, convID, req, log)
	})
	return nil
}

// Clear drops the conversation and starts a new one with a fresh id. A
// stream that is already delivering fragments is canceled; a request that is
// still being sent cannot be cleared.
func (c *Consumer) Clear() error {
	c.mu.Lock()
	if c.state == Sending {
		c.mu.Unlock()
		return ErrLoading
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.state = Idle
	c.err = ""
	c.conv = chat.NewConversation()
	c.mu.Unlock()

	c.publish()
	return nil
}

// Wait blocks until the in-flight request, if any, has finished.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

// Close cancels the in-flight request and waits for it.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, gen uint64, provider, convID string, req chat.Request, log logrus.FieldLogger) {
	body, err := c.transport.Open(ctx, provider, convID, req)
	if err != nil {
		if ctx.Err() != nil {
			c.finish(gen, "")
			return
		}
		log.WithError(err).Warn("relay request failed")
		c.finish(gen, transportMessage(err))
		return
	}
	defer body.Close()

	// the relay answered: the stream is open even though no fragment arrived yet
	if !c.update(gen, func() { c.state = Streaming }) {
		return
	}

	dec := frame.New(Framing, chat.ParseOutbound, log)
	buf := make([]byte, readSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			for _, f := range dec.Feed(buf[:n]) {
				if c.apply(gen, f) {
					return
				}
			}
		}
		if rerr == nil {
			continue
		}

		for _, f := range dec.Flush() {
			if c.apply(gen, f) {
				return
			}
		}
		if ctx.Err() != nil {
			c.finish(gen, "")
			return
		}
		if errors.Is(rerr, io.EOF) {
			c.finish(gen, MsgStreamEnded)
		} else {
			log.WithError(rerr).Warn("relay stream read failed")
			c.finish(gen, MsgTransport)
		}
		return
	}
}

// apply handles one outbound message and reports whether the pump must stop.
func (c *Consumer) apply(gen uint64, f frame.Frame[chat.OutboundMessage]) bool {
	if f.Terminal {
		c.finish(gen, "")
		return true
	}
	m := f.Value
	switch m.Kind {
	case chat.KindError:
		c.finish(gen, m.Text)
		return true
	case chat.KindContent:
		if m.Text == "" {
			return false
		}
		return !c.update(gen, func() {
			last := len(c.conv.Turns) - 1
			c.conv.Turns[last].Assistant += m.Text
		})
	}
	return false
}

// finish closes the in-flight request. A non-empty msg records a failure;
// the partial reply is kept.
func (c *Consumer) finish(gen uint64, msg string) {
	c.update(gen, func() {
		c.state = Idle
		c.err = msg
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
	})
}

// update applies fn if gen is still current and publishes the new state.
func (c *Consumer) update(gen uint64, fn func()) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	fn()
	c.mu.Unlock()

	c.publish()
	return true
}

func (c *Consumer) publish() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if len(c.observers) == 0 {
		return
	}
	s := c.Snapshot()
	for _, fn := range c.observers {
		fn(s)
	}
}

func transportMessage(err error) string {
	var re *RelayError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return MsgTransport
}

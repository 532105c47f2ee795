package relay

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/longkey1/llmrelay/internal/apperr"
	"github.com/longkey1/llmrelay/internal/chat"
)

// APIError represents the JSON body of a request rejected before streaming.
type APIError struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// Handler serves the relay endpoints.
type Handler struct {
	registry    *chat.Registry
	log         *logrus.Logger
	idleTimeout time.Duration
}

// NewHandler creates a handler serving the adapters of registry.
func NewHandler(registry *chat.Registry, log *logrus.Logger, idleTimeout time.Duration) *Handler {
	return &Handler{registry: registry, log: log, idleTimeout: idleTimeout}
}

// Chat relays one streaming completion: POST /chat/:provider.
func (h *Handler) Chat(c *gin.Context) {
	provider := c.Param("provider")
	adapter, ok := h.registry.Lookup(provider)
	if !ok {
		h.reject(c, apperr.E(apperr.CodeNotFound, "Relay.Chat", fmt.Sprintf("unknown provider %q", provider), nil))
		return
	}

	var req chat.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.reject(c, apperr.E(apperr.CodeInvalidArgument, "Relay.Chat", "invalid request body", err))
		return
	}
	if err := req.Validate(); err != nil {
		h.reject(c, apperr.E(apperr.CodeInvalidArgument, "Relay.Chat", err.Error(), err))
		return
	}

	reqID, _ := c.Get("request_id")
	log := h.log.WithFields(logrus.Fields{
		"request_id":      reqID,
		"conversation_id": c.GetHeader(chat.ConversationHeader),
		"provider":        provider,
		"model":           adapter.ResolveModel(req.Model),
		"messages":        len(req.Messages),
	})

	// Commit to the stream before the upstream answers, so the client sees
	// the connection open independently of the first fragment.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	start := time.Now()
	stream := Open(c.Request.Context(), adapter, req, Options{IdleTimeout: h.idleTimeout, Log: log})
	defer stream.Close()

	terminated := false
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("relay crashed")
			if !terminated {
				// best effort, the connection may already be gone
				c.Writer.Write(chat.Failure("internal relay error").Encode())
				c.Writer.Write(chat.Terminal().Encode())
				c.Writer.Flush()
			}
		}
	}()

	var writeErr error
	c.Stream(func(w io.Writer) bool {
		m, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return false
		}
		if _, writeErr = w.Write(m.Encode()); writeErr != nil {
			return false
		}
		terminated = m.IsTerminal()
		return !terminated
	})

	stats := stream.Stats()
	entry := log.WithFields(logrus.Fields{
		"fragments":  stats.Fragments,
		"bytes":      stats.Bytes,
		"cause":      stats.Cause,
		"latency_ms": time.Since(start).Milliseconds(),
	})
	switch {
	case writeErr != nil:
		entry.WithError(writeErr).Warn("downstream write failed")
	case !terminated:
		entry.Info("downstream closed")
	default:
		entry.Info("stream finished")
	}
}

// Models lists the model catalog: GET /models.
func (h *Handler) Models(c *gin.Context) {
	models := make([]chat.ModelInfo, 0, len(chat.Models))
	for _, m := range chat.Models {
		if _, ok := h.registry.Lookup(m.Provider); ok {
			models = append(models, m)
		}
	}
	c.JSON(http.StatusOK, gin.H{"models": models, "default": chat.DefaultModel})
}

// reject logs a request refused before streaming and answers with its error.
func (h *Handler) reject(c *gin.Context, err error) {
	reqID, _ := c.Get("request_id")
	entry := h.log.WithError(err).WithFields(logrus.Fields{
		"request_id": reqID,
		"provider":   c.Param("provider"),
	})
	if apperr.IsCode(err, apperr.CodeNotFound) {
		entry.Warn("request for unknown provider")
	} else {
		entry.Info("request rejected")
	}
	writeError(c, err)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)

	var ae *apperr.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:    apperr.CodeInternal,
		Message: http.StatusText(status),
	})
}

package relay

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/longkey1/llmrelay/internal/chat"
)

// RequestLogger represents the access log: it tags each request with an id
// (X-Request-Id is kept when the client sent one) and logs it once served.
func RequestLogger(l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Set("request_id", reqID)

		c.Next()

		lat := time.Since(start)
		status := c.Writer.Status()

		entry := l.WithFields(logrus.Fields{
			"request_id":      reqID,
			"conversation_id": c.GetHeader(chat.ConversationHeader),
			"method":          c.Request.Method,
			"path":            c.FullPath(),
			"status":          status,
			"latency_ms":      lat.Milliseconds(),
			"ip":              c.ClientIP(),
		})

		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}

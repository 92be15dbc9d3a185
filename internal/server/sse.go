package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/junction/internal/realtime"
)

const sseKeepAlive = 15 * time.Second

// events streams realtime events to the caller as server-sent events. The
// stream ends when the client goes away or the session is dropped.
func (h *handlers) events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sess := realtime.NewChannelSession(caller(c), device(c, "sse"), h.buffer)
	// The request context is gone by the time Disconnect runs.
	ctx := context.WithoutCancel(c.Request.Context())
	h.chat.Connect(ctx, sess)
	defer func() {
		h.chat.Disconnect(ctx, sess)
		sess.Close()
	}()

	writeSSE(c.Writer, "connected", map[string]string{"session_id": sess.ID()})
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case <-sess.Done():
			// Flush what was buffered before the session was dropped.
			for {
				select {
				case e := <-sess.Events():
					writeSSE(c.Writer, string(e.Kind()), e)
				default:
					c.Writer.Flush()
					return
				}
			}
		case <-keepAlive.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case e := <-sess.Events():
			writeSSE(c.Writer, string(e.Kind()), e)
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}

func device(c *gin.Context, fallback string) string {
	if d := c.Query("device"); d != "" {
		return d
	}
	return fallback
}

package server

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/junction/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// serveWS upgrades the request and serves a realtime session until the
// client disconnects. Heartbeat frames count as activity of this device.
func (h *handlers) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("server: websocket upgrade: %v", err)
		return
	}
	user := caller(c)
	sess := realtime.NewWSSession(user, device(c, "ws"), conn, h.buffer)
	sess.Start()

	ctx := context.WithoutCancel(c.Request.Context())
	h.chat.Connect(ctx, sess)
	sess.ReadLoop(func() {
		h.chat.Heartbeat(ctx, user, sess.ID())
	})
	h.chat.Disconnect(ctx, sess)
}

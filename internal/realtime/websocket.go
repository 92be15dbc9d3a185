package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zulandar/junction/internal/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxInboundSize = 4096
)

// ClientFrame is a message a websocket client may send. Only heartbeats are
// understood; anything else is ignored.
type ClientFrame struct {
	Type string `json:"type"`
}

// WSSession is a websocket client. Outbound writes go through a buffered
// channel drained by a single write loop.
type WSSession struct {
	id     string
	user   string
	device string

	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

// NewWSSession wraps an upgraded websocket connection.
func NewWSSession(userID, device string, ws *websocket.Conn, buffer int) *WSSession {
	if buffer <= 0 {
		buffer = 64
	}
	return &WSSession{
		id:     uuid.NewString(),
		user:   userID,
		device: device,
		ws:     ws,
		send:   make(chan []byte, buffer),
		close:  make(chan struct{}),
	}
}

func (s *WSSession) ID() string     { return s.id }
func (s *WSSession) UserID() string { return s.user }
func (s *WSSession) Device() string { return s.device }

// Start launches the write loop. Call it once.
func (s *WSSession) Start() {
	go s.writeLoop()
}

// Send encodes e and enqueues it. A full buffer closes the session so a
// slow client cannot hold memory.
func (s *WSSession) Send(e event.Event) error {
	payload, err := event.Encode(e)
	if err != nil {
		return err
	}
	select {
	case <-s.close:
		return ErrClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	default:
		s.closeWith(websocket.CloseGoingAway, "send buffer full")
		return ErrBufferFull
	}
}

// Close terminates the connection and stops the write loop.
func (s *WSSession) Close() {
	s.closeWith(websocket.CloseNormalClosure, "")
}

func (s *WSSession) closeWith(code int, reason string) {
	s.once.Do(func() {
		close(s.close)
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = s.ws.Close()
	})
}

// ReadLoop consumes client frames until the connection fails or closes,
// calling onHeartbeat for each heartbeat frame. It blocks.
func (s *WSSession) ReadLoop(onHeartbeat func()) {
	defer s.Close()

	s.ws.SetReadLimit(maxInboundSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("realtime: session %s read: %v", s.id, err)
			}
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame ClientFrame
		if json.Unmarshal(data, &frame) == nil && frame.Type == "heartbeat" && onHeartbeat != nil {
			onHeartbeat()
		}
	}
}

func (s *WSSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.close:
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}

func (s *WSSession) write(kind int, payload []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(kind, payload)
}

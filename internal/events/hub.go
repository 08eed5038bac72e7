package events

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// WireMessage is the JSON frame written to websocket clients.
type WireMessage struct {
	Event string      `json:"event"`
	RunID string      `json:"run_id,omitempty"`
	Data  interface{} `json:"data"`
}

// Encode maps an Event to its wire frame. Images travel as data URLs.
func Encode(e Event) WireMessage {
	msg := WireMessage{Event: string(e.Kind), RunID: e.RunID}
	switch e.Kind {
	case KindImage:
		msg.Data = "data:image/png;base64," + base64.StdEncoding.EncodeToString(e.Data)
	case KindResult:
		msg.Data = e.Draft
	case KindDone:
		msg.Data = map[string]interface{}{"ok": e.OK, "reason": e.Reason, "message": e.Message}
	default:
		msg.Data = e.Message
	}
	return msg
}

// MessageHandler receives raw frames read from a client.
type MessageHandler func(raw []byte)

// Hub broadcasts events to every connected websocket client and hands inbound
// frames to a handler.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	upgrader    websocket.Upgrader
	onMessage   MessageHandler
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// NewHub creates a hub. onMessage may be nil.
func NewHub(onMessage MessageHandler) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		onMessage: onMessage,
	}
}

// SetHandler replaces the inbound frame handler.
func (h *Hub) SetHandler(fn MessageHandler) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

// Emit implements Sink. A client whose buffer is full is disconnected rather
// than left with a gap in its stream; it can reconnect.
func (h *Hub) Emit(e Event) {
	payload, err := json.Marshal(Encode(e))
	if err != nil {
		log.Printf("events: encode %s event: %v", e.Kind, err)
		return
	}

	var slow []*subscriber
	h.mu.RLock()
	for sub := range h.subscribers {
		select {
		case sub.send <- payload:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		log.Printf("events: disconnecting slow client at %s event", e.Kind)
		h.remove(sub)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events: websocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go sub.writePump()
	h.readPump(sub)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		sub.close()
		delete(h.subscribers, sub)
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		sub.close()
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		h.remove(sub)
		_ = sub.conn.Close()
	}()

	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("events: websocket read error: %v", err)
			}
			return
		}
		h.mu.RLock()
		handler := h.onMessage
		h.mu.RUnlock()
		if handler != nil {
			handler(raw)
		}
	}
}

func (sub *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

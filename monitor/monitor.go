// Package monitor streams bridge events to websocket clients. Each event is
// one protojson text frame holding the event name and a state snapshot.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/spark-bridge/logger"
)

const writeWait = 100 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans bridge events out to every connected websocket client
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	last    []byte

	// a websocket connection allows one writer at a time
	writeMu sync.Mutex
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// Encode renders an event frame
func Encode(name string, state *structpb.Struct) ([]byte, error) {
	if state == nil {
		state = &structpb.Struct{}
	}
	frame := &structpb.Struct{Fields: map[string]*structpb.Value{
		"event": structpb.NewStringValue(name),
		"time":  structpb.NewStringValue(time.Now().UTC().Format(time.RFC3339Nano)),
		"state": structpb.NewStructValue(state),
	}}
	return protojson.Marshal(frame)
}

// BridgeEvent broadcasts one event; slow or gone clients are dropped
func (h *Hub) BridgeEvent(name string, state *structpb.Struct) {
	data, err := Encode(name, state)
	if err != nil {
		logger.Warn("Monitor", "encode %s: %v", name, err)
		return
	}

	h.mu.Lock()
	h.last = data
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	h.writeMu.Lock()
	var failed []*websocket.Conn
	for _, c := range clients {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			failed = append(failed, c)
		}
	}
	h.writeMu.Unlock()
	for _, c := range failed {
		logger.Debug("Monitor", "dropping client %s", c.RemoteAddr())
		h.remove(c)
	}
}

// ClientCount returns the number of attached clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *websocket.Conn) {
	h.writeMu.Lock()
	h.mu.Lock()
	h.clients[c] = true
	last := h.last
	h.mu.Unlock()

	// late joiners start from the latest state
	var err error
	if last != nil {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		err = c.WriteMessage(websocket.TextMessage, last)
	}
	h.writeMu.Unlock()
	if err != nil {
		h.remove(c)
	}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.Close()
	}
}

// ServeHTTP upgrades the request and keeps the client until it goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Monitor", "Failed to upgrade connection: %v", err)
		return
	}
	h.add(conn)
	logger.Info("Monitor", "👀 Client %s attached", conn.RemoteAddr())

	// drain control frames; a read error means the client left
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

// Handler serves the hub on /ws and the latest frame on /status
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		last := h.last
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if last == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write(last)
	})
	return mux
}

// Serve listens on addr until ctx is done
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler()}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("Monitor", "🌐 Monitor listening on %s", addr)

	select {
	case err := <-errc:
		return errors.Wrap(err, "monitor: listen")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)

		h.mu.Lock()
		for c := range h.clients {
			c.Close()
			delete(h.clients, c)
		}
		h.mu.Unlock()
		return nil
	}
}

package introspect

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the Broadcaster's event stream over a single WebSocket
// endpoint; every connected watcher receives every event (no per-client
// subscription filtering, unlike the teacher's session-scoped variant —
// there is only one hart's worth of events here).
type Server struct {
	broadcaster *Broadcaster
	httpServer  *http.Server
}

// NewServer builds a Server listening on addr and streaming b's events at
// "/events".
func NewServer(addr string, b *Broadcaster) *Server {
	s := &Server{broadcaster: b}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleWebSocket)
	s.httpServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// ListenAndServe blocks serving WebSocket connections until the server is
// shut down or errors.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.httpServer.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("introspect: websocket upgrade error: %v", err)
		return
	}
	ch := s.broadcaster.Subscribe()
	go s.writePump(conn, ch)
	go s.readPump(conn, ch)
}

// readPump exists only to notice the client disconnecting (and drain
// control frames); the stream is one-directional (server to watcher).
func (s *Server) readPump(conn *websocket.Conn, ch chan Event) {
	defer func() {
		s.broadcaster.Unsubscribe(ch)
		conn.Close()
	}()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, ch chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case ev, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

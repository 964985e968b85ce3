package services

import (
	"log"
	"net/http"
	"sync"
	"time"

	"wallet-backend/internal/clients"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WebSocketPushService bridges NATS notifications onto websocket connections so
// clients see payment completions and split results without polling.
type WebSocketPushService struct {
	notifier *clients.NotifierClient
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWebSocketPushService creates the push service
func NewWebSocketPushService(notifier *clients.NotifierClient) *WebSocketPushService {
	return &WebSocketPushService{
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// cross-origin policy is enforced by the CORS middleware upstream
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// HandleConnection upgrades the request and streams the user's notifications
// until the client disconnects
func (s *WebSocketPushService) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ [WS] Upgrade failed for user %s: %v", userID, err)
		return
	}
	s.track(conn, true)
	defer func() {
		s.track(conn, false)
		conn.Close()
	}()
	log.Printf("🔌 [WS] User %s connected", userID)

	var writeMu sync.Mutex
	subscription, err := s.notifier.Subscribe(userID, func(notification *clients.Notification) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(notification); err != nil {
			log.Printf("⚠️ [WS] Write failed for user %s: %v", userID, err)
		}
	})
	if err != nil {
		log.Printf("❌ [WS] Subscribe failed for user %s: %v", userID, err)
		return
	}
	defer subscription.Unsubscribe()

	// keepalive pings; the read loop below notices the peer going away
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	defer close(done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Printf("🔌 [WS] User %s disconnected: %v", userID, err)
			return
		}
	}
}

func (s *WebSocketPushService) track(conn *websocket.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// ConnectionCount returns the number of live websocket connections
func (s *WebSocketPushService) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

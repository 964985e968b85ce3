package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"wallet-backend/internal/config"
	"wallet-backend/internal/metrics"

	"github.com/nats-io/nats.go"
)

// notification subjects: wallet.notifications.<userID>
const notificationSubjectPrefix = "wallet.notifications"

// Notification one user-facing event published to the bus. Delivery is
// fire-and-forget: a publish failure never fails the operation that produced it.
type Notification struct {
	Type      string          `json:"type"` // payment_completed | split_executed
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NotifierClient NATS notification publisher
type NotifierClient struct {
	conn *nats.Conn
}

// NewNotifierClient connects to NATS with reconnect handling
func NewNotifierClient(cfg config.NATSConfig) (*NotifierClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects != 0 {
		maxReconnects = cfg.MaxReconnects
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ [NATS] Disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ [NATS] Reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)
	log.Printf("✅ [NATS] Connected to %s", conn.ConnectedUrl())
	return &NotifierClient{conn: conn}, nil
}

// Publish sends one notification to the user's subject. Errors are returned for
// logging but callers must not treat them as operation failures.
func (c *NotifierClient) Publish(userID, notificationType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		metrics.NotificationsFailed.WithLabelValues(notificationType).Inc()
		return fmt.Errorf("failed to marshal notification data: %w", err)
	}
	notification := Notification{
		Type:      notificationType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}
	message, err := json.Marshal(notification)
	if err != nil {
		metrics.NotificationsFailed.WithLabelValues(notificationType).Inc()
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", notificationSubjectPrefix, userID)
	if err := c.conn.Publish(subject, message); err != nil {
		metrics.NotificationsFailed.WithLabelValues(notificationType).Inc()
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	metrics.NotificationsPublished.WithLabelValues(notificationType).Inc()
	return nil
}

// Subscribe registers a handler for one user's notifications; used by the
// websocket push service to fan events out to connected clients
func (c *NotifierClient) Subscribe(userID string, handler func(*Notification)) (*nats.Subscription, error) {
	subject := fmt.Sprintf("%s.%s", notificationSubjectPrefix, userID)
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var notification Notification
		if err := json.Unmarshal(msg.Data, &notification); err != nil {
			log.Printf("❌ [NATS] Failed to parse notification on %s: %v", msg.Subject, err)
			return
		}
		handler(&notification)
	})
}

// Close drains and closes the connection
func (c *NotifierClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject notifications are published on.
const DefaultSubject = "clipsage.notifications"

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes notifications as JSON so other machines can follow a
// session.
type NATSSink struct {
	pub     publisher
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials url and returns a sink publishing on subject.
func ConnectNATS(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(
		url,
		nats.Name("clipsage"),
		nats.Timeout(2*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{pub: conn, conn: conn, subject: subject}, nil
}

func (s *NATSSink) Send(n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.FlushTimeout(2 * time.Second); err != nil {
		slog.Debug("nats flush on close", "error", err)
	}
	s.conn.Close()
}

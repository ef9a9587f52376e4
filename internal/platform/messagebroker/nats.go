package messagebroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const drainTimeout = 20 * time.Second

// NATSClient wraps a NATS connection with the publish/subscribe helpers the service uses.
type NATSClient struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSClient connects to NATS. natsURL example: "nats://localhost:4222".
func NewNATSClient(natsURL, appName string, logger *slog.Logger) (*NATSClient, error) {
	log := logger.With("component", "nats_client")
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.DrainTimeout(drainTimeout),
		nats.MaxReconnects(-1), // keep trying; tasks stay in the server until we are back
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			log.Info("NATS connection closed", "last_error", c.LastError())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSClient{conn: nc, logger: log}, nil
}

// Publish sends data on subject. The context is only checked before publishing;
// core NATS publishes are fire-and-forget into the client buffer.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("nats connection is closed")
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish to %s: %w", subject, err)
	}
	return nil
}

// QueueSubscribe registers handler on subject within queue so that each message
// is delivered to exactly one member of the group.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(data []byte)) (*nats.Subscription, error) {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats queue subscribe %s/%s: %w", subject, queue, err)
	}
	c.logger.Info("Subscribed to NATS subject", "subject", subject, "queue", queue)
	return sub, nil
}

// Close drains subscriptions and pending publishes, waits for the drain to
// finish (bounded by the connection's drain timeout), then closes.
func (c *NATSClient) Close() {
	if c.conn == nil || c.conn.IsClosed() {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("NATS drain failed, closing", "error", err)
		c.conn.Close()
		return
	}
	deadline := time.Now().Add(drainTimeout + time.Second)
	for !c.conn.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if !c.conn.IsClosed() {
		c.conn.Close()
	}
}

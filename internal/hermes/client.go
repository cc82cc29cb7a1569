// Package hermes is the NATS side of recall: it announces stored exchanges and
// finished merges so that other processes can react to them.
package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectExchangeStored carries an ExchangeStored event for every record
	// written by the capture endpoint.
	SubjectExchangeStored = "recall.exchange.stored"
	// SubjectMergeCompleted carries a MergeCompleted event after each merge.
	SubjectMergeCompleted = "recall.merge.completed"
)

// ExchangeStored announces a new exchange record on disk.
type ExchangeStored struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Path           string    `json:"path"`
	CapturedAt     time.Time `json:"captured_at"`
}

// MergeCompleted summarises one merge run and, when indexing ran with it,
// the indexing counts.
type MergeCompleted struct {
	Conversations int  `json:"conversations"`
	Exchanges     int  `json:"exchanges"`
	Written       int  `json:"written"`
	Unchanged     int  `json:"unchanged"`
	Missing       int  `json:"missing_conversation_id"`
	Indexed       bool `json:"indexed"`
	Inserted      int  `json:"inserted,omitempty"`
	Skipped       int  `json:"skipped,omitempty"`
	Failed        int  `json:"failed,omitempty"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("recall"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Connected reports whether the underlying connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

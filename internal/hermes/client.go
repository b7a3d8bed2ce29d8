package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Client publishes JSON events and subscribes to subjects. A nil Client is
// treated as "events disabled" by callers.
type Client interface {
	Publish(subject string, data interface{}) error
	Subscribe(subject string, handler func(subject string, data []byte)) error
	Close()
}

const (
	// QueueGroup spreads inbound requests over replicas so each is handled once.
	QueueGroup = "railkpi"

	// HeaderSource names the publishing process on every event.
	HeaderSource = "RailKPI-Source"

	flushTimeout     = 2 * time.Second
	duplicatesWindow = 2 * time.Minute
)

// ErrDisconnected is returned by Publish while the connection is down. The
// event is dropped rather than queued.
var ErrDisconnected = errors.New("nats not connected")

// NATSClient is the Client backed by a NATS connection. Events go through
// JetStream asynchronously when the stream is available and core NATS
// otherwise; Publish never waits for an acknowledgement.
type NATSClient struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	source string
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSClient connects to url and ensures the event stream exists. A stream
// failure is logged, not returned.
func NewNATSClient(ctx context.Context, url string, logger *slog.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(url,
		nats.Name(QueueGroup),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc,
		jetstream.WithPublishAsyncErrHandler(func(_ jetstream.JetStream, msg *nats.Msg, err error) {
			logger.Warn("event not persisted", "subject", msg.Subject, "error", err)
		}),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	c := &NATSClient{conn: nc, js: js, source: sourceName(), logger: logger}
	if err := c.ensureStream(ctx); err != nil {
		logger.Warn("event stream unavailable, publishing on core nats", "stream", StreamName, "error", err)
	}
	return c, nil
}

func (c *NATSClient) ensureStream(ctx context.Context) error {
	maxAge, err := time.ParseDuration(StreamMaxAge)
	if err != nil {
		return fmt.Errorf("stream max age: %w", err)
	}
	_, err = c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   StreamSubjects,
		MaxAge:     maxAge,
		Duplicates: duplicatesWindow,
		Storage:    jetstream.FileStorage,
	})
	return err
}

// Publish sends data as JSON. The message ID is derived from the event, so a
// retried publish of the same event is dropped by the stream.
func (c *NATSClient) Publish(subject string, data interface{}) error {
	if !c.conn.IsConnected() {
		return ErrDisconnected
	}
	msg, err := encode(subject, data, c.source)
	if err != nil {
		return err
	}
	if _, err := c.js.PublishMsgAsync(msg); err != nil {
		c.logger.Debug("jetstream publish failed, using core nats", "subject", subject, "error", err)
		return c.conn.PublishMsg(msg)
	}
	return nil
}

// Subscribe joins QueueGroup on subject.
func (c *NATSClient) Subscribe(subject string, handler func(string, []byte)) error {
	sub, err := c.conn.QueueSubscribe(subject, QueueGroup, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close waits briefly for outstanding acknowledgements, then drains
// subscriptions and the connection.
func (c *NATSClient) Close() {
	select {
	case <-c.js.PublishAsyncComplete():
	case <-time.After(flushTimeout):
		c.logger.Warn("closing with unacknowledged events", "pending", c.js.PublishAsyncPending())
	}

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

func encode(subject string, data interface{}, source string) (*nats.Msg, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, messageID(subject, data, payload))
	if source != "" {
		msg.Header.Set(HeaderSource, source)
	}
	return msg, nil
}

// messageID is the event's own ID when it has one, else a name-based UUID
// over subject and payload.
func messageID(subject string, data interface{}, payload []byte) string {
	if ev, ok := data.(identified); ok {
		if id := ev.MessageID(); id != "" {
			return id
		}
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, append([]byte(subject+"\n"), payload...)).String()
}

func sourceName() string {
	return QueueGroup + "-" + uuid.NewString()[:8]
}

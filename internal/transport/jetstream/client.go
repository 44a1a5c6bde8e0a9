// Package jetstream implements the transport on a NATS JetStream stream.
// Every conversation event lands on one stream; the stream sequence is the
// server sequence and the message id header deduplicates resends.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

var _ transport.Transport = (*Client)(nil)

// Config selects the NATS server and stream.
type Config struct {
	URL    string
	Stream string
	// MaxAge bounds how long the stream keeps events. Zero keeps them forever.
	MaxAge time.Duration
	// Duplicates is the dedup window for message ids.
	Duplicates time.Duration
}

// Client is a transport.Transport backed by JetStream.
type Client struct {
	cfg    Config
	logger *zap.Logger

	nc      *nats.Conn
	js      jetstream.JetStream
	consume jetstream.ConsumeContext

	events chan transport.Event
	conn   chan transport.Connectivity

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to NATS, ensures the stream exists and starts an ordered
// consumer over every chatsync subject from the first stored event.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Stream == "" {
		cfg.Stream = "CHATSYNC"
	}
	if cfg.Duplicates <= 0 {
		cfg.Duplicates = 10 * time.Minute
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		events: make(chan transport.Event, 256),
		conn:   make(chan transport.Connectivity, 8),
		done:   make(chan struct{}),
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("chatsyncd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
			c.signal(transport.Offline)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
			c.signal(transport.Online)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	c.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	c.js = js

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "chatsync conversation and presence events",
		Subjects:    []string{subjectRoot + ".>"},
		MaxAge:      cfg.MaxAge,
		Duplicates:  cfg.Duplicates,
		Storage:     jetstream.FileStorage,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %q: %w", cfg.Stream, err)
	}

	cons, err := js.OrderedConsumer(ctx, cfg.Stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subjectRoot + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	cc, err := cons.Consume(c.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("start consuming: %w", err)
	}
	c.consume = cc

	c.signal(transport.Online)
	logger.Info("jetstream transport ready", zap.String("url", cfg.URL), zap.String("stream", cfg.Stream))
	return c, nil
}

func (c *Client) handle(msg jetstream.Msg) {
	meta, err := msg.Metadata()
	if err != nil {
		c.logger.Warn("stream message without metadata", zap.Error(err), zap.String("subject", msg.Subject()))
		return
	}
	evt, err := decode(msg.Subject(), msg.Data(), meta.Sequence.Stream, meta.Timestamp)
	if err != nil {
		c.logger.Warn("undecodable stream message", zap.Error(err), zap.Uint64("stream_seq", meta.Sequence.Stream))
		return
	}
	select {
	case c.events <- evt:
	case <-c.done:
	}
}

// Send publishes m with its id as the dedup key. A duplicate publish within
// the dedup window returns the original stream sequence.
func (c *Client) Send(ctx context.Context, m chat.Message) (transport.Ack, error) {
	body, err := encodeMessage(m)
	if err != nil {
		return transport.Ack{}, err
	}
	ack, err := c.js.Publish(ctx, ConversationSubject(m.ConversationID), body, jetstream.WithMsgID(m.ID))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return transport.Ack{}, err
		}
		return transport.Ack{}, fmt.Errorf("%w: %w", chat.ErrTransmissionFailed, err)
	}
	if ack.Duplicate {
		c.logger.Debug("duplicate send", zap.String("message_id", m.ID), zap.Uint64("seq", ack.Sequence))
	}
	return transport.Ack{Seq: int64(ack.Sequence), AckAt: time.Now()}, nil
}

// Publish implements transport.Transport.
func (c *Client) Publish(ctx context.Context, e transport.Event) error {
	subject, body, err := encodeEvent(e)
	if err != nil {
		return err
	}
	if _, err := c.js.Publish(ctx, subject, body); err != nil {
		return fmt.Errorf("%w: %w", chat.ErrTransmissionFailed, err)
	}
	return nil
}

// Events implements transport.Transport.
func (c *Client) Events() <-chan transport.Event { return c.events }

// Connectivity implements transport.Transport.
func (c *Client) Connectivity() <-chan transport.Connectivity { return c.conn }

// Close stops the consumer and drains the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.consume != nil {
			c.consume.Stop()
		}
		if c.nc != nil {
			err = c.nc.Drain()
		}
	})
	return err
}

func (c *Client) signal(state transport.Connectivity) {
	select {
	case c.conn <- state:
	default:
		c.logger.Debug("connectivity signal dropped", zap.String("state", string(state)))
	}
}

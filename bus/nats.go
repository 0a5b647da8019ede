package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/agentflow/errors"
)

// NATSBus implements MessageBus on a NATS connection. Subject and wildcard
// semantics are the same as MemoryBus.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
	owned  bool
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name reported to the server.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSBus connects to the server at cfg.URL.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	cfg = cfg.withDefaults()

	conn, err := nats.Connect(cfg.URL, natsOptions(cfg)...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect", errors.WithMetadata("url", cfg.URL))
	}
	return &NATSBus{conn: conn, config: cfg, owned: true}, nil
}

// NewNATSBusFromConn wraps an existing connection. Close does not close
// conn; the caller keeps ownership.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	return &NATSBus{conn: conn, config: cfg.withDefaults()}
}

func (cfg NATSConfig) withDefaults() NATSConfig {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	return cfg
}

func natsOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}

// Publish sends data to a subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.PublishMsg(&Message{Subject: subject, Data: data})
}

// PublishMsg sends a message, carrying Header as NATS headers.
func (b *NATSBus) PublishMsg(msg *Message) error {
	if err := ValidateSubject(msg.Subject); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}

	out := nats.NewMsg(msg.Subject)
	out.Data = msg.Data
	for k, v := range msg.Header {
		out.Header.Set(k, v)
	}
	if err := b.conn.PublishMsg(out); err != nil {
		if err == nats.ErrConnectionClosed {
			return ErrClosed
		}
		return errors.Wrap(err, "nats publish", errors.WithMetadata("subject", msg.Subject))
	}
	return nil
}

// Subscribe creates a subscription to a subject pattern.
func (b *NATSBus) Subscribe(pattern string) (Subscription, error) {
	return b.subscribe(pattern, "")
}

// QueueSubscribe creates a queue subscription; the server delivers each
// message to one member of the queue.
func (b *NATSBus) QueueSubscribe(pattern, queue string) (Subscription, error) {
	if queue == "" {
		return nil, ErrInvalidQueue
	}
	return b.subscribe(pattern, queue)
}

func (b *NATSBus) subscribe(pattern, queue string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	sub := &natsSub{
		pattern: pattern,
		ch:      make(chan *Message, b.config.BufferSize),
	}

	var err error
	if queue == "" {
		sub.sub, err = b.conn.Subscribe(pattern, sub.deliver)
	} else {
		sub.sub, err = b.conn.QueueSubscribe(pattern, queue, sub.deliver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "nats subscribe",
			errors.WithMetadata("pattern", pattern), errors.WithMetadata("queue", queue))
	}
	return sub, nil
}

// Close closes the connection when the bus created it. Subscription
// channels stay open until Unsubscribe.
func (b *NATSBus) Close() error {
	if b.owned {
		b.conn.Close()
	}
	return nil
}

// Conn returns the underlying NATS connection.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

type natsSub struct {
	pattern string
	sub     *nats.Subscription
	dropped atomic.Uint64

	mu     sync.Mutex
	ch     chan *Message
	closed bool
}

// deliver runs on the NATS dispatch goroutine.
func (s *natsSub) deliver(m *nats.Msg) {
	msg := &Message{Subject: m.Subject, Data: m.Data}
	if len(m.Header) > 0 {
		msg.Header = make(map[string]string, len(m.Header))
		for k := range m.Header {
			msg.Header[k] = m.Header.Get(k)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

func (s *natsSub) Subject() string {
	return s.pattern
}

func (s *natsSub) Messages() <-chan *Message {
	return s.ch
}

func (s *natsSub) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *natsSub) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return errors.Wrap(err, "nats unsubscribe", errors.WithMetadata("pattern", s.pattern))
	}
	return nil
}

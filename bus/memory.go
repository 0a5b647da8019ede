package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus implements MessageBus using in-memory channels.
// Delivery never blocks the publisher: a full subscription drops the message.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	queues map[queueKey]*queueGroup
	closed atomic.Bool
}

type queueKey struct {
	pattern string
	queue   string
}

type queueGroup struct {
	next    atomic.Uint64
	members []*memorySub
}

type memorySub struct {
	pattern string
	queue   string
	ch      chan *Message
	closed  atomic.Bool
	dropped atomic.Uint64
	bus     *MemoryBus
}

var _ MessageBus = (*MemoryBus)(nil)

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config: cfg,
		queues: make(map[queueKey]*queueGroup),
	}
}

// Publish sends data to all matching subscribers.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	return b.PublishMsg(&Message{Subject: subject, Data: data})
}

// PublishMsg sends msg to all matching subscribers and to one member of
// every matching queue group.
func (b *MemoryBus) PublishMsg(msg *Message) error {
	if msg == nil {
		return ErrInvalidSubject
	}
	if err := ValidateSubject(msg.Subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if Match(sub.pattern, msg.Subject) {
			sub.deliver(msg)
		}
	}
	for key, group := range b.queues {
		if Match(key.pattern, msg.Subject) {
			group.deliver(msg)
		}
	}
	return nil
}

// deliver hands msg to the next member in rotation, falling back to the
// following members when one is full.
func (g *queueGroup) deliver(msg *Message) {
	n := len(g.members)
	if n == 0 {
		return
	}
	start := int(g.next.Add(1)-1) % n
	for i := 0; i < n; i++ {
		sub := g.members[(start+i)%n]
		if sub.tryDeliver(msg) {
			return
		}
	}
	g.members[start].dropped.Add(1)
}

func (s *memorySub) deliver(msg *Message) {
	if !s.tryDeliver(msg) {
		s.dropped.Add(1)
	}
}

func (s *memorySub) tryDeliver(msg *Message) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// Subscribe creates a subscription to a subject pattern.
func (b *MemoryBus) Subscribe(pattern string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := b.newSub(pattern, "")
	b.subs = append(b.subs, sub)
	return sub, nil
}

// QueueSubscribe creates a queue subscription.
func (b *MemoryBus) QueueSubscribe(pattern, queue string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if queue == "" {
		return nil, ErrInvalidQueue
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, ErrClosed
	}

	key := queueKey{pattern: pattern, queue: queue}
	group := b.queues[key]
	if group == nil {
		group = &queueGroup{}
		b.queues[key] = group
	}

	sub := b.newSub(pattern, queue)
	group.members = append(group.members, sub)
	return sub, nil
}

func (b *MemoryBus) newSub(pattern, queue string) *memorySub {
	return &memorySub{
		pattern: pattern,
		queue:   queue,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}
}

// Close shuts down the bus.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.close()
	}
	for _, group := range b.queues {
		for _, sub := range group.members {
			sub.close()
		}
	}

	b.subs = nil
	b.queues = nil
	return nil
}

func (s *memorySub) close() {
	if !s.closed.Swap(true) {
		close(s.ch)
	}
}

// Subject returns the subscription pattern.
func (s *memorySub) Subject() string {
	return s.pattern
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Dropped returns the number of messages discarded on a full buffer.
func (s *memorySub) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed.Load() {
		return nil
	}

	if s.queue == "" {
		s.bus.subs = removeSub(s.bus.subs, s)
	} else if group := s.bus.queues[queueKey{s.pattern, s.queue}]; group != nil {
		group.members = removeSub(group.members, s)
		if len(group.members) == 0 {
			delete(s.bus.queues, queueKey{s.pattern, s.queue})
		}
	}

	s.close()
	return nil
}

func removeSub(subs []*memorySub, target *memorySub) []*memorySub {
	for i, sub := range subs {
		if sub == target {
			out := make([]*memorySub, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}

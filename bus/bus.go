// Package bus provides an in-process message bus for task-to-task traffic.
package bus

import (
	"strings"

	"github.com/vinayprograms/agentflow/errors"
)

// Common errors.
var (
	ErrClosed         = errors.New(errors.ErrCodeBusClosed, "bus closed")
	ErrInvalidSubject = errors.New(errors.ErrCodeInvalidConfig, "invalid subject")
	ErrInvalidQueue   = errors.New(errors.ErrCodeInvalidConfig, "invalid queue name")
)

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Header carries metadata such as trace context. May be nil.
	Header map[string]string

	// Data is the message payload.
	Data []byte
}

// MessageBus provides publish/subscribe messaging.
type MessageBus interface {
	// Publish sends data to every subscriber whose pattern matches subject.
	Publish(subject string, data []byte) error

	// PublishMsg sends a message with headers.
	PublishMsg(msg *Message) error

	// Subscribe creates a subscription to a subject pattern.
	// All subscribers receive all matching messages.
	Subscribe(pattern string) (Subscription, error)

	// QueueSubscribe creates a queue subscription.
	// Messages are load-balanced across members of the same queue.
	QueueSubscribe(pattern, queue string) (Subscription, error)

	// Close shuts down the bus and ends all subscriptions.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Subject returns the pattern this subscription was created with.
	Subject() string

	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Dropped returns how many messages were discarded because the
	// subscription buffer was full.
	Dropped() uint64

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks a concrete subject used for publishing.
// Subjects are dot-separated tokens; wildcards are not allowed.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "" || tok == "*" || tok == ">" {
			return ErrInvalidSubject
		}
	}
	return nil
}

// ValidatePattern checks a subscription pattern. "*" matches one token and
// ">" matches one or more trailing tokens.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidSubject
	}
	tokens := strings.Split(pattern, ".")
	for i, tok := range tokens {
		if tok == "" {
			return ErrInvalidSubject
		}
		if tok == ">" && i != len(tokens)-1 {
			return ErrInvalidSubject
		}
	}
	return nil
}

// Match reports whether subject matches pattern.
func Match(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

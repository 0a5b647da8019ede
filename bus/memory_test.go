package bus

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vinayprograms/agentflow/errors"
)

// receive waits up to timeout for the next message on sub.
func receive(t *testing.T, sub Subscription, timeout time.Duration) *Message {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for message on %q", sub.Subject())
		return nil
	}
}

func expectNone(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Errorf("unexpected message on %q: %q", sub.Subject(), msg.Subject)
	default:
	}
}

// --- Subjects ---

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject string
		wantErr bool
	}{
		{"foo", false},
		{"foo.bar", false},
		{"heartbeat.relay-a", false},
		{"", true},
		{"foo..bar", true},
		{"foo.*", true},
		{"foo.>", true},
		{".foo", true},
	}

	for _, tt := range tests {
		err := ValidateSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSubject(%q) = %v, wantErr %v", tt.subject, err, tt.wantErr)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr bool
	}{
		{"foo", false},
		{"foo.*", false},
		{"foo.>", false},
		{">", false},
		{"*.bar.*", false},
		{"", true},
		{"foo.>.bar", true},
		{"foo.", true},
	}

	for _, tt := range tests {
		err := ValidatePattern(tt.pattern)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePattern(%q) = %v, wantErr %v", tt.pattern, err, tt.wantErr)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"foo", "foo", true},
		{"foo", "bar", false},
		{"foo.bar", "foo.bar", true},
		{"foo.*", "foo.bar", true},
		{"foo.*", "foo", false},
		{"foo.*", "foo.bar.baz", false},
		{"*.bar", "foo.bar", true},
		{"foo.>", "foo.bar", true},
		{"foo.>", "foo.bar.baz", true},
		{"foo.>", "foo", false},
		{">", "anything.at.all", true},
		{"heartbeat.>", "heartbeat.relay-a", true},
		{"heartbeat.>", "relay.a.out", false},
	}

	for _, tt := range tests {
		if got := Match(tt.pattern, tt.subject); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}

// --- Pub/Sub ---

func TestMemoryBus_Publish(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	// Publish without subscribers should not error
	if err := bus.Publish("test", []byte("hello")); err != nil {
		t.Errorf("Publish error: %v", err)
	}
}

func TestMemoryBus_PublishInvalidSubject(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	if err := bus.Publish("", []byte("hello")); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
	if err := bus.Publish("foo.*", []byte("hello")); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject for wildcard publish, got %v", err)
	}
	if err := bus.PublishMsg(nil); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject for nil message, got %v", err)
	}
}

func TestMemoryBus_Subscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, err := bus.Subscribe("test")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	bus.Publish("test", []byte("hello"))

	msg := receive(t, sub, time.Second)
	if string(msg.Data) != "hello" {
		t.Errorf("data = %q, want %q", msg.Data, "hello")
	}
	if msg.Subject != "test" {
		t.Errorf("subject = %q, want %q", msg.Subject, "test")
	}
}

func TestMemoryBus_PublishMsgHeaders(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("test")
	defer sub.Unsubscribe()

	header := map[string]string{"traceparent": "00-abc-def-01"}
	if err := bus.PublishMsg(&Message{Subject: "test", Header: header, Data: []byte("x")}); err != nil {
		t.Fatalf("PublishMsg error: %v", err)
	}

	msg := receive(t, sub, time.Second)
	if diff := cmp.Diff(header, msg.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryBus_Wildcards(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	all, _ := bus.Subscribe("heartbeat.>")
	one, _ := bus.Subscribe("heartbeat.a")
	other, _ := bus.Subscribe("relay.*.out")

	bus.Publish("heartbeat.a", []byte("1"))
	bus.Publish("heartbeat.b", []byte("2"))

	if got := receive(t, all, time.Second).Subject; got != "heartbeat.a" {
		t.Errorf("first wildcard message = %q, want heartbeat.a", got)
	}
	if got := receive(t, all, time.Second).Subject; got != "heartbeat.b" {
		t.Errorf("second wildcard message = %q, want heartbeat.b", got)
	}
	if got := receive(t, one, time.Second).Subject; got != "heartbeat.a" {
		t.Errorf("exact message = %q, want heartbeat.a", got)
	}
	expectNone(t, one)
	expectNone(t, other)
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub1, _ := bus.Subscribe("test")
	sub2, _ := bus.Subscribe("test")
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	bus.Publish("test", []byte("hello"))

	// Both should receive
	for i, sub := range []Subscription{sub1, sub2} {
		if msg := receive(t, sub, time.Second); string(msg.Data) != "hello" {
			t.Errorf("sub%d: data = %q, want %q", i+1, msg.Data, "hello")
		}
	}
}

func TestMemoryBus_QueueSubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	var subs []Subscription
	for i := 0; i < 3; i++ {
		sub, err := bus.QueueSubscribe("test", "workers")
		if err != nil {
			t.Fatalf("QueueSubscribe error: %v", err)
		}
		subs = append(subs, sub)
	}
	plain, _ := bus.Subscribe("test")

	for i := 0; i < 9; i++ {
		bus.Publish("test", []byte("msg"))
	}

	// Round-robin spreads the load evenly.
	for i, sub := range subs {
		if got := len(sub.Messages()); got != 3 {
			t.Errorf("queue member %d received %d, want 3", i, got)
		}
	}
	if got := len(plain.Messages()); got != 9 {
		t.Errorf("plain subscriber received %d, want 9", got)
	}
}

func TestMemoryBus_QueueSubscribeInvalid(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	if _, err := bus.QueueSubscribe("test", ""); err != ErrInvalidQueue {
		t.Errorf("expected ErrInvalidQueue, got %v", err)
	}
	if _, err := bus.QueueSubscribe("", "workers"); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}

func TestMemoryBus_QueueFallbackWhenFull(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 1})
	defer bus.Close()

	a, _ := bus.QueueSubscribe("test", "workers")
	b, _ := bus.QueueSubscribe("test", "workers")

	bus.Publish("test", []byte("1"))
	bus.Publish("test", []byte("2"))
	bus.Publish("test", []byte("3")) // both full

	if len(a.Messages()) != 1 || len(b.Messages()) != 1 {
		t.Errorf("expected one message per member, got %d and %d", len(a.Messages()), len(b.Messages()))
	}
	if a.Dropped()+b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", a.Dropped()+b.Dropped())
	}
}

// --- Failure Tests ---

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	bus.Close()

	err := bus.Publish("test", []byte("hello"))
	if err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if !errors.Is(err, errors.ErrCodeBusClosed) {
		t.Errorf("Code = %v, want BUS_CLOSED", errors.Code(err))
	}
}

func TestMemoryBus_SubscribeAfterClose(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	bus.Close()

	if _, err := bus.Subscribe("test"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := bus.QueueSubscribe("test", "q"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("test")

	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe error: %v", err)
	}

	// Channel should be closed after unsubscribe
	if _, ok := <-sub.Messages(); ok {
		t.Error("expected channel to be closed after unsubscribe")
	}

	// Publishing to a subject with no subscribers is fine
	if err := bus.Publish("test", []byte("hello")); err != nil {
		t.Errorf("Publish error: %v", err)
	}
}

func TestMemoryBus_UnsubscribeQueueMember(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	a, _ := bus.QueueSubscribe("test", "workers")
	b, _ := bus.QueueSubscribe("test", "workers")
	a.Unsubscribe()

	for i := 0; i < 4; i++ {
		bus.Publish("test", []byte("msg"))
	}
	if got := len(b.Messages()); got != 4 {
		t.Errorf("remaining member received %d, want 4", got)
	}
}

func TestMemoryBus_CloseClosesSubscriptions(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	sub, _ := bus.Subscribe("test")
	qsub, _ := bus.QueueSubscribe("test", "workers")

	bus.Close()
	bus.Close()

	for _, s := range []Subscription{sub, qsub} {
		if _, ok := <-s.Messages(); ok {
			t.Error("expected channel to be closed")
		}
		if err := s.Unsubscribe(); err != nil {
			t.Errorf("Unsubscribe after Close error: %v", err)
		}
	}
}

func TestMemoryBus_BufferFull(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 1})
	defer bus.Close()

	sub, _ := bus.Subscribe("test")

	bus.Publish("test", []byte("1"))
	bus.Publish("test", []byte("2")) // Should be dropped

	if msg := receive(t, sub, time.Second); string(msg.Data) != "1" {
		t.Errorf("expected first message, got %q", msg.Data)
	}
	expectNone(t, sub)

	if sub.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", sub.Dropped())
	}
}

func BenchmarkMemoryBus_Publish(b *testing.B) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("bench.>")
	go func() {
		for range sub.Messages() {
		}
	}()

	data := []byte("benchmark message")
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		bus.Publish("bench.relay", data)
	}
}

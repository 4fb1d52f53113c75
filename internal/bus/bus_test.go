package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"mootbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	b.Publish(domain.NewInbound("telegram", "1", "42", "hello"))

	select {
	case msg := <-b.Subscribe():
		if msg.Content != "hello" {
			t.Fatalf("expected 'hello', got %q", msg.Content)
		}
		if msg.ID == "" {
			t.Fatal("expected correlation ID to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestOutboundRouting(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	got := make(chan domain.OutboundMessage, 1)
	b.OnOutbound("telegram", func(msg domain.OutboundMessage) { got <- msg })

	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi there"})

	select {
	case msg := <-got:
		if msg.Content != "hi there" {
			t.Fatalf("expected 'hi there', got %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound handler not called")
	}
}

func TestOutboundUnknownChannelDoesNotPanic(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	b.SendOutbound(domain.OutboundMessage{Channel: "nope", Content: "x"})
}

func TestPublishAfterClose(t *testing.T) {
	b := New(4, testLogger())
	b.Close()

	// Must not panic on a closed bus.
	b.Publish(domain.NewInbound("cli", "direct", "user", "late"))
}

func TestCloseTwice(t *testing.T) {
	b := New(4, testLogger())
	b.Close()
	b.Close()
}

func TestSubscribeDrainsInOrder(t *testing.T) {
	b := New(8, testLogger())
	defer b.Close()

	for _, s := range []string{"a", "b", "c"} {
		b.Publish(domain.NewInbound("cli", "direct", "user", s))
	}

	in := b.Subscribe()
	for _, want := range []string{"a", "b", "c"} {
		select {
		case msg := <-in:
			if msg.Content != want {
				t.Fatalf("expected %q, got %q", want, msg.Content)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

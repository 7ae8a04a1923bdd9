package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundtrip(t *testing.T) {
	b := NewMessageBus()
	in := InboundMessage{Channel: "loopback", SenderID: "local", ChatID: "local", Content: "hi"}
	if err := b.PublishInbound(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-b.Inbound():
		if got.Content != "hi" || got.Channel != "loopback" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound message never arrived")
	}
}

func TestOutboundRoundtrip(t *testing.T) {
	b := NewMessageBus()
	out := OutboundMessage{Channel: "loopback", ChatID: "local", Content: "reply"}
	if err := b.PublishOutbound(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-b.Outbound():
		if got.Content != "reply" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound message never arrived")
	}
}

func TestPublishHonorsContextWhenFull(t *testing.T) {
	b := NewMessageBus()
	ctx := context.Background()
	for i := 0; i < queueDepth; i++ {
		if err := b.PublishInbound(ctx, InboundMessage{Content: "fill"}); err != nil {
			t.Fatal(err)
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := b.PublishInbound(cancelled, InboundMessage{Content: "overflow"}); err == nil {
		t.Fatal("publish on a full queue with a dead context succeeded")
	}
}

package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribeToRoundtrip(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Bridge.Listening, WithSubscriptionName("test"))
	defer sub.Close()

	payload := ListeningEvent{
		SessionID: "s1",
		Address:   "http://localhost:8080/",
		PlayerURL: "https://apps.powerapps.com/play/e/env/a/local",
	}

	Publish(context.Background(), bus, Bridge.Listening, SourceBridge, payload)

	select {
	case env := <-sub.C():
		if env.Payload.SessionID != "s1" {
			t.Fatalf("expected SessionID=s1, got %s", env.Payload.SessionID)
		}
		if env.Payload.Address != "http://localhost:8080/" {
			t.Fatalf("expected Address=http://localhost:8080/, got %s", env.Payload.Address)
		}
		if env.Source != SourceBridge {
			t.Fatalf("expected Source=%s, got %s", SourceBridge, env.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishWithOptsTimestamp(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := SubscribeTo(bus, Config.Invalidated, WithSubscriptionName("test"))
	defer sub.Close()

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	payload := ConfigInvalidatedEvent{
		Path:   "power.config.json",
		Reason: InvalidateFileChanged,
	}

	PublishWithOpts(context.Background(), bus, Config.Invalidated, SourceWatcher, payload, WithTimestamp(ts))

	select {
	case env := <-sub.C():
		if env.Payload.Reason != InvalidateFileChanged {
			t.Fatalf("expected Reason=%s, got %s", InvalidateFileChanged, env.Payload.Reason)
		}
		if !env.Timestamp.Equal(ts) {
			t.Fatalf("expected Timestamp=%v, got %v", ts, env.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishNilBusNoPanic(t *testing.T) {
	// Must be a quiet no-op.
	Publish(context.Background(), nil, Bridge.Listening, SourceBridge, ListeningEvent{})
	PublishWithOpts(context.Background(), nil, Config.Changed, SourceWatcher, ConfigChangedEvent{}, WithTimestamp(time.Now()))
}

func TestSubscribeToNilBus(t *testing.T) {
	sub := SubscribeTo[ListeningEvent](nil, Bridge.Listening)
	defer sub.Close()

	// The subscription channel arrives already closed.
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel for nil bus")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out - channel should be closed for nil bus")
	}
}

func TestTopicDefTopic(t *testing.T) {
	td := NewTopicDef[ListeningEvent](TopicBridgeListening)
	if td.Topic() != TopicBridgeListening {
		t.Fatalf("expected %s, got %s", TopicBridgeListening, td.Topic())
	}
}

func TestDescriptorTopicsMatch(t *testing.T) {
	tests := []struct {
		name string
		got  Topic
		want Topic
	}{
		{"Bridge.Listening", Bridge.Listening.Topic(), TopicBridgeListening},
		{"Config.Changed", Config.Changed.Topic(), TopicConfigChanged},
		{"Config.Invalidated", Config.Invalidated.Topic(), TopicConfigInvalidated},
		{"DevServer.State", DevServer.State.Topic(), TopicDevServerState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shaiso/strategy-repository/internal/mq"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_Register(t *testing.T) {
	d := New(testLogger())
	noop := func(context.Context, json.RawMessage) error { return nil }

	if err := d.Register("strategy.validated", noop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := d.Register("strategy.validated", noop)
	if !errors.Is(err, ErrDuplicateHandler) {
		t.Errorf("expected ErrDuplicateHandler, got %v", err)
	}

	if err := d.Register("", noop); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("expected ErrEmptyTopic, got %v", err)
	}
	if err := d.Register("x", nil); err == nil {
		t.Error("expected error for nil handler")
	}

	if !d.Has("strategy.validated") {
		t.Error("strategy.validated should be registered")
	}
	if d.Has("x") {
		t.Error("x should not be registered")
	}
}

func TestDispatcher_Topics(t *testing.T) {
	d := New(testLogger())
	noop := func(context.Context, json.RawMessage) error { return nil }

	for _, topic := range []string{"strategy.failed", "backtest.completed", "strategy.validated"} {
		if err := d.Register(topic, noop); err != nil {
			t.Fatalf("register %s: %v", topic, err)
		}
	}

	topics := d.Topics()
	want := []string{"backtest.completed", "strategy.failed", "strategy.validated"}
	if len(topics) != len(want) {
		t.Fatalf("expected %d topics, got %d", len(want), len(topics))
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("topics[%d] = %s, want %s", i, topics[i], want[i])
		}
	}
}

func TestDispatcher_DispatchPassesData(t *testing.T) {
	d := New(testLogger())

	var got json.RawMessage
	d.Register("strategy.validated", func(_ context.Context, data json.RawMessage) error {
		got = data
		return nil
	})

	data := json.RawMessage(`{"strategy_id":"S1","is_valid":true}`)
	if err := d.Dispatch(context.Background(), "strategy.validated", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("expected %s, got %s", data, got)
	}
}

func TestDispatcher_HandlerErrorWrapped(t *testing.T) {
	d := New(testLogger())
	storeErr := errors.New("store unavailable")
	d.Register("backtest.completed", func(context.Context, json.RawMessage) error {
		return storeErr
	})

	err := d.Dispatch(context.Background(), "backtest.completed", json.RawMessage(`{}`))

	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) {
		t.Fatalf("expected HandlerError, got %v", err)
	}
	if handlerErr.Topic != "backtest.completed" {
		t.Errorf("unexpected topic %s", handlerErr.Topic)
	}
	if !errors.Is(err, storeErr) {
		t.Error("HandlerError should unwrap to the handler's error")
	}
}

func TestDispatcher_PanicIsolated(t *testing.T) {
	d := New(testLogger())
	d.Register("strategy.failed", func(context.Context, json.RawMessage) error {
		panic("nil map")
	})
	called := false
	d.Register("strategy.validated", func(context.Context, json.RawMessage) error {
		called = true
		return nil
	})

	err := d.Dispatch(context.Background(), "strategy.failed", json.RawMessage(`{}`))
	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) {
		t.Fatalf("expected HandlerError from panic, got %v", err)
	}

	if err := d.Dispatch(context.Background(), "strategy.validated", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("other topic handler should still run")
	}
}

func TestDispatcher_NoHandler(t *testing.T) {
	d := New(testLogger())

	err := d.Dispatch(context.Background(), "unknown.topic", nil)
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
}

func TestDispatcher_HandleUsesDeliveryTopic(t *testing.T) {
	d := New(testLogger())

	var got string
	d.Register("evaluation.completed", func(_ context.Context, data json.RawMessage) error {
		got = string(data)
		return nil
	})

	delivery := &mq.Delivery{
		Topic: "evaluation.completed",
		Envelope: &mq.Envelope{
			EventID:   "e-1",
			EventType: "evaluation.completed",
			Data:      json.RawMessage(`{"ai_score":0.8}`),
		},
	}

	if err := d.Handle(context.Background(), delivery); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"ai_score":0.8}` {
		t.Errorf("unexpected data %s", got)
	}
}

func TestDispatcher_HandleFallsBackToEventType(t *testing.T) {
	d := New(testLogger())

	called := false
	d.Register("strategy.failed", func(context.Context, json.RawMessage) error {
		called = true
		return errors.New("boom")
	})

	err := d.Handle(context.Background(), &mq.Delivery{
		Envelope: &mq.Envelope{EventID: "e-2", EventType: "strategy.failed", Data: json.RawMessage(`{}`)},
	})

	if !called {
		t.Fatal("handler should be called")
	}
	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) || handlerErr.EventID != "e-2" {
		t.Errorf("expected HandlerError with event id, got %v", err)
	}
}

type fakeSubscriber struct {
	topics []string
	fail   string
}

func (f *fakeSubscriber) SubscribeToEvent(_ context.Context, topic string, _ mq.Handler) error {
	if topic == f.fail {
		return errors.New("channel closed")
	}
	f.topics = append(f.topics, topic)
	return nil
}

func TestDispatcher_Bind(t *testing.T) {
	d := New(testLogger())
	noop := func(context.Context, json.RawMessage) error { return nil }
	d.Register("strategy.validated", noop)
	d.Register("strategy.invalidated", noop)

	sub := &fakeSubscriber{}
	if err := d.Bind(context.Background(), sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.topics) != 2 {
		t.Errorf("expected 2 subscriptions, got %v", sub.topics)
	}

	failing := &fakeSubscriber{fail: "strategy.validated"}
	if err := d.Bind(context.Background(), failing); err == nil {
		t.Error("expected bind error")
	}
}

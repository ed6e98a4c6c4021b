package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type testEvent struct {
	kind string
	data any
}

func (e testEvent) EventType() string { return e.kind }
func (e testEvent) Payload() any      { return e.data }

type recordingSubscriber struct {
	mu      sync.Mutex
	msgs    []Message
	closed  bool
	sendErr error
}

func (s *recordingSubscriber) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErr != nil {
		return s.sendErr
	}

	s.msgs = append(s.msgs, msg)

	return nil
}

func (s *recordingSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

func (s *recordingSubscriber) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.Type)
	}

	return out
}

func (s *recordingSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBroker(t *testing.T, size int) (*Broker, context.CancelFunc) {
	t.Helper()

	b := NewBroker(size, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	go b.Run(ctx)

	t.Cleanup(func() {
		cancel()
		<-b.done
	})

	return b, cancel
}

func TestBroker_DeliversInOrder(t *testing.T) {
	b, _ := startBroker(t, 0)
	ctx := context.Background()

	sub := &recordingSubscriber{}
	require.NoError(t, b.Subscribe(ctx, sub))

	for _, kind := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(ctx, testEvent{kind: kind}))
	}

	assert.Eventually(t, func() bool { return len(sub.types()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, sub.types())
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestBroker_PayloadAndTimestamp(t *testing.T) {
	b, _ := startBroker(t, 0)
	fixed := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	sub := &recordingSubscriber{}
	require.NoError(t, b.Subscribe(context.Background(), sub))
	require.NoError(t, b.Publish(context.Background(), testEvent{kind: "sync.status", data: 42}))

	require.Eventually(t, func() bool { return len(sub.types()) == 1 }, time.Second, 5*time.Millisecond)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, Message{Type: "sync.status", Timestamp: fixed, Data: 42}, sub.msgs[0])
}

func TestBroker_Unsubscribe(t *testing.T) {
	b, _ := startBroker(t, 0)
	ctx := context.Background()

	sub := &recordingSubscriber{}
	require.NoError(t, b.Subscribe(ctx, sub))
	require.NoError(t, b.Unsubscribe(ctx, sub))

	assert.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, sub.isClosed())
}

func TestBroker_FailingSubscriberIsDropped(t *testing.T) {
	b, _ := startBroker(t, 0)
	ctx := context.Background()

	bad := &recordingSubscriber{sendErr: errors.New("gone")}
	good := &recordingSubscriber{}
	require.NoError(t, b.Subscribe(ctx, bad))
	require.NoError(t, b.Subscribe(ctx, good))

	require.NoError(t, b.Publish(ctx, testEvent{kind: "x"}))

	assert.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, bad.isClosed())
	assert.Eventually(t, func() bool { return len(good.types()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBroker_PublishDropsWhenFull(t *testing.T) {
	b := NewBroker(1, quietLogger())

	require.NoError(t, b.Publish(context.Background(), testEvent{kind: "first"}))
	assert.ErrorIs(t, b.Publish(context.Background(), testEvent{kind: "second"}), ErrBufferFull)
}

func TestBroker_StopClosesSubscribers(t *testing.T) {
	b := NewBroker(0, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	go b.Run(ctx)

	sub := &recordingSubscriber{}
	require.NoError(t, b.Subscribe(ctx, sub))

	cancel()
	<-b.done

	assert.True(t, sub.isClosed())
	assert.Zero(t, b.SubscriberCount())
	assert.ErrorIs(t, b.Publish(context.Background(), testEvent{kind: "late"}), ErrBrokerStopped)
	assert.ErrorIs(t, b.Subscribe(context.Background(), &recordingSubscriber{}), ErrBrokerStopped)
}

func TestBroker_SubscribeHonoursContext(t *testing.T) {
	b := NewBroker(0, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, b.Subscribe(ctx, &recordingSubscriber{}), context.DeadlineExceeded)
}

func TestWebSocketSubscriber_StreamsMessages(t *testing.T) {
	b, _ := startBroker(t, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := AcceptWebSocket(w, r, nil)
		if err != nil {
			return
		}

		if err := b.Subscribe(r.Context(), sub); err != nil {
			_ = sub.Close()
			return
		}

		_ = sub.Serve(r.Context())
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Publish(ctx, testEvent{kind: "sync.status", data: map[string]any{"message": "ok"}}))

	var got Message
	require.NoError(t, wsjson.Read(ctx, conn, &got))

	assert.Equal(t, "sync.status", got.Type)
	assert.Equal(t, map[string]any{"message": "ok"}, got.Data)
}

func TestWebSocketSubscriber_SendAfterClose(t *testing.T) {
	s := &WebSocketSubscriber{queue: make(chan Message, 1), closed: make(chan struct{})}
	close(s.closed)

	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrSubscriberClosed)
}

func TestWebSocketSubscriber_SlowConsumer(t *testing.T) {
	s := &WebSocketSubscriber{queue: make(chan Message, 1), closed: make(chan struct{})}

	require.NoError(t, s.Send(context.Background(), Message{Type: "a"}))
	assert.ErrorIs(t, s.Send(context.Background(), Message{Type: "b"}), errSlowConsumer)
}

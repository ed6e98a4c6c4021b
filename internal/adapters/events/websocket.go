package events

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrSubscriberClosed is returned by Send after Close.
var ErrSubscriberClosed = errors.New("subscriber closed")

// errSlowConsumer is returned by Send when the client's queue is full.
var errSlowConsumer = errors.New("websocket client is not keeping up")

const (
	wsQueueSize    = 16
	wsWriteTimeout = 5 * time.Second
)

// WebSocketSubscriber streams broker messages to one websocket client as JSON.
type WebSocketSubscriber struct {
	conn  *websocket.Conn
	queue chan Message

	closeOnce sync.Once
	closed    chan struct{}
}

// AcceptWebSocket upgrades the request and returns a subscriber for the connection.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*WebSocketSubscriber, error) {
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}

	return &WebSocketSubscriber{
		conn:   conn,
		queue:  make(chan Message, wsQueueSize),
		closed: make(chan struct{}),
	}, nil
}

// Send queues msg for the client without blocking.
func (s *WebSocketSubscriber) Send(_ context.Context, msg Message) error {
	select {
	case <-s.closed:
		return ErrSubscriberClosed
	default:
	}

	select {
	case s.queue <- msg:
		return nil
	default:
		return errSlowConsumer
	}
}

// Serve writes queued messages until the client goes away, ctx ends or Close is called.
// Inbound frames are discarded.
func (s *WebSocketSubscriber) Serve(ctx context.Context) error {
	ctx = s.conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = s.Close()

			return ctx.Err()

		case <-s.closed:
			return nil

		case msg := <-s.queue:
			if err := s.write(ctx, msg); err != nil {
				_ = s.Close()

				return err
			}
		}
	}
}

func (s *WebSocketSubscriber) write(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	return wsjson.Write(ctx, s.conn, msg)
}

// Close ends the stream with a normal closure. It is safe to call more than once.
func (s *WebSocketSubscriber) Close() error {
	var err error

	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	})

	return err
}

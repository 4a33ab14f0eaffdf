// Package sink holds the endpoints events are delivered to.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"trade-chat/contract"
	"trade-chat/domain/event"
	"trade-chat/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	TypeError = "ERROR"
)

// Envelope is the only frame shape written to clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type ErrorPayload struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

var _ contract.EventSink = (*WebsocketSink)(nil)

// WebsocketSink is the live session of one user.
// Writes go through a buffered channel drained by a single write loop,
// so concurrent Consume calls never interleave frames.
type WebsocketSink struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	log    *slog.Logger
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

func NewWebsocketSink(userID string, ws *websocket.Conn, log *slog.Logger, bufferSize int) *WebsocketSink {
	return &WebsocketSink{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		log:    log,
		send:   make(chan []byte, bufferSize),
		closed: make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once.
func (s *WebsocketSink) Start() {
	go s.writeLoop()
}

// Consume enqueues the event. When the buffer stays full until ctx expires the
// client is considered stuck and the session is closed.
func (s *WebsocketSink) Consume(ctx context.Context, e event.DomainEvent) error {
	payload, err := json.Marshal(Envelope{Type: string(e.Kind()), Payload: e})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrDeliveryFailed, err)
	}
	select {
	case <-s.closed:
		return fmt.Errorf("%w: session closed", errors.ErrDeliveryFailed)
	case s.send <- payload:
		return nil
	case <-ctx.Done():
		s.Close(websocket.CloseTryAgainLater, "slow consumer")
		return fmt.Errorf("%w: %v", errors.ErrDeliveryFailed, ctx.Err())
	}
}

// SendError reports a failed inbound frame to this session only.
func (s *WebsocketSink) SendError(err error) {
	payload, marshalErr := json.Marshal(Envelope{Type: TypeError, Payload: ErrorPayload{
		Error:     err.Error(),
		Retryable: errors.IsRetryable(err),
	}})
	if marshalErr != nil {
		return
	}
	select {
	case <-s.closed:
	case s.send <- payload:
	default:
		s.log.Debug("Error frame dropped, send buffer full", "user_id", s.UserID)
	}
}

// Done is closed once the session is closed.
func (s *WebsocketSink) Done() <-chan struct{} {
	return s.closed
}

// Close terminates the session and stops the write loop.
func (s *WebsocketSink) Close(code int, reason string) {
	s.once.Do(func() {
		close(s.closed)
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = s.ws.Close()
	})
}

func (s *WebsocketSink) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case payload := <-s.send:
			if err := s.write(websocket.TextMessage, payload); err != nil {
				s.log.Debug("Write failed, closing session", "user_id", s.UserID, "error", err)
				s.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (s *WebsocketSink) write(messageType int, payload []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(messageType, payload)
}

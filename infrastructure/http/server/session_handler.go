package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"trade-chat/auth"
	"trade-chat/contract"
	"trade-chat/errors"
	"trade-chat/services"
	"trade-chat/sink"

	"github.com/gorilla/websocket"
)

const (
	maxFrameBytes = 64 << 10

	defaultReadTimeout       = 60 * time.Second
	defaultInflightTimeout   = 5 * time.Second
	defaultSessionBufferSize = 128

	FrameChat   = "CHAT"
	FrameTyping = "TYPING"
	FrameRead   = "READ"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Authentication is the bearer token, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// inboundFrame mirrors the outbound envelope.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type chatFrame struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content"`
}

type typingFrame struct {
	ConversationID string `json:"conversationId" validate:"required"`
	ReceiverID     string `json:"receiverId" validate:"required"`
}

type readFrame struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

// SessionHandler owns the live channel of each connected user.
type SessionHandler struct {
	log         *slog.Logger
	chatService services.IChatService
	registry    contract.IRegistry
	cfg         Config
}

func NewSessionHandler(log *slog.Logger, chatService services.IChatService,
	registry contract.IRegistry, cfg Config) *SessionHandler {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.InflightTimeout <= 0 {
		cfg.InflightTimeout = defaultInflightTimeout
	}
	if cfg.SessionBufferSize <= 0 {
		cfg.SessionBufferSize = defaultSessionBufferSize
	}
	return &SessionHandler{log: log, chatService: chatService, registry: registry, cfg: cfg}
}

// ServeWS registers the caller's session and processes inbound frames until
// the client disconnects. A newer connection of the same user closes this one.
func (h *SessionHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(h.log, w, r, errors.ErrUnauthenticated)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response
		h.log.Debug("Websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	session := sink.NewWebsocketSink(userID, ws, h.log, h.cfg.SessionBufferSize)
	session.Start()
	if previous, replaced := h.registry.Subscribe(userID, session); replaced {
		if old, ok := previous.(*sink.WebsocketSink); ok {
			old.Close(websocket.ClosePolicyViolation, "replaced by a newer session")
		}
	}
	h.log.Info("Session opened", "user_id", userID, "session_id", session.ID)
	defer func() {
		h.registry.Unsubscribe(userID, session)
		session.Close(websocket.CloseNormalClosure, "session closed")
		h.log.Info("Session closed", "user_id", userID, "session_id", session.ID)
	}()

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.log.Debug("Session read ended", "user_id", userID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		if err = h.handle(r.Context(), userID, data); err != nil {
			session.SendError(err)
		}
	}
}

// handle runs one inbound frame through the same operations as the REST routes.
func (h *SessionHandler) handle(ctx context.Context, userID string, data []byte) error {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("%w: malformed frame", errors.ErrInvalidRequest)
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.InflightTimeout)
	defer cancel()

	switch frame.Type {
	case FrameChat:
		var payload chatFrame
		if err := unmarshalPayload(frame, &payload); err != nil {
			return err
		}
		_, err := h.chatService.SendMessage(ctx, userID, payload.ReceiverID, payload.Content)
		return err
	case FrameTyping:
		var payload typingFrame
		if err := unmarshalPayload(frame, &payload); err != nil {
			return err
		}
		return h.chatService.SendTypingIndicator(ctx, payload.ConversationID, userID, payload.ReceiverID)
	case FrameRead:
		var payload readFrame
		if err := unmarshalPayload(frame, &payload); err != nil {
			return err
		}
		return h.chatService.MarkRead(ctx, payload.ConversationID, userID)
	default:
		return fmt.Errorf("%w: unknown frame type %q", errors.ErrInvalidRequest, frame.Type)
	}
}

func unmarshalPayload(frame inboundFrame, into any) error {
	if err := json.Unmarshal(frame.Payload, into); err != nil {
		return fmt.Errorf("%w: malformed %s payload", errors.ErrInvalidRequest, frame.Type)
	}
	return auth.ValidateRequest(into)
}

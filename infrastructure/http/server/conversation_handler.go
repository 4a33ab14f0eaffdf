package server

import (
	"context"
	"log/slog"
	"net/http"
	"trade-chat/auth"
	"trade-chat/domain"
	"trade-chat/errors"
	"trade-chat/services"

	"github.com/gorilla/mux"
)

type ConversationHandler struct {
	log         *slog.Logger
	chatService services.IChatService
}

func NewConversationHandler(log *slog.Logger, chatService services.IChatService) *ConversationHandler {
	return &ConversationHandler{log: log, chatService: chatService}
}

type getOrCreateRequest struct {
	OtherUserID string `json:"otherUserId" validate:"required"`
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content"`
}

type typingRequest struct {
	ReceiverID string `json:"receiverId" validate:"required"`
}

// caller extracts the authenticated user; the middleware guarantees it on API routes.
func (h *ConversationHandler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(h.log, w, r, errors.ErrUnauthenticated)
	}
	return userID, ok
}

func (h *ConversationHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var request getOrCreateRequest
	if err := h.bind(w, r, &request); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	conversation, err := h.chatService.GetOrCreateConversation(r.Context(), userID, request.OtherUserID)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	views, err := h.chatService.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if views == nil {
		views = []domain.ConversationView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	messages, err := h.chatService.ListMessages(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var request sendMessageRequest
	if err := h.bind(w, r, &request); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	message, err := h.chatService.SendMessage(r.Context(), userID, request.ReceiverID, request.Content)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.chatService.MarkRead)
}

func (h *ConversationHandler) Typing(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var request typingRequest
	if err := h.bind(w, r, &request); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	if err := h.chatService.SendTypingIndicator(r.Context(), mux.Vars(r)["id"], userID, request.ReceiverID); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.chatService.ClearConversation)
}

func (h *ConversationHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.chatService.RestoreConversation)
}

// command runs a body-less operation on the conversation in the path.
func (h *ConversationHandler) command(w http.ResponseWriter, r *http.Request,
	operation func(ctx context.Context, conversationID, userID string) error) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := operation(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) bind(w http.ResponseWriter, r *http.Request, into any) error {
	if err := decode(w, r, into); err != nil {
		return err
	}
	return auth.ValidateRequest(into)
}

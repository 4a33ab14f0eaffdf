package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"trade-chat/auth"
	"trade-chat/domain"
	"trade-chat/errors"
	"trade-chat/mocks"
	"trade-chat/runtime"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const secret = "a_test_secret_that_is_long_enough"

type harness struct {
	server   *httptest.Server
	service  *mocks.MockIChatService
	registry *runtime.Registry
	tokens   *auth.TokenManager
}

func newHarness(t *testing.T) harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	service := mocks.NewMockIChatService(ctrl)
	registry := runtime.NewRegistry()
	tokens := auth.NewTokenManager(secret, time.Hour)
	router := NewRouter(logs.GetLoggerFromLevel(slog.LevelDebug), service, registry, tokens, Config{
		SessionBufferSize: 16,
		InflightTimeout:   time.Second,
		ReadTimeout:       5 * time.Second,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return harness{server: server, service: service, registry: registry, tokens: tokens}
}

func (h harness) do(t *testing.T, userID, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		token, err := h.tokens.GenerateToken(userID)
		require.NoError(t, err)
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func decodeBody[T any](t *testing.T, response *http.Response) T {
	t.Helper()
	var body T
	require.NoError(t, json.NewDecoder(response.Body).Decode(&body))
	return body
}

func TestRouter_Health_Is_Public(t *testing.T) {
	h := newHarness(t)
	response := h.do(t, "", http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, response.StatusCode)
}

func TestRouter_Requires_Token(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	response := h.do(t, "", http.MethodGet, "/api/v1/conversations", nil)
	req.Equal(http.StatusUnauthorized, response.StatusCode)
	body := decodeBody[errorResponse](t, response)
	req.False(body.Retryable)
	req.NotEmpty(body.Error)
}

func TestRouter_GetOrCreate(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	conversation := domain.NewConversation("c1", "10", "20", time.Now().UTC())
	h.service.EXPECT().GetOrCreateConversation(gomock.Any(), "20", "10").Return(conversation, nil)

	response := h.do(t, "20", http.MethodPost, "/api/v1/conversations", map[string]string{"otherUserId": "10"})
	req.Equal(http.StatusOK, response.StatusCode)
	body := decodeBody[domain.Conversation](t, response)
	req.Equal("c1", body.ID)
	req.Equal("10", body.BuyerID)

	// Missing otherUserId never reaches the service
	response = h.do(t, "20", http.MethodPost, "/api/v1/conversations", map[string]string{})
	req.Equal(http.StatusBadRequest, response.StatusCode)
}

func TestRouter_List_Returns_Empty_Array(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.service.EXPECT().ListConversations(gomock.Any(), "10").Return(nil, nil)

	response := h.do(t, "10", http.MethodGet, "/api/v1/conversations", nil)
	req.Equal(http.StatusOK, response.StatusCode)
	body := decodeBody[[]domain.ConversationView](t, response)
	req.NotNil(body)
	req.Empty(body)
}

func TestRouter_Send(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.service.EXPECT().SendMessage(gomock.Any(), "10", "20", "Need 500 units").
		Return(domain.Message{ID: "m1", ConversationID: "c1", SenderID: "10", ReceiverID: "20", Content: "Need 500 units"}, nil)

	response := h.do(t, "10", http.MethodPost, "/api/v1/messages",
		map[string]string{"receiverId": "20", "content": "Need 500 units"})
	req.Equal(http.StatusCreated, response.StatusCode)
	body := decodeBody[domain.Message](t, response)
	req.Equal("m1", body.ID)
}

func TestRouter_Maps_Service_Errors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantRetryable bool
	}{
		{"not found", errors.ErrConversationNotFound, http.StatusNotFound, false},
		{"not a party", errors.ErrNotParticipant, http.StatusForbidden, false},
		{"contention", errors.ErrConcurrentUpdate, http.StatusServiceUnavailable, true},
		{"unexpected", errors.ErrWorkerPanic, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			h := newHarness(t)
			h.service.EXPECT().ListMessages(gomock.Any(), "c1", "10").Return(nil, tt.err)

			response := h.do(t, "10", http.MethodGet, "/api/v1/conversations/c1/messages", nil)
			req.Equal(tt.wantStatus, response.StatusCode)
			body := decodeBody[errorResponse](t, response)
			req.Equal(tt.wantRetryable, body.Retryable)
			if tt.wantStatus == http.StatusInternalServerError {
				req.Equal("internal error", body.Error)
			}
		})
	}
}

func TestRouter_Conversation_Commands(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.service.EXPECT().MarkRead(gomock.Any(), "c1", "20").Return(nil)
	h.service.EXPECT().ClearConversation(gomock.Any(), "c1", "10").Return(nil)
	h.service.EXPECT().RestoreConversation(gomock.Any(), "c1", "10").Return(nil)
	h.service.EXPECT().SendTypingIndicator(gomock.Any(), "c1", "20", "10").Return(nil)

	req.Equal(http.StatusNoContent, h.do(t, "20", http.MethodPost, "/api/v1/conversations/c1/read", nil).StatusCode)
	req.Equal(http.StatusNoContent, h.do(t, "10", http.MethodPost, "/api/v1/conversations/c1/clear", nil).StatusCode)
	req.Equal(http.StatusNoContent, h.do(t, "10", http.MethodPost, "/api/v1/conversations/c1/restore", nil).StatusCode)
	req.Equal(http.StatusNoContent, h.do(t, "20", http.MethodPost, "/api/v1/conversations/c1/typing",
		map[string]string{"receiverId": "10"}).StatusCode)

	// Wrong method
	req.Equal(http.StatusMethodNotAllowed, h.do(t, "10", http.MethodGet, "/api/v1/conversations/c1/read", nil).StatusCode)
}

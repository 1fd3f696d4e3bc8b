package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/entity"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/response"
)

type fixedToken string

func (f fixedToken) GetValidAccessToken(ctx context.Context) (string, error) {
	return string(f), nil
}

func writeEnvelope(w http.ResponseWriter, status int, data interface{}, errInfo *response.ErrorInfo) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response.Response{
		Success:   errInfo == nil,
		Data:      data,
		Error:     errInfo,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func TestClientHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/messages/c1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeEnvelope(w, http.StatusOK, []entity.Message{
			{ServerID: "1", ConversationID: "c1", SenderID: "bob", ReceiverID: "alice", Content: "hi"},
		}, nil)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second)
	client.UseTokens(fixedToken("tok"))

	messages, err := client.GetMessagesByConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Content)
}

func TestClientSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload entity.SendPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "local-1", payload.ClientMessageID)
		writeEnvelope(w, http.StatusCreated, entity.Message{
			ServerID:        "42",
			ClientMessageID: payload.ClientMessageID,
			ConversationID:  payload.ConversationID,
			Content:         payload.Content,
			State:           entity.StateSent,
		}, nil)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	client.UseTokens(fixedToken("tok"))

	msg, err := client.SendMessage(context.Background(), entity.SendPayload{
		ConversationID: "c1", ReceiverID: "bob", Content: "hey", ClientMessageID: "local-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", msg.ServerID)
	assert.Equal(t, entity.StateSent, msg.State)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusForbidden, nil, &response.ErrorInfo{Code: apperrors.CodeForbidden, Message: "nope"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	client.UseTokens(fixedToken("tok"))

	_, err := client.GetMessagesByConversation(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeForbidden))
}

func TestClientRequiresTokens(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", time.Second)
	_, err := client.SendMessage(context.Background(), entity.SendPayload{})
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized))
}

func TestClientTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, time.Second)
	client.UseTokens(fixedToken("tok"))
	_, err := client.GetMessagesByConversation(context.Background(), "c1")
	assert.True(t, apperrors.Is(err, apperrors.CodeTransport) || apperrors.Is(err, apperrors.CodeTimeout))
}

func TestClientRefreshTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/refresh", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		var req RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.RefreshToken != "r1" {
			writeEnvelope(w, http.StatusUnauthorized, nil, &response.ErrorInfo{Code: apperrors.CodeUnauthorized, Message: "invalid"})
			return
		}
		writeEnvelope(w, http.StatusOK, TokenPair{AccessToken: "a2", RefreshToken: "r2"}, nil)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	access, refresh, err := client.RefreshTokens(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", access)
	assert.Equal(t, "r2", refresh)

	_, _, err = client.RefreshTokens(context.Background(), "stale")
	assert.True(t, apperrors.Is(err, apperrors.CodeUnauthorized))
}

func TestClientDevToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_dev/token", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeEnvelope(w, http.StatusCreated, TokenPair{AccessToken: "a-" + body["user_id"], RefreshToken: "r"}, nil)
	}))
	defer server.Close()

	pair, err := NewClient(server.URL, time.Second).DevToken(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "a-alice", pair.AccessToken)
}

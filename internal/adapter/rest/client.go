package rest

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

const defaultTimeout = 10 * time.Second

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Client talks to the chat backend over HTTP: history, the REST send path
// and token refresh.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client

	mu     sync.RWMutex
	tokens repository.TokenSource
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http: &fasthttp.Client{
			Name:         "chatsync",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
}

// UseTokens sets the source of bearer tokens for authenticated calls.
func (c *Client) UseTokens(tokens repository.TokenSource) {
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.RLock()
	tokens := c.tokens
	c.mu.RUnlock()
	if tokens == nil {
		return "", apperrors.Unauthorized("no token source configured", nil)
	}
	return tokens.GetValidAccessToken(ctx)
}

func (c *Client) GetMessagesByConversation(ctx context.Context, conversationID string) ([]entity.Message, error) {
	if conversationID == "" {
		return nil, apperrors.BadRequest("conversation id is required", nil)
	}
	var messages []entity.Message
	err := c.do(ctx, fasthttp.MethodGet, "/api/messages/"+url.PathEscape(conversationID), nil, true, &messages)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) SendMessage(ctx context.Context, payload entity.SendPayload) (*entity.Message, error) {
	var msg entity.Message
	if err := c.do(ctx, fasthttp.MethodPost, "/api/messages", payload, true, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RefreshTokens trades refreshToken for a new pair. It needs no bearer token.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (string, string, error) {
	var pair TokenPair
	if err := c.do(ctx, fasthttp.MethodPost, "/api/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, false, &pair); err != nil {
		return "", "", err
	}
	if pair.AccessToken == "" {
		return "", "", apperrors.Unauthorized("refresh returned no access token", nil)
	}
	return pair.AccessToken, pair.RefreshToken, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, auth bool, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal("failed to encode request", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}
	if auth {
		token, err := c.bearer(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		logger.Warn("REST: %s %s failed: %v", method, path, err)
		if err == fasthttp.ErrTimeout {
			return apperrors.Timeout(method + " " + path + " timed out")
		}
		return apperrors.Transport(method+" "+path+" failed", err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return apperrors.Malformed("unexpected response from "+path, err)
	}
	status := resp.StatusCode()
	if status >= 300 || !env.Success {
		code, message := apperrors.CodeInternal, "request failed"
		if env.Error != nil {
			code, message = env.Error.Code, env.Error.Message
		}
		return apperrors.New(code, message, status, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.Malformed("unexpected data from "+path, err)
	}
	return nil
}

// DevToken asks a development relay for a token pair for userID.
func (c *Client) DevToken(ctx context.Context, userID string) (TokenPair, error) {
	var pair TokenPair
	err := c.do(ctx, fasthttp.MethodPost, "/_dev/token", map[string]string{"user_id": userID}, false, &pair)
	return pair, err
}

package websocket

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Frame types
const (
	FrameSend        = "SEND"
	FrameSubscribe   = "SUBSCRIBE"
	FrameUnsubscribe = "UNSUBSCRIBE"
	FrameMessage     = "MESSAGE"
	FrameError       = "ERROR"
)

// Client to server destinations
const (
	DestinationChatSend = "/app/chat/send"
	DestinationTyping   = "/app/chat/typing"
	DestinationStatus   = "/app/chat/status"
	DestinationRecall   = "/app/chat/recall"
)

// Server to client destinations
const (
	QueueChat     = "/user/queue/chat"
	QueueStatus   = "/user/queue/chat-status"
	QueueTyping   = "/user/queue/typing"
	QueueMatch    = "/user/queue/match"
	QueueUnread   = "/user/queue/unread"
	TopicPresence = "/topic/presence"
)

// Frame is the envelope of everything that crosses the socket.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewFrame(frameType, destination string, body interface{}) (Frame, error) {
	frame := Frame{Type: frameType, Destination: destination}
	if body == nil {
		return frame, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s body: %w", destination, err)
	}
	frame.Body = raw
	return frame, nil
}

func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, err
	}
	if frame.Type == "" {
		return Frame{}, fmt.Errorf("frame without type")
	}
	return frame, nil
}

// BuildURL turns the HTTP(S) API base into the socket URL and attaches the
// access token as a query parameter.
func BuildURL(baseURL, path, token string) (string, error) {
	if strings.TrimSpace(baseURL) == "" {
		return "", fmt.Errorf("missing API base URL for websocket connection")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

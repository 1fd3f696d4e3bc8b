package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	adapterrepo "chatsync/internal/adapter/repository"
	"chatsync/internal/infrastructure/ratelimit"
)

// relayServer runs a Manager behind httptest. The token query parameter is
// taken as the user id; "bad" is rejected during the handshake.
type relayServer struct {
	manager *Manager
	server  *httptest.Server
	cancel  context.CancelFunc

	// handshakes counts every request to /ws, upgrades the accepted ones.
	handshakes atomic.Int32
	upgrades   atomic.Int32
}

func newRelayServer(t *testing.T, limiter *ratelimit.RateLimiter) *relayServer {
	t.Helper()

	manager := NewManager(ManagerConfig{}, adapterrepo.NewMemoryChatRepository(), limiter, nil)
	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)

	rs := &relayServer{manager: manager, cancel: cancel}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		rs.handshakes.Add(1)
		userID := r.URL.Query().Get("token")
		if userID == "" || userID == "bad" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		rs.upgrades.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(userID, conn, 64)
		manager.Register(client)
		go client.WritePump(manager)
		go client.ReadPump(manager)
	})

	rs.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		rs.server.Close()
	})
	return rs
}

func (rs *relayServer) client(userID string) *Client {
	rs.manager.mutex.RLock()
	defer rs.manager.mutex.RUnlock()
	return rs.manager.clients[userID]
}

// dial opens a raw socket for userID and subscribes it to destinations.
func (rs *relayServer) dial(t *testing.T, userID string, destinations ...string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(rs.server.URL, "http") + "/ws?token=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	for _, dest := range destinations {
		require.NoError(t, conn.WriteJSON(Frame{Type: FrameSubscribe, Destination: dest}))
	}
	barrier(t, conn)
	return conn
}

// barrier waits until the relay has processed every frame conn sent before it.
// Unknown frame types are answered with an ERROR frame in order.
func barrier(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Frame{Type: "BARRIER"}))
	for {
		frame := readFrame(t, conn)
		if frame.Type == FrameError && strings.Contains(string(frame.Body), "BARRIER") {
			return
		}
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := DecodeFrame(data)
	require.NoError(t, err)
	return frame
}

// expect reads until a frame of frameType arrives on destination and decodes its body into out.
func expect(t *testing.T, conn *websocket.Conn, frameType, destination string, out interface{}) {
	t.Helper()
	for {
		frame := readFrame(t, conn)
		if frame.Type != frameType || frame.Destination != destination {
			continue
		}
		if out != nil {
			require.NoError(t, json.Unmarshal(frame.Body, out))
		}
		return
	}
}

func send(t *testing.T, conn *websocket.Conn, destination string, body interface{}) {
	t.Helper()
	frame, err := NewFrame(FrameSend, destination, body)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) GetValidAccessToken(ctx context.Context) (string, error) {
	return s.token, s.err
}

// rotatingTokens hands out tokens in order, moving to the next one only when
// the current token is invalidated.
type rotatingTokens struct {
	mu          sync.Mutex
	tokens      []string
	invalidated []string
}

func (r *rotatingTokens) GetValidAccessToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[0], nil
}

func (r *rotatingTokens) InvalidateAccessToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, token)
	if len(r.tokens) > 1 && r.tokens[0] == token {
		r.tokens = r.tokens[1:]
	}
}

func (r *rotatingTokens) invalidations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.invalidated...)
}

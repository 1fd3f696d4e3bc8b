package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"chatsync/internal/domain/repository"
	"chatsync/internal/infrastructure/metrics"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// State is the position of the connection in its reconnect state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateBackoff:
		return "BACKOFF"
	default:
		return "IDLE"
	}
}

// FrameHandler receives the body of a MESSAGE frame. Handlers run on the read
// goroutine, one frame at a time, and must not block.
type FrameHandler func(body json.RawMessage)

type ConnectionConfig struct {
	BaseURL           string
	Path              string
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration // > ReconnectDelay switches to exponential backoff
	HandshakeTimeout  time.Duration
	PingPeriod        time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	MaxFrameBytes     int64
}

func (c *ConnectionConfig) defaults() {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 64 * 1024
	}
}

type subscription struct {
	id      uint64
	handler FrameHandler
}

type stateListener struct {
	id uint64
	fn func(connected bool)
}

// link is one physical socket. It is never reused after it closes.
type link struct {
	conn *websocket.Conn
	gen  uint64
	done chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// Connection owns at most one socket to the chat server, authenticates it with
// a freshly fetched token and reconnects after closures it did not initiate.
type Connection struct {
	cfg     ConnectionConfig
	tokens  repository.TokenSource
	dialer  *websocket.Dialer
	metrics *metrics.Metrics
	flight  singleflight.Group

	mu        sync.Mutex
	writeMu   sync.Mutex
	notifyMu  sync.Mutex
	link      *link
	gen       uint64
	state     State
	stopped   bool
	backoff   backoff.BackOff
	reconnect *time.Timer
	subs      map[string][]*subscription
	listeners []*stateListener
	nextID    uint64
	signaled  bool
	// consecutive handshakes refused with 401/403
	rejections int
}

type ConnectionOption func(*Connection)

func WithMetrics(m *metrics.Metrics) ConnectionOption {
	return func(c *Connection) { c.metrics = m }
}

func WithDialer(d *websocket.Dialer) ConnectionOption {
	return func(c *Connection) { c.dialer = d }
}

func NewConnection(cfg ConnectionConfig, tokens repository.TokenSource, opts ...ConnectionOption) *Connection {
	cfg.defaults()

	var policy backoff.BackOff = backoff.NewConstantBackOff(cfg.ReconnectDelay)
	if cfg.ReconnectMaxDelay > cfg.ReconnectDelay {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = cfg.ReconnectDelay
		exp.MaxInterval = cfg.ReconnectMaxDelay
		policy = exp
	}

	c := &Connection{
		cfg:    cfg,
		tokens: tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		backoff: policy,
		subs:    make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start connects for the first time.
func (c *Connection) Start(ctx context.Context) error {
	return c.Connect(ctx, false)
}

// Stop disconnects and refuses any further connect.
func (c *Connection) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.Disconnect()
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Connected() bool {
	return c.State() == StateConnected
}

// Connect is a no-op while connected unless force is set. Concurrent callers
// share the attempt that is already in flight.
func (c *Connection) Connect(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return apperrors.Stopped("connection stopped")
	}
	if c.state == StateConnected && !force {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	attemptCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("connect", func() (interface{}, error) {
		return nil, c.attempt(attemptCtx, force)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) attempt(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return apperrors.Stopped("connection stopped")
	}
	if c.state == StateConnected && !force {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	old := c.link
	c.link = nil
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	if old != nil {
		c.closeLink(old, "superseded")
		c.setSignal(false)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	token, err := c.tokens.GetValidAccessToken(ctx)
	if err != nil {
		logger.Warn("WebSocket: cannot obtain valid token: %v", err)
		c.fail(gen, false)
		return apperrors.Unauthorized("cannot obtain valid access token", err)
	}

	wsURL, err := BuildURL(c.cfg.BaseURL, c.cfg.Path, token)
	if err != nil {
		c.fail(gen, false)
		return apperrors.Internal("invalid websocket url", err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return c.rejected(gen, token, status, err)
		}
		logger.Warn("WebSocket: handshake failed (status %d): %v", status, err)
		c.fail(gen, true)
		return apperrors.Transport("websocket handshake failed", err)
	}

	l := &link{conn: conn, gen: gen, done: make(chan struct{})}
	conn.SetReadLimit(c.cfg.MaxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		l.close()
		return apperrors.Transport("connection attempt superseded", nil)
	}
	c.link = l
	c.state = StateConnected
	c.rejections = 0
	c.backoff.Reset()
	destinations := make([]string, 0, len(c.subs))
	for dest, subs := range c.subs {
		if len(subs) > 0 {
			destinations = append(destinations, dest)
		}
	}
	c.mu.Unlock()

	for _, dest := range destinations {
		if err := c.write(l, Frame{Type: FrameSubscribe, Destination: dest}); err != nil {
			logger.Warn("WebSocket: subscribe %s failed: %v", dest, err)
		}
	}

	logger.Info("WebSocket: connected to %s%s", c.cfg.BaseURL, c.cfg.Path)
	c.metrics.SetConnected(true)
	c.setSignal(true)

	go c.readLoop(l)
	go c.pingLoop(l)
	return nil
}

// rejected handles a handshake the server refused. The token is dropped from
// the source and one retry is scheduled to fetch a new one; a second refusal
// in a row, or a source that cannot invalidate, stops reconnecting.
func (c *Connection) rejected(gen uint64, token string, status int, err error) error {
	invalidator, ok := c.tokens.(repository.TokenInvalidator)
	if ok {
		invalidator.InvalidateAccessToken(token)
	}

	c.mu.Lock()
	c.rejections++
	retry := ok && c.rejections == 1
	c.mu.Unlock()

	logger.Warn("WebSocket: handshake rejected (status %d), retry: %v", status, retry)
	c.fail(gen, retry)
	return apperrors.Unauthorized("websocket handshake rejected", err)
}

// fail settles a failed attempt of generation gen, scheduling a retry when asked.
func (c *Connection) fail(gen uint64, retry bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.stopped {
		return
	}
	c.state = StateIdle
	if retry {
		c.scheduleReconnectLocked()
	}
}

func (c *Connection) scheduleReconnectLocked() {
	if c.reconnect != nil || c.stopped {
		return
	}
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		c.state = StateIdle
		return
	}
	c.state = StateBackoff
	c.metrics.ReconnectScheduled()
	logger.Info("WebSocket: reconnecting in %s", delay)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.reconnect != timer {
			c.mu.Unlock()
			return
		}
		c.reconnect = nil
		c.mu.Unlock()

		if err := c.Connect(context.Background(), true); err != nil {
			logger.Warn("WebSocket: reconnect failed: %v", err)
		}
	})
	c.reconnect = timer
}

func (c *Connection) stopTimerLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// Disconnect closes the socket cleanly. No reconnect follows.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.stopTimerLocked()
	l := c.link
	c.link = nil
	c.gen++
	wasConnected := c.state == StateConnected
	c.state = StateIdle
	c.mu.Unlock()

	if l != nil {
		c.closeLink(l, "client disconnect")
	}
	if wasConnected {
		logger.Info("WebSocket: disconnected")
		c.metrics.SetConnected(false)
		c.setSignal(false)
	}
}

func (c *Connection) closeLink(l *link, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
	l.close()
}

func (c *Connection) readLoop(l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			c.handleClosed(l, err)
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		frame, err := DecodeFrame(data)
		if err != nil {
			logger.Warn("WebSocket: dropping malformed frame: %v", err)
			c.metrics.MalformedPayload()
			continue
		}

		switch frame.Type {
		case FrameMessage:
			c.deliver(frame)
		case FrameError:
			var body ErrorBody
			_ = json.Unmarshal(frame.Body, &body)
			logger.Warn("WebSocket: server error on %s: %s %s", frame.Destination, body.Code, body.Message)
		default:
			logger.Debug("WebSocket: ignoring frame type %s", frame.Type)
		}
	}
}

func (c *Connection) handleClosed(l *link, err error) {
	c.mu.Lock()
	if c.link != l {
		// Closed by Disconnect or superseded by a forced connect.
		c.mu.Unlock()
		l.close()
		return
	}
	c.link = nil
	c.state = StateIdle
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	l.close()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logger.Info("WebSocket: closed by server: %v", err)
	} else {
		logger.Warn("WebSocket: connection lost: %v", err)
	}
	c.metrics.SetConnected(false)
	c.setSignal(false)
}

func (c *Connection) pingLoop(l *link) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				logger.Debug("WebSocket: ping failed: %v", err)
				return
			}
		}
	}
}

func (c *Connection) deliver(frame Frame) {
	c.mu.Lock()
	subs := append([]*subscription(nil), c.subs[frame.Destination]...)
	c.mu.Unlock()

	if len(subs) == 0 {
		logger.Debug("WebSocket: no handler for %s", frame.Destination)
		return
	}
	for _, s := range subs {
		c.invoke(s, frame)
	}
}

func (c *Connection) invoke(s *subscription, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("WebSocket: handler for %s panicked: %v", frame.Destination, r)
		}
	}()
	s.handler(frame.Body)
}

func (c *Connection) write(l *link, frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return l.conn.WriteJSON(frame)
}

// Publish sends payload to destination. It reports false instead of failing
// when there is no usable connection, so best-effort callers can ignore it.
func (c *Connection) Publish(destination string, payload interface{}) bool {
	c.mu.Lock()
	l := c.link
	ready := c.state == StateConnected
	c.mu.Unlock()

	if l == nil || !ready {
		logger.Debug("WebSocket: publish to %s skipped, client not ready", destination)
		c.metrics.DroppedPublish(destination)
		return false
	}

	frame, err := NewFrame(FrameSend, destination, payload)
	if err != nil {
		logger.Warn("WebSocket: %v", err)
		return false
	}
	if err := c.write(l, frame); err != nil {
		logger.Warn("WebSocket: publish to %s failed: %v", destination, err)
		c.metrics.DroppedPublish(destination)
		l.conn.Close()
		return false
	}
	return true
}

// Subscribe registers handler for destination and returns its unsubscribe func.
// Subscriptions survive reconnects.
func (c *Connection) Subscribe(destination string, handler FrameHandler) func() {
	c.mu.Lock()
	c.nextID++
	sub := &subscription{id: c.nextID, handler: handler}
	first := len(c.subs[destination]) == 0
	c.subs[destination] = append(c.subs[destination], sub)
	l := c.link
	ready := c.state == StateConnected
	c.mu.Unlock()

	if first && ready && l != nil {
		if err := c.write(l, Frame{Type: FrameSubscribe, Destination: destination}); err != nil {
			logger.Warn("WebSocket: subscribe %s failed: %v", destination, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(destination, sub.id) })
	}
}

func (c *Connection) unsubscribe(destination string, id uint64) {
	c.mu.Lock()
	subs := c.subs[destination]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	last := len(subs) == 0
	if last {
		delete(c.subs, destination)
	} else {
		c.subs[destination] = subs
	}
	l := c.link
	ready := c.state == StateConnected
	c.mu.Unlock()

	if last && ready && l != nil {
		_ = c.write(l, Frame{Type: FrameUnsubscribe, Destination: destination})
	}
}

// OnStateChange registers fn for connected/disconnected transitions.
func (c *Connection) OnStateChange(fn func(connected bool)) func() {
	c.mu.Lock()
	c.nextID++
	l := &stateListener{id: c.nextID, fn: fn}
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, cur := range c.listeners {
			if cur.id == l.id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// setSignal broadcasts connected only when it differs from the last broadcast.
func (c *Connection) setSignal(connected bool) {
	c.notifyMu.Lock()
	if c.signaled == connected {
		c.notifyMu.Unlock()
		return
	}
	c.signaled = connected
	c.notifyMu.Unlock()

	c.mu.Lock()
	listeners := append([]*stateListener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("WebSocket: state listener panicked: %v", r)
				}
			}()
			l.fn(connected)
		}()
	}
}

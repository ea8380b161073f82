package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"MeshHub/logger"
	"MeshHub/service/model"
	"MeshHub/service/notify"
	"MeshHub/service/protocol"
	"MeshHub/service/provider"
	"MeshHub/tools/safe"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

type Options struct {
	RetryBase  time.Duration // delay factor, default 2s
	MaxRetries int           // default 3
	DialWait   time.Duration // per-attempt connect budget, default 10s
}

func (o *Options) norm() {
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.DialWait <= 0 {
		o.DialWait = 10 * time.Second
	}
}

// Manager owns the one logical connection of a client process. It
// hides transient transport failure behind backoff retries and
// rebuilds the connection when the app returns to the foreground,
// because a backgrounded client can stall silently without ever
// seeing a close event.
type Manager struct {
	prov     provider.Provider
	notifier notify.Notifier
	opts     Options

	mu          sync.Mutex
	state       State
	user        *model.ChatUser
	visible     bool
	tearingDown bool
	retryCount  int // failed attempts in the current connect cycle
	retryTimer  *time.Timer
	subs        []provider.Subscription
	statusSub   provider.Subscription
	onMessage   func(model.ChatMessage)
	onCount     func(int)
}

func NewManager(p provider.Provider, n notify.Notifier, opts Options) *Manager {
	opts.norm()
	return &Manager{
		prov:     p,
		notifier: n,
		opts:     opts,
		visible:  true,
	}
}

// OnMessage registers the inbound broadcast callback (typically the
// reconciler's OnIncoming). Set before Connect.
func (m *Manager) OnMessage(fn func(model.ChatMessage)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// OnOnlineCount registers the presence-count callback.
func (m *Manager) OnOnlineCount(fn func(int)) {
	m.mu.Lock()
	m.onCount = fn
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect is idempotent: connecting again as the same user over a
// live channel returns immediately. A fresh call resets the retry
// budget.
func (m *Manager) Connect(ctx context.Context, user model.ChatUser) error {
	m.mu.Lock()
	if m.state == StateConnected && m.user != nil && m.user.ID == user.ID && m.prov.IsConnected() {
		m.mu.Unlock()
		return nil
	}
	// An explicit Connect supersedes any backoff retry in flight.
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	u := user
	m.user = &u
	m.retryCount = 0
	m.mu.Unlock()
	return m.connectOnce(ctx)
}

func (m *Manager) connectOnce(ctx context.Context) error {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil
	}
	user := *m.user
	m.state = StateConnecting
	if m.statusSub == nil {
		m.statusSub = m.prov.OnStatusChange(m.handleStatus)
	}
	m.mu.Unlock()

	if err := m.prov.Connect(ctx, user); err != nil {
		logger.Infof("[client] connect err user=%s: %v", user.ID, err)
		m.handleReconnect()
		return err
	}

	m.mu.Lock()
	m.state = StateConnected
	m.retryCount = 0
	m.installSubsLocked()
	m.mu.Unlock()
	logger.Infof("[client] connected user=%s", user.ID)
	return nil
}

func (m *Manager) installSubsLocked() {
	for _, s := range m.subs {
		s.Unsubscribe()
	}
	m.subs = m.subs[:0]

	if sub, err := m.prov.Subscribe(provider.ChannelMessages, m.handleIncoming); err == nil {
		m.subs = append(m.subs, sub)
	} else {
		logger.Warnf("[client] message subscribe err: %v", err)
	}
	m.subs = append(m.subs, m.prov.OnOnlineCount(func(count int) {
		m.mu.Lock()
		fn := m.onCount
		m.mu.Unlock()
		if fn != nil {
			fn(count)
		}
	}))
}

func (m *Manager) handleIncoming(payload []byte) {
	var msg model.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warnf("[client] bad inbound message: %v", err)
		return
	}
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (m *Manager) handleStatus(st provider.Status) {
	if st != provider.StatusDisconnected {
		return
	}
	m.mu.Lock()
	if m.tearingDown || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.retryCount = 0
	m.mu.Unlock()

	// A drop starts a fresh cycle: one immediate attempt, then the
	// backoff schedule, same budget as an explicit Connect.
	safe.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialWait)
		defer cancel()
		_ = m.connectOnce(ctx)
	})
}

// handleReconnect schedules the next attempt with linear backoff
// (base × attempt number). After MaxRetries failures the manager goes
// Disconnected, surfaces one notification, and waits for an explicit
// Connect.
func (m *Manager) handleReconnect() {
	m.mu.Lock()
	m.retryCount++
	if m.retryCount >= m.opts.MaxRetries {
		m.state = StateDisconnected
		attempts := m.retryCount
		m.mu.Unlock()
		m.notifier.Warnf("chat connection failed after %d attempts", attempts)
		return
	}
	delay := m.opts.RetryBase * time.Duration(m.retryCount)
	m.state = StateConnecting
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialWait)
		defer cancel()
		_ = m.connectOnce(ctx)
	})
	m.mu.Unlock()
}

// SetVisible feeds the app's foreground/background transitions in.
// Returning to the foreground proactively rebuilds the connection
// rather than trusting the transport's own recovery.
func (m *Manager) SetVisible(v bool) {
	m.mu.Lock()
	was := m.visible
	m.visible = v
	hasUser := m.user != nil
	m.mu.Unlock()

	if !was && v && hasUser {
		logger.Infof("[client] foregrounded, rebuilding connection")
		m.teardown()
		m.mu.Lock()
		m.retryCount = 0
		m.mu.Unlock()
		safe.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialWait)
			defer cancel()
			_ = m.connectOnce(ctx)
		})
	}
}

// SendText publishes a text frame carrying the caller's correlation
// id. The reconciler uses this as its persistence step.
func (m *Manager) SendText(ctx context.Context, content, clientMsgID string) error {
	raw, err := protocol.EncodeFrame(&protocol.TextFrame{Content: content, ClientMsgId: clientMsgID})
	if err != nil {
		return err
	}
	return m.prov.Publish(ctx, provider.ChannelMessages, raw)
}

func (m *Manager) teardown() {
	m.mu.Lock()
	m.tearingDown = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	subs := m.subs
	m.subs = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	if err := m.prov.Disconnect(); err != nil {
		logger.Infof("[client] disconnect err: %v", err)
	}

	m.mu.Lock()
	m.tearingDown = false
	m.mu.Unlock()
}

// Disconnect drops the transport and cancels any pending retry. The
// logical user is kept, so Connect resumes the same identity.
func (m *Manager) Disconnect() {
	m.teardown()
}

// Cleanup is Disconnect plus forgetting the logical user; the next
// Connect is a fresh identity.
func (m *Manager) Cleanup() {
	m.teardown()
	m.mu.Lock()
	m.user = nil
	m.retryCount = 0
	if m.statusSub != nil {
		m.statusSub.Unsubscribe()
		m.statusSub = nil
	}
	m.mu.Unlock()
}

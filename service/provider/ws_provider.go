package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"MeshHub/logger"
	"MeshHub/service/model"
	"MeshHub/service/protocol"

	"github.com/gorilla/websocket"
)

const authReplyWait = 10 * time.Second

// WSProvider speaks the gateway's native frame protocol over a single
// websocket. Connect performs the full auth handshake; the caller
// only sees success or failure.
type WSProvider struct {
	url   string
	token string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	gen       int // bumps on every (re)connect; stale readers exit

	subMu      sync.Mutex
	nextSub    int
	msgSubs    map[int]func([]byte)
	countSubs  map[int]func(int)
	statusSubs map[int]func(Status)
}

type WSOption func(*WSProvider)

// WithToken attaches a signed token to the auth frame.
func WithToken(token string) WSOption {
	return func(p *WSProvider) { p.token = token }
}

func NewWSProvider(url string, opts ...WSOption) *WSProvider {
	p := &WSProvider{
		url:        url,
		msgSubs:    make(map[int]func([]byte)),
		countSubs:  make(map[int]func(int)),
		statusSubs: make(map[int]func(Status)),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *WSProvider) Connect(ctx context.Context, user model.ChatUser) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.fireStatus(StatusConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		p.fireStatus(StatusDisconnected)
		return fmt.Errorf("dial gateway: %w", err)
	}

	if err := p.handshake(conn, user); err != nil {
		_ = conn.Close()
		p.fireStatus(StatusDisconnected)
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	go p.readLoop(conn, gen)
	p.fireStatus(StatusConnected)
	return nil
}

func (p *WSProvider) handshake(conn *websocket.Conn, user model.ChatUser) error {
	authRaw, err := protocol.EncodeFrame(&protocol.AuthFrame{User: user, Token: p.token})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, authRaw); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(authReplyWait))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	// The gateway replies auth_result first; a presence frame may
	// race ahead of it only for other sessions, never this one.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read auth_result: %w", err)
		}
		f, err := protocol.DecodeFrame(raw)
		if err != nil {
			continue
		}
		res, ok := f.(*protocol.AuthResultFrame)
		if !ok {
			continue
		}
		if !res.Success {
			return fmt.Errorf("auth rejected: %s", res.Error)
		}
		return nil
	}
}

func (p *WSProvider) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			stale := gen != p.gen
			if !stale {
				p.connected = false
				p.conn = nil
			}
			p.mu.Unlock()
			if !stale {
				logger.Infof("[ws-provider] connection lost: %v", err)
				p.fireStatus(StatusDisconnected)
			}
			return
		}
		f, derr := protocol.DecodeFrame(raw)
		if derr != nil {
			continue
		}
		switch fr := f.(type) {
		case *protocol.MessageFrame:
			payload, merr := json.Marshal(fr.Message)
			if merr != nil {
				continue
			}
			p.subMu.Lock()
			fns := make([]func([]byte), 0, len(p.msgSubs))
			for _, fn := range p.msgSubs {
				fns = append(fns, fn)
			}
			p.subMu.Unlock()
			for _, fn := range fns {
				fn(payload)
			}
		case *protocol.OnlineUsersFrame:
			p.subMu.Lock()
			fns := make([]func(int), 0, len(p.countSubs))
			for _, fn := range p.countSubs {
				fns = append(fns, fn)
			}
			p.subMu.Unlock()
			for _, fn := range fns {
				fn(fr.Count)
			}
		default:
			// auth_result outside the handshake, or frame kinds the
			// client never consumes.
		}
	}
}

// Publish writes an encoded frame to the gateway. Only the message
// channel is writable from the client side.
func (p *WSProvider) Publish(_ context.Context, channel string, payload []byte) error {
	if channel != ChannelMessages {
		return fmt.Errorf("channel %q not writable", channel)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected || p.conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *WSProvider) Subscribe(channel string, fn func(payload []byte)) (Subscription, error) {
	if channel != ChannelMessages {
		return nil, fmt.Errorf("unknown channel %q", channel)
	}
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.msgSubs[id] = fn
	return NewSubscription(func() {
		p.subMu.Lock()
		delete(p.msgSubs, id)
		p.subMu.Unlock()
	}), nil
}

func (p *WSProvider) OnOnlineCount(fn func(count int)) Subscription {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.countSubs[id] = fn
	return NewSubscription(func() {
		p.subMu.Lock()
		delete(p.countSubs, id)
		p.subMu.Unlock()
	})
}

func (p *WSProvider) OnStatusChange(fn func(status Status)) Subscription {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.statusSubs[id] = fn
	return NewSubscription(func() {
		p.subMu.Lock()
		delete(p.statusSubs, id)
		p.subMu.Unlock()
	})
}

func (p *WSProvider) fireStatus(st Status) {
	p.subMu.Lock()
	fns := make([]func(Status), 0, len(p.statusSubs))
	for _, fn := range p.statusSubs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (p *WSProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *WSProvider) Disconnect() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.connected = false
	p.gen++ // invalidate the reader so it exits silently
	p.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"MeshHub/logger"
	"MeshHub/service/model"

	"github.com/nats-io/nats.go"
)

// NATSProvider satisfies the Provider contract against a managed
// pub-sub backend. Auth and presence counting are the backend's
// responsibility there; this adapter only moves frames.
type NATSProvider struct {
	url string

	mu sync.Mutex
	nc *nats.Conn

	subMu      sync.Mutex
	nextSub    int
	statusSubs map[int]func(Status)
}

func NewNATSProvider(url string) *NATSProvider {
	return &NATSProvider{
		url:        url,
		statusSubs: make(map[int]func(Status)),
	}
}

func (p *NATSProvider) Connect(_ context.Context, user model.ChatUser) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nc != nil && p.nc.IsConnected() {
		return nil
	}
	p.fireStatus(StatusConnecting)
	nc, err := nats.Connect(p.url,
		nats.Name("meshhub-client-"+user.ID),
		nats.DisconnectErrHandler(func(_ *nats.Conn, derr error) {
			logger.Infof("[nats-provider] disconnected: %v", derr)
			p.fireStatus(StatusDisconnected)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.fireStatus(StatusConnected)
		}),
	)
	if err != nil {
		p.fireStatus(StatusDisconnected)
		return fmt.Errorf("nats connect: %w", err)
	}
	p.nc = nc
	p.fireStatus(StatusConnected)
	return nil
}

func (p *NATSProvider) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	nc := p.nc
	p.mu.Unlock()
	if nc == nil {
		return fmt.Errorf("not connected")
	}
	return nc.Publish(channel, payload)
}

func (p *NATSProvider) Subscribe(channel string, fn func(payload []byte)) (Subscription, error) {
	p.mu.Lock()
	nc := p.nc
	p.mu.Unlock()
	if nc == nil {
		return nil, fmt.Errorf("not connected")
	}
	sub, err := nc.Subscribe(channel, func(m *nats.Msg) { fn(m.Data) })
	if err != nil {
		return nil, err
	}
	return NewSubscription(func() { _ = sub.Unsubscribe() }), nil
}

func (p *NATSProvider) OnOnlineCount(fn func(count int)) Subscription {
	sub, err := p.Subscribe(ChannelPresence, func(payload []byte) {
		var body struct {
			Count int `json:"count"`
		}
		if uerr := json.Unmarshal(payload, &body); uerr != nil {
			return
		}
		fn(body.Count)
	})
	if err != nil {
		logger.Warnf("[nats-provider] presence subscribe err: %v", err)
		return NewSubscription(func() {})
	}
	return sub
}

func (p *NATSProvider) OnStatusChange(fn func(status Status)) Subscription {
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

func (p *NATSProvider) fireStatus(st Status) {
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

func (p *NATSProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nc != nil && p.nc.IsConnected()
}

func (p *NATSProvider) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nc != nil {
		p.nc.Close()
		p.nc = nil
	}
	return nil
}

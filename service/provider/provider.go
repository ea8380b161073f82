package provider

import (
	"context"
	"sync"

	"MeshHub/service/model"
)

// Provider is the transport/pub-sub contract the client runs on. Two
// implementations exist: the self-hosted websocket gateway and a
// NATS-backed managed provider. The client's correctness must not
// depend on which one is wired in.
//
// Publish/Subscribe payloads are encoded protocol frames on the
// message channel.

type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "unknown"
}

const (
	ChannelMessages = "chat.messages"
	ChannelPresence = "chat.presence"
)

// Subscription is an explicit handle; Unsubscribe is idempotent and
// stops delivery.
type Subscription interface {
	Unsubscribe()
}

type Provider interface {
	Connect(ctx context.Context, user model.ChatUser) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(channel string, fn func(payload []byte)) (Subscription, error)
	OnOnlineCount(fn func(count int)) Subscription
	OnStatusChange(fn func(status Status)) Subscription
	IsConnected() bool
	Disconnect() error
}

type funcSub struct {
	once   sync.Once
	cancel func()
}

func (s *funcSub) Unsubscribe() { s.once.Do(s.cancel) }

// NewSubscription wraps a cancel func into a Subscription.
func NewSubscription(cancel func()) Subscription {
	return &funcSub{cancel: cancel}
}

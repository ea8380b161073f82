package provider_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"MeshHub/global/config"
	"MeshHub/service/gateway"
	"MeshHub/service/gateway/handlers"
	"MeshHub/service/model"
	"MeshHub/service/protocol"
	"MeshHub/service/provider"
	"MeshHub/service/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	seq  int
	msgs []model.ChatMessage
}

func (s *memStore) Insert(_ context.Context, draft model.MessageDraft) (model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := model.ChatMessage{
		ID:          fmt.Sprintf("m-%d", s.seq),
		ClientMsgId: draft.ClientMsgId,
		Content:     draft.Content,
		Kind:        draft.Kind,
		CreatedAt:   time.Now().UnixMilli(),
		Author:      draft.Author,
	}
	s.msgs = append(s.msgs, msg)
	return msg, nil
}

func (s *memStore) Recent(_ context.Context, limit int) ([]model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) <= limit {
		return append([]model.ChatMessage(nil), s.msgs...), nil
	}
	return append([]model.ChatMessage(nil), s.msgs[len(s.msgs)-limit:]...), nil
}

type rejectIdentity struct{}

func (rejectIdentity) VerifyIdentity(context.Context, string, string) (bool, error) {
	return false, nil
}

func startGateway(t *testing.T, deps gateway.Deps) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{AuthDeadline: 2 * time.Second}
	cfg.Norm()
	cfg.HeartbeatInterval = time.Hour

	srv := gateway.NewServer(cfg, deps)
	handlers.Register(srv)
	srv.Start()

	engine := gin.New()
	srv.RegisterRoutes(engine)
	ts := httptest.NewServer(engine)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func defaultDeps() gateway.Deps {
	return gateway.Deps{
		Identity: storage.AllowAllIdentity{},
		Store:    &memStore{},
	}
}

func TestConnectRunsHandshake(t *testing.T) {
	url := startGateway(t, defaultDeps())
	p := provider.NewWSProvider(url)
	t.Cleanup(func() { _ = p.Disconnect() })

	require.NoError(t, p.Connect(context.Background(), model.ChatUser{ID: "u1"}))
	assert.True(t, p.IsConnected())

	// Idempotent while live.
	require.NoError(t, p.Connect(context.Background(), model.ChatUser{ID: "u1"}))
}

func TestConnectFailsOnRejectedIdentity(t *testing.T) {
	deps := defaultDeps()
	deps.Identity = rejectIdentity{}
	url := startGateway(t, deps)

	p := provider.NewWSProvider(url)
	err := p.Connect(context.Background(), model.ChatUser{ID: "u1"})
	require.Error(t, err)
	assert.False(t, p.IsConnected())
}

func TestPublishRoundTrip(t *testing.T) {
	url := startGateway(t, defaultDeps())
	p := provider.NewWSProvider(url)
	t.Cleanup(func() { _ = p.Disconnect() })
	require.NoError(t, p.Connect(context.Background(), model.ChatUser{ID: "u1"}))

	got := make(chan model.ChatMessage, 1)
	sub, err := p.Subscribe(provider.ChannelMessages, func(payload []byte) {
		var msg model.ChatMessage
		if uerr := json.Unmarshal(payload, &msg); uerr == nil {
			got <- msg
		}
	})
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)

	raw, err := protocol.EncodeFrame(&protocol.TextFrame{Content: "ping", ClientMsgId: "temp-5"})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), provider.ChannelMessages, raw))

	select {
	case msg := <-got:
		assert.Equal(t, "ping", msg.Content)
		assert.Equal(t, "temp-5", msg.ClientMsgId)
		assert.True(t, strings.HasPrefix(msg.ID, "m-"))
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived")
	}
}

func TestPublishRejectsUnknownChannel(t *testing.T) {
	p := provider.NewWSProvider("ws://unused")
	err := p.Publish(context.Background(), "bogus", []byte("x"))
	assert.Error(t, err)
}

func TestOnlineCountUpdates(t *testing.T) {
	url := startGateway(t, defaultDeps())

	first := provider.NewWSProvider(url)
	t.Cleanup(func() { _ = first.Disconnect() })
	require.NoError(t, first.Connect(context.Background(), model.ChatUser{ID: "u1"}))

	counts := make(chan int, 8)
	sub := first.OnOnlineCount(func(c int) { counts <- c })
	t.Cleanup(sub.Unsubscribe)

	second := provider.NewWSProvider(url)
	t.Cleanup(func() { _ = second.Disconnect() })
	require.NoError(t, second.Connect(context.Background(), model.ChatUser{ID: "u2"}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-counts:
			if c == 2 {
				return
			}
		case <-deadline:
			t.Fatal("never saw count reach 2")
		}
	}
}

func TestDisconnectIsSilent(t *testing.T) {
	url := startGateway(t, defaultDeps())
	p := provider.NewWSProvider(url)
	require.NoError(t, p.Connect(context.Background(), model.ChatUser{ID: "u1"}))

	dropped := make(chan struct{}, 1)
	sub := p.OnStatusChange(func(st provider.Status) {
		if st == provider.StatusDisconnected {
			select {
			case dropped <- struct{}{}:
			default:
			}
		}
	})
	t.Cleanup(sub.Unsubscribe)

	require.NoError(t, p.Disconnect())
	assert.False(t, p.IsConnected())

	// A deliberate disconnect must not look like a transport drop.
	select {
	case <-dropped:
		t.Fatal("explicit disconnect fired a drop event")
	case <-time.After(200 * time.Millisecond):
	}
}

package client_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"MeshHub/global/config"
	"MeshHub/service/client"
	"MeshHub/service/gateway"
	"MeshHub/service/gateway/handlers"
	"MeshHub/service/model"
	"MeshHub/service/notify"
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

// TestSendConfirmsOverRealGateway drives the whole client stack
// against a live gateway: optimistic append, websocket publish,
// persist, broadcast, and placeholder swap.
func TestSendConfirmsOverRealGateway(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{AuthDeadline: 2 * time.Second}
	cfg.Norm()
	cfg.HeartbeatInterval = time.Hour

	srv := gateway.NewServer(cfg, gateway.Deps{
		Identity: storage.AllowAllIdentity{},
		Store:    &memStore{},
	})
	handlers.Register(srv)
	srv.Start()

	engine := gin.New()
	srv.RegisterRoutes(engine)
	ts := httptest.NewServer(engine)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	mgr := client.NewManager(provider.NewWSProvider(wsURL), notify.LogNotifier{}, client.Options{})
	rec := client.NewReconciler(mgr, notify.LogNotifier{})
	mgr.OnMessage(rec.OnIncoming)

	user := model.ChatUser{ID: "u1", Name: "Ann"}
	require.NoError(t, mgr.Connect(context.Background(), user))
	t.Cleanup(mgr.Cleanup)

	tempID := rec.Send(context.Background(), "integration hello", user)

	require.Eventually(t, func() bool {
		entries := rec.Messages()
		return len(entries) == 1 &&
			entries[0].State == model.DeliveryConfirmed &&
			!entries[0].Optimistic
	}, 3*time.Second, 10*time.Millisecond)

	entries := rec.Messages()
	assert.Equal(t, "m-1", entries[0].ID)
	assert.Equal(t, tempID, entries[0].ClientMsgId)
	assert.Equal(t, "integration hello", entries[0].Content)
	assert.Equal(t, "u1", entries[0].Author.ID)
}

package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"MeshHub/service/model"
	"MeshHub/tools/ids"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	err   error
	calls []sentCall
}

type sentCall struct {
	content string
	id      string
}

func (f *fakeSender) SendText(_ context.Context, content, clientMsgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{content: content, id: clientMsgID})
	return f.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func entryByID(entries []Entry, id string) (Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func durable(id, clientMsgID, content string, at int64) model.ChatMessage {
	return model.ChatMessage{
		ID:          id,
		ClientMsgId: clientMsgID,
		Content:     content,
		Kind:        model.KindText,
		CreatedAt:   at,
		Author:      model.ChatUser{ID: "u1"},
	}
}

func TestSendAppendsPendingPlaceholder(t *testing.T) {
	s := &fakeSender{}
	r := NewReconciler(s, &countingNotifier{})

	id := r.Send(context.Background(), "hello", model.ChatUser{ID: "u1"})
	assert.True(t, ids.IsTempID(id))

	entries := r.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, model.DeliveryPending, entries[0].State)
	assert.True(t, entries[0].Optimistic)
	assert.Equal(t, "hello", entries[0].Content)

	require.Eventually(t, func() bool { return s.callCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastSwapsPlaceholder(t *testing.T) {
	s := &fakeSender{}
	r := NewReconciler(s, &countingNotifier{})

	id := r.Send(context.Background(), "hello", model.ChatUser{ID: "u1"})
	r.OnIncoming(durable("m-1", id, "hello", time.Now().UnixMilli()))

	entries := r.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, "m-1", entries[0].ID)
	assert.Equal(t, model.DeliveryConfirmed, entries[0].State)
	assert.False(t, entries[0].Optimistic)

	// Redelivery of the same durable id is a no-op.
	r.OnIncoming(durable("m-1", id, "hello", time.Now().UnixMilli()))
	assert.Len(t, r.Messages(), 1)
}

func TestForeignBroadcastKeepsOwnPlaceholder(t *testing.T) {
	s := &fakeSender{}
	r := NewReconciler(s, &countingNotifier{})

	id := r.Send(context.Background(), "mine", model.ChatUser{ID: "u1"})
	// Another client's message, correlation id not ours.
	r.OnIncoming(durable("m-2", "temp-other", "theirs", time.Now().UnixMilli()))

	entries := r.Messages()
	require.Len(t, entries, 2)
	mine, ok := entryByID(entries, id)
	require.True(t, ok)
	assert.Equal(t, model.DeliveryPending, mine.State)
}

func TestSendFailureMarksFailedSilently(t *testing.T) {
	s := &fakeSender{}
	s.setErr(fmt.Errorf("offline"))
	n := &countingNotifier{}
	r := NewReconciler(s, n)

	id := r.Send(context.Background(), "hello", model.ChatUser{ID: "u1"})
	require.Eventually(t, func() bool {
		e, ok := entryByID(r.Messages(), id)
		return ok && e.State == model.DeliveryFailed
	}, time.Second, 5*time.Millisecond)

	// First failure stays quiet; the entry itself shows the state.
	assert.Equal(t, 0, n.calls())
}

func TestResendFailureNotifies(t *testing.T) {
	s := &fakeSender{}
	s.setErr(fmt.Errorf("offline"))
	n := &countingNotifier{}
	r := NewReconciler(s, n)

	id := r.Send(context.Background(), "hello", model.ChatUser{ID: "u1"})
	require.Eventually(t, func() bool {
		e, ok := entryByID(r.Messages(), id)
		return ok && e.State == model.DeliveryFailed
	}, time.Second, 5*time.Millisecond)

	require.True(t, r.Resend(context.Background(), id))
	require.Eventually(t, func() bool { return n.calls() == 1 }, time.Second, 5*time.Millisecond)

	e, ok := entryByID(r.Messages(), id)
	require.True(t, ok)
	assert.Equal(t, model.DeliveryFailed, e.State)
}

func TestResendSucceedsAfterRecovery(t *testing.T) {
	s := &fakeSender{}
	s.setErr(fmt.Errorf("offline"))
	r := NewReconciler(s, &countingNotifier{})

	id := r.Send(context.Background(), "hello", model.ChatUser{ID: "u1"})
	require.Eventually(t, func() bool {
		e, ok := entryByID(r.Messages(), id)
		return ok && e.State == model.DeliveryFailed
	}, time.Second, 5*time.Millisecond)

	s.setErr(nil)
	require.True(t, r.Resend(context.Background(), id))
	require.Eventually(t, func() bool { return s.callCount() == 2 }, time.Second, 5*time.Millisecond)

	// The broadcast finally lands and the placeholder resolves.
	r.OnIncoming(durable("m-1", id, "hello", time.Now().UnixMilli()))
	entries := r.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, model.DeliveryConfirmed, entries[0].State)
}

func TestResendRejectsNonFailedEntries(t *testing.T) {
	s := &fakeSender{}
	r := NewReconciler(s, &countingNotifier{})

	id := r.Send(context.Background(), "hello", model.ChatUser{ID: "u1"})
	assert.False(t, r.Resend(context.Background(), id), "pending entry")
	assert.False(t, r.Resend(context.Background(), "no-such-id"))
}

func TestPendingTimeoutFailsPlaceholder(t *testing.T) {
	s := &fakeSender{}
	n := &countingNotifier{}
	r := NewReconciler(s, n, WithPendingTimeout(20*time.Millisecond))

	id := r.Send(context.Background(), "hello", model.ChatUser{ID: "u1"})
	require.Eventually(t, func() bool {
		e, ok := entryByID(r.Messages(), id)
		return ok && e.State == model.DeliveryFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, n.calls())
}

func TestSeedSortsAndDedupes(t *testing.T) {
	r := NewReconciler(&fakeSender{}, &countingNotifier{})
	r.Seed([]model.ChatMessage{
		durable("m-3", "", "third", 3000),
		durable("m-1", "", "first", 1000),
		durable("m-2", "", "second", 2000),
	})

	entries := r.Messages()
	require.Len(t, entries, 3)
	assert.Equal(t, "m-1", entries[0].ID)
	assert.Equal(t, "m-2", entries[1].ID)
	assert.Equal(t, "m-3", entries[2].ID)

	// A broadcast overlapping the seeded window collapses.
	r.OnIncoming(durable("m-2", "", "second", 2000))
	assert.Len(t, r.Messages(), 3)

	// A genuinely new one slots in by timestamp.
	r.OnIncoming(durable("m-15", "", "between", 1500))
	entries = r.Messages()
	require.Len(t, entries, 4)
	assert.Equal(t, "m-15", entries[1].ID)
}

package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"MeshHub/logger"
	"MeshHub/service/model"
	"MeshHub/service/notify"
	"MeshHub/tools/ids"
	"MeshHub/tools/safe"
)

const defaultPendingTimeout = 10 * time.Second

// Entry is one row of the rendered timeline: either a durable message
// or an optimistic local one still waiting for its broadcast.
type Entry struct {
	model.ChatMessage
	State      model.DeliveryState
	Optimistic bool
}

// Sender is the persistence step the reconciler drives. Manager
// implements it over whichever provider is wired in.
type Sender interface {
	SendText(ctx context.Context, content, clientMsgID string) error
}

// Reconciler keeps the local message list consistent while sends are
// in flight. A send appends a pending placeholder immediately; when
// the durable broadcast comes back carrying the same correlation id,
// the placeholder is swapped out for the real message. Duplicates
// from overlapping fetch and broadcast paths collapse by durable id.
type Reconciler struct {
	sender   Sender
	notifier notify.Notifier
	timeout  time.Duration

	mu        sync.Mutex
	confirmed []model.ChatMessage // ascending by CreatedAt
	seen      map[string]struct{} // durable ids already present
	pending   []*pendingEntry     // insertion order
	timers    map[string]*time.Timer
}

type pendingEntry struct {
	msg   model.ChatMessage
	state model.DeliveryState
}

type ReconcilerOption func(*Reconciler)

// WithPendingTimeout bounds how long a placeholder may stay Pending
// before it flips to Failed.
func WithPendingTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.timeout = d }
}

func NewReconciler(sender Sender, n notify.Notifier, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		sender:   sender,
		notifier: n,
		timeout:  defaultPendingTimeout,
		seen:     make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Seed loads the confirmed history, typically from the recent-message
// fetch done right after connect. Replaces any previous seed.
func (r *Reconciler) Seed(msgs []model.ChatMessage) {
	sorted := make([]model.ChatMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt < sorted[j].CreatedAt
	})

	r.mu.Lock()
	r.confirmed = sorted
	r.seen = make(map[string]struct{}, len(sorted))
	for _, m := range sorted {
		r.seen[m.ID] = struct{}{}
	}
	r.mu.Unlock()
}

// Send appends a pending placeholder and fires the persistence step in
// the background. Returns the placeholder's correlation id.
func (r *Reconciler) Send(ctx context.Context, content string, author model.ChatUser) string {
	id := ids.TempID()
	msg := model.ChatMessage{
		ID:          id,
		ClientMsgId: id,
		Content:     content,
		Kind:        model.KindText,
		CreatedAt:   time.Now().UnixMilli(),
		Author:      author,
	}

	r.mu.Lock()
	r.pending = append(r.pending, &pendingEntry{msg: msg, state: model.DeliveryPending})
	r.timers[id] = time.AfterFunc(r.timeout, func() { r.expire(id) })
	r.mu.Unlock()

	safe.SafeGo(func() {
		if err := r.sender.SendText(ctx, content, id); err != nil {
			logger.Infof("[reconciler] send err id=%s: %v", id, err)
			r.markFailed(id)
		}
	})
	return id
}

// OnIncoming folds a durable broadcast into the list. Wire it to the
// manager's OnMessage.
func (r *Reconciler) OnIncoming(msg model.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[msg.ID]; dup {
		return
	}
	r.seen[msg.ID] = struct{}{}
	r.insertConfirmedLocked(msg)

	if msg.ClientMsgId != "" {
		r.removePendingLocked(msg.ClientMsgId)
	}
}

// insertConfirmedLocked keeps confirmed ascending. Broadcasts arrive
// nearly in order, so walking back from the tail is cheap.
func (r *Reconciler) insertConfirmedLocked(msg model.ChatMessage) {
	i := len(r.confirmed)
	for i > 0 && r.confirmed[i-1].CreatedAt > msg.CreatedAt {
		i--
	}
	r.confirmed = append(r.confirmed, model.ChatMessage{})
	copy(r.confirmed[i+1:], r.confirmed[i:])
	r.confirmed[i] = msg
}

func (r *Reconciler) removePendingLocked(clientMsgID string) {
	for i, p := range r.pending {
		if p.msg.ClientMsgId == clientMsgID {
			if t, ok := r.timers[clientMsgID]; ok {
				t.Stop()
				delete(r.timers, clientMsgID)
			}
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// Resend retries a Failed placeholder in place; it goes back to
// Pending without moving in the list. A renewed failure raises a
// notification, unlike the silent first failure.
func (r *Reconciler) Resend(ctx context.Context, id string) bool {
	r.mu.Lock()
	var target *pendingEntry
	for _, p := range r.pending {
		if p.msg.ID == id {
			target = p
			break
		}
	}
	if target == nil || target.state != model.DeliveryFailed {
		r.mu.Unlock()
		return false
	}
	target.state = model.DeliveryPending
	content := target.msg.Content
	r.timers[id] = time.AfterFunc(r.timeout, func() { r.expire(id) })
	r.mu.Unlock()

	safe.SafeGo(func() {
		if err := r.sender.SendText(ctx, content, id); err != nil {
			logger.Infof("[reconciler] resend err id=%s: %v", id, err)
			r.markFailed(id)
			r.notifier.Warnf("message could not be delivered")
		}
	})
	return true
}

// expire runs when a placeholder outlived the pending window with no
// broadcast; it fails quietly so the user can choose to resend.
func (r *Reconciler) expire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timers, id)
	for _, p := range r.pending {
		if p.msg.ID == id && p.state == model.DeliveryPending {
			p.state = model.DeliveryFailed
			return
		}
	}
}

func (r *Reconciler) markFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
	for _, p := range r.pending {
		if p.msg.ID == id {
			p.state = model.DeliveryFailed
			return
		}
	}
}

// Messages renders the timeline: confirmed history in ascending time,
// then optimistic placeholders in send order.
func (r *Reconciler) Messages() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.confirmed)+len(r.pending))
	for _, m := range r.confirmed {
		out = append(out, Entry{ChatMessage: m, State: model.DeliveryConfirmed})
	}
	for _, p := range r.pending {
		out = append(out, Entry{ChatMessage: p.msg, State: p.state, Optimistic: true})
	}
	return out
}

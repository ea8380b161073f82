package gateway

// PresenceRegistry maps userId -> live authenticated session. Its
// cardinality is the authoritative online-user count.
//
// Presence announcements are enqueued while the mutex is held, so the
// count inside each online_users frame always equals the registry
// size at the moment the frame was queued, and announcements can
// never be observed out of order relative to the mutations that
// produced them.

import (
	"MeshHub/service/protocol"
	"sync"
)

type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]*Session)}
}

// Insert registers an authenticated session, evicting any prior
// session for the same user (last-connection-wins). The caller is
// responsible for closing the evicted session. Returns the prior
// session, if any, and the registry size after the insert.
func (r *Registry) Insert(s *Session) (evicted *Session, count int) {
	uid := s.User().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior := r.byUser[uid]; prior != nil && prior != s {
		evicted = prior
	}
	r.byUser[uid] = s
	return evicted, len(r.byUser)
}

// Remove drops the session only if it is still the current mapping
// for its user; a session evicted by a newer login is a no-op here.
func (r *Registry) Remove(s *Session) (removed bool, count int) {
	uid := s.User().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.byUser[uid]; cur == s {
		delete(r.byUser, uid)
		removed = true
	}
	return removed, len(r.byUser)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) Get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID]
}

// AnnouncePresence fans an online_users frame out to every
// authenticated session. Count is read and all enqueues happen under
// one lock hold.
func (r *Registry) AnnouncePresence() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := len(r.byUser)
	payload, err := protocol.EncodeFrame(&protocol.OnlineUsersFrame{Count: count})
	if err != nil {
		return count
	}
	for _, s := range r.byUser {
		s.enqueue(payload)
	}
	return count
}

// Broadcast fans a payload out to every authenticated session,
// including the sender.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byUser {
		s.enqueue(payload)
	}
}

// Sweep implements the liveness check: sessions that missed the
// previous ping round are removed and returned as dead; the rest get
// their alive flag cleared and are returned for a fresh ping.
func (r *Registry) Sweep() (dead []*Session, toPing []*Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, s := range r.byUser {
		if !s.alive.Load() {
			delete(r.byUser, uid)
			dead = append(dead, s)
			continue
		}
		s.alive.Store(false)
		toPing = append(toPing, s)
	}
	return dead, toPing
}

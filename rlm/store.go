package rlm

import (
	"sort"
	"sync"
	"time"
)

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 30 * time.Minute

// SessionStore keeps sessions between HTTP requests so a paused run can be
// resumed. Expired sessions are swept lazily on Put and on lookup; when the
// store is full the least recently used session is evicted.
type SessionStore struct {
	ttl         time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*storeEntry
}

type storeEntry struct {
	session *Session
	touched time.Time
}

// NewSessionStore creates a store. Zero ttl means DefaultSessionTTL; zero
// maxSessions means unbounded.
func NewSessionStore(ttl time.Duration, maxSessions int) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		ttl:         ttl,
		maxSessions: maxSessions,
		now:         time.Now,
		sessions:    make(map[string]*storeEntry),
	}
}

// Put adds or refreshes a session.
func (st *SessionStore) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	st.sweepLocked(now)
	st.sessions[s.ID()] = &storeEntry{session: s, touched: now}

	if st.maxSessions > 0 && len(st.sessions) > st.maxSessions {
		st.evictLocked(len(st.sessions)-st.maxSessions, s.ID())
	}
}

// Get returns a live session and marks it as used.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	now := st.now()
	if st.expired(entry, now) {
		st.removeLocked(id)
		return nil, false
	}
	entry.touched = now
	return entry.session, true
}

// FindByToolCallID returns the session whose pending batch contains id.
func (st *SessionStore) FindByToolCallID(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	for sid, entry := range st.sessions {
		if st.expired(entry, now) {
			st.removeLocked(sid)
			continue
		}
		if entry.session.HasPendingCall(id) {
			entry.touched = now
			return entry.session, true
		}
	}
	return nil, false
}

// Delete closes and removes a session.
func (st *SessionStore) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return false
	}
	st.removeLocked(id)
	return true
}

// Len returns the number of stored sessions, expired ones included until
// the next sweep.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep removes expired sessions and returns how many it removed.
func (st *SessionStore) Sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sweepLocked(st.now())
}

// CloseAll closes and removes every session.
func (st *SessionStore) CloseAll() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id := range st.sessions {
		st.removeLocked(id)
	}
}

func (st *SessionStore) expired(e *storeEntry, now time.Time) bool {
	return now.Sub(e.touched) > st.ttl
}

func (st *SessionStore) sweepLocked(now time.Time) int {
	removed := 0
	for id, entry := range st.sessions {
		if st.expired(entry, now) {
			st.removeLocked(id)
			removed++
		}
	}
	return removed
}

// evictLocked removes the n least recently used sessions, never keep.
func (st *SessionStore) evictLocked(n int, keep string) {
	type aged struct {
		id      string
		touched time.Time
	}
	candidates := make([]aged, 0, len(st.sessions))
	for id, entry := range st.sessions {
		if id != keep {
			candidates = append(candidates, aged{id, entry.touched})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].touched.Before(candidates[j].touched)
	})
	for i := 0; i < n && i < len(candidates); i++ {
		st.removeLocked(candidates[i].id)
	}
}

func (st *SessionStore) removeLocked(id string) {
	if entry, ok := st.sessions[id]; ok {
		entry.session.Close()
		delete(st.sessions, id)
	}
}

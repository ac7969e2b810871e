package syncsession

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoSession is returned when no sync session exists for the
	// (user, connection) pair.
	ErrNoSession = errors.New("no active sync session")

	// ErrSessionExpired is returned when the session outlived its TTL.
	ErrSessionExpired = errors.New("sync session expired")
)

// Store keeps in-flight sync sessions in memory, keyed by
// (user, connection). Sessions are evicted lazily when their TTL elapses;
// there is no background sweeper.
//
// Ownership of a session is exclusive: Take removes it from the store for
// the duration of one state-machine step and CheckIn returns it. While a
// session is taken, a concurrent caller observes ErrNoSession, so no two
// requests can drive the same bank dialog at once.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[storeKey]*Session
	now      func() time.Time
}

type storeKey struct {
	userID       string
	connectionID int64
}

// NewStore creates a session store with the given inactivity TTL.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:      ttl,
		sessions: make(map[storeKey]*Session),
		now:      time.Now,
	}
}

// Take removes and returns the active session for the pair, handing the
// caller exclusive ownership until it is checked back in or discarded.
// An expired session is dropped and reported as ErrSessionExpired.
func (st *Store) Take(userID string, connectionID int64) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	key := storeKey{userID, connectionID}
	s, ok := st.sessions[key]
	if !ok {
		return nil, ErrNoSession
	}
	delete(st.sessions, key)
	if st.now().Sub(s.touchedAt) > st.ttl {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// CheckIn stores a session, refreshing its inactivity window. It refuses
// when the slot is already held by a different session, so a stale step
// cannot evict its replacement; the caller must then discard its dialog.
func (st *Store) CheckIn(s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	key := storeKey{s.UserID, s.ConnectionID}
	if cur, ok := st.sessions[key]; ok && cur.ID != s.ID {
		return false
	}
	s.touchedAt = st.now()
	st.sessions[key] = s
	return true
}

// Get peeks at the active session for the pair without taking ownership
// and without refreshing its inactivity window. An expired session is
// dropped and reported as ErrSessionExpired.
func (st *Store) Get(userID string, connectionID int64) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	key := storeKey{userID, connectionID}
	s, ok := st.sessions[key]
	if !ok {
		return nil, ErrNoSession
	}
	if st.now().Sub(s.touchedAt) > st.ttl {
		delete(st.sessions, key)
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Delete removes the session for the pair, if present. Returns the removed
// session.
func (st *Store) Delete(userID string, connectionID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	key := storeKey{userID, connectionID}
	s := st.sessions[key]
	delete(st.sessions, key)
	return s
}

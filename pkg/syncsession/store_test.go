package syncsession

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreCheckInGet(t *testing.T) {
	st := NewStore(5 * time.Minute)

	_, err := st.Get("u1", 1)
	require.ErrorIs(t, err, ErrNoSession)

	s := newSession("u1", 1, "12345", time.Time{}, time.Time{}, time.Now())
	require.True(t, st.CheckIn(s))

	got, err := st.Get("u1", 1)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, "12345", got.PIN())

	// Other pairs stay isolated.
	_, err = st.Get("u1", 2)
	require.ErrorIs(t, err, ErrNoSession)
	_, err = st.Get("u2", 1)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestStoreTakeGrantsExclusiveOwnership(t *testing.T) {
	st := NewStore(5 * time.Minute)

	s := newSession("u1", 1, "12345", time.Time{}, time.Time{}, time.Now())
	require.True(t, st.CheckIn(s))

	got, err := st.Take("u1", 1)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	// While taken, nobody else sees the session.
	_, err = st.Take("u1", 1)
	require.ErrorIs(t, err, ErrNoSession)
	_, err = st.Get("u1", 1)
	require.ErrorIs(t, err, ErrNoSession)

	require.True(t, st.CheckIn(got))
	_, err = st.Get("u1", 1)
	require.NoError(t, err)
}

func TestStoreTakeHasSingleWinner(t *testing.T) {
	st := NewStore(5 * time.Minute)
	require.True(t, st.CheckIn(newSession("u1", 1, "12345", time.Time{}, time.Time{}, time.Now())))

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Take("u1", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won int
	for err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, ErrNoSession)
		}
	}
	require.Equal(t, 1, won)
}

func TestStoreExpiry(t *testing.T) {
	st := NewStore(5 * time.Minute)
	now := time.Now()
	st.now = func() time.Time { return now }

	require.True(t, st.CheckIn(newSession("u1", 1, "12345", time.Time{}, time.Time{}, now)))

	now = now.Add(4 * time.Minute)
	s, err := st.Take("u1", 1)
	require.NoError(t, err)
	require.True(t, st.CheckIn(s), "check-in restarts the inactivity window")

	now = now.Add(4 * time.Minute)
	s, err = st.Take("u1", 1)
	require.NoError(t, err, "window was refreshed by the check-in")
	require.True(t, st.CheckIn(s))

	now = now.Add(6 * time.Minute)
	_, err = st.Take("u1", 1)
	require.ErrorIs(t, err, ErrSessionExpired)

	// The expired session is gone, not just flagged.
	_, err = st.Take("u1", 1)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestStoreCheckInRefusesStaleSession(t *testing.T) {
	st := NewStore(5 * time.Minute)

	first := newSession("u1", 1, "12345", time.Time{}, time.Time{}, time.Now())
	second := newSession("u1", 1, "12345", time.Time{}, time.Time{}, time.Now())

	require.True(t, st.CheckIn(first))
	taken, err := st.Take("u1", 1)
	require.NoError(t, err)

	// A replacement arrives while the first session is out for a step.
	require.True(t, st.CheckIn(second))

	require.False(t, st.CheckIn(taken), "a stale step must not evict the replacement")
	got, err := st.Get("u1", 1)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
}

func TestStoreDelete(t *testing.T) {
	st := NewStore(5 * time.Minute)

	s := newSession("u1", 1, "12345", time.Time{}, time.Time{}, time.Now())
	require.True(t, st.CheckIn(s))

	removed := st.Delete("u1", 1)
	require.NotNil(t, removed)
	require.Equal(t, s.ID, removed.ID)
	require.Nil(t, st.Delete("u1", 1))
}

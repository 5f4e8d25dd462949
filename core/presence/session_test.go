package presence_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebandlist/presenced/core/presence"
	"github.com/thebandlist/presenced/testsuite"
)

type stateRecorder struct {
	states []presence.State
	mutex  sync.Mutex
}

func (r *stateRecorder) record(s presence.State) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.states = append(r.states, s)
}

func (r *stateRecorder) get() []presence.State {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return slices.Clone(r.states)
}

func assertCached(t *testing.T, cache *presence.Cache, id presence.UserID, expected presence.Status) {
	t.Helper()

	s, found := cache.Get(id)
	assert.True(t, found, "expected %d to be cached", id)
	assert.Equal(t, expected, s, "cached status mismatch for %d", id)
}

func waitForReady(t *testing.T, s *presence.Session) {
	t.Helper()

	require.Eventually(t, s.Ready, 2*time.Second, 5*time.Millisecond, "session never became ready")
}

func TestSession(t *testing.T) {
	cache := presence.NewCache()
	hub := presence.NewHub()
	dialer := testsuite.NewMockDialer()
	states := &stateRecorder{}

	session := presence.NewSession(dialer, cache, hub, presence.SessionOptions{RetryMin: 10 * time.Millisecond, OnStateChange: states.record})

	assert.Equal(t, presence.StateDisconnected, session.State())
	assert.False(t, session.Ready())
	assert.Nil(t, session.Conn())

	// can't start without a token
	assert.Equal(t, presence.ErrMissingToken, session.Start(context.Background(), ""))

	conn := testsuite.NewMockConn("g1", "g2").
		SetRemote("g1", 101, presence.StatusOnline).
		SetRemote("g1", 102, presence.StatusOffline).
		SetRemote("g2", 103, presence.StatusDoNotDisturb).
		FailFetch("g2", testsuite.ErrMockFetch).
		SetLoaded("g2", 103, presence.StatusIdle)
	dialer.Queue(conn)

	bob := testsuite.NewRecorder()
	hub.Subscribe(101, bob.Listener)

	require.NoError(t, session.Start(context.Background(), "sesame"))
	defer session.Stop()

	// only one connection loop per session
	assert.Equal(t, presence.ErrAlreadyStarted, session.Start(context.Background(), "sesame"))

	waitForReady(t, session)

	assert.Equal(t, []string{"sesame"}, dialer.Dials())
	assert.Equal(t, conn, session.Conn())

	require.Eventually(t, func() bool { return len(states.get()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []presence.State{presence.StateConnecting, presence.StateSyncing, presence.StateReady}, states.get())

	// snapshot used fetched members, falling back to loaded members for the group that failed to fetch
	assertCached(t, cache, 101, presence.StatusOnline)
	assertCached(t, cache, 102, presence.StatusOffline)
	assertCached(t, cache, 103, presence.StatusIdle)
	assert.Equal(t, 3, cache.Len())

	// live events update the cache with repeats suppressed
	conn.Push(101, presence.StatusIdle)
	conn.Push(101, presence.StatusIdle)
	conn.Push(104, presence.StatusDoNotDisturb)
	conn.Push(101, presence.StatusOnline)

	require.Eventually(t, func() bool { return bob.Len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []presence.Status{presence.StatusOnline, presence.StatusIdle, presence.StatusOnline}, bob.Statuses())

	require.Eventually(t, func() bool { return cache.Len() == 4 }, time.Second, 5*time.Millisecond)
	assertCached(t, cache, 104, presence.StatusDoNotDisturb)
}

func TestSessionReconnect(t *testing.T) {
	cache := presence.NewCache()
	hub := presence.NewHub()
	dialer := testsuite.NewMockDialer()
	states := &stateRecorder{}

	session := presence.NewSession(dialer, cache, hub, presence.SessionOptions{RetryMin: 10 * time.Millisecond, OnStateChange: states.record})

	conn1 := testsuite.NewMockConn("g1").SetRemote("g1", 101, presence.StatusOnline).SetRemote("g1", 102, presence.StatusIdle)
	dialer.Queue(conn1)

	bob := testsuite.NewRecorder()
	hub.Subscribe(101, bob.Listener)

	require.NoError(t, session.Start(context.Background(), "sesame"))
	defer session.Stop()

	waitForReady(t, session)
	assertCached(t, cache, 101, presence.StatusOnline)

	// next attempt fails, the one after that succeeds with a different view of things
	conn2 := testsuite.NewMockConn("g1").SetRemote("g1", 101, presence.StatusDoNotDisturb).SetRemote("g1", 102, presence.StatusIdle)
	dialer.QueueError(errors.New("gateway unreachable"))
	dialer.Queue(conn2)

	conn1.Drop()

	require.Eventually(t, func() bool { return session.Conn() == conn2 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"sesame", "sesame", "sesame"}, dialer.Dials())

	require.Eventually(t, func() bool { return len(states.get()) == 9 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []presence.State{
		presence.StateConnecting, presence.StateSyncing, presence.StateReady, presence.StateDisconnected,
		presence.StateConnecting, presence.StateDisconnected,
		presence.StateConnecting, presence.StateSyncing, presence.StateReady,
	}, states.get())

	// new snapshot wins
	assertCached(t, cache, 101, presence.StatusDoNotDisturb)
	assertCached(t, cache, 102, presence.StatusIdle)
	assert.Equal(t, []presence.Status{presence.StatusOnline, presence.StatusDoNotDisturb}, bob.Statuses())

	// events still arriving on the old connection are never applied
	conn1.Push(101, presence.StatusOffline)
	conn2.Push(102, presence.StatusOnline)

	require.Eventually(t, func() bool { s, _ := cache.Get(102); return s == presence.StatusOnline }, time.Second, 5*time.Millisecond)
	assertCached(t, cache, 101, presence.StatusDoNotDisturb)
}

func TestSessionRetryBackoff(t *testing.T) {
	dialer := testsuite.NewMockDialer()
	session := presence.NewSession(dialer, presence.NewCache(), presence.NewHub(), presence.SessionOptions{
		RetryMin: 20 * time.Millisecond,
		RetryMax: 80 * time.Millisecond,
	})

	for range 4 {
		dialer.QueueError(errors.New("gateway unreachable"))
	}
	conn := testsuite.NewMockConn("g1")
	dialer.Queue(conn)

	require.NoError(t, session.Start(context.Background(), "sesame"))
	defer session.Stop()

	waitForReady(t, session)

	times := dialer.DialTimes()
	require.Len(t, times, 5)

	// waits double from the minimum up to the maximum
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 40*time.Millisecond)
	assert.GreaterOrEqual(t, times[3].Sub(times[2]), 80*time.Millisecond)
	assert.GreaterOrEqual(t, times[4].Sub(times[3]), 80*time.Millisecond)
	assert.Less(t, times[4].Sub(times[3]), 160*time.Millisecond)

	// having reached ready, the next wait is back to the minimum
	dropped := time.Now()
	conn.Drop()

	require.Eventually(t, func() bool { return len(dialer.DialTimes()) == 6 }, 2*time.Second, 5*time.Millisecond)

	wait := dialer.DialTimes()[5].Sub(dropped)
	assert.GreaterOrEqual(t, wait, 20*time.Millisecond)
	assert.Less(t, wait, 80*time.Millisecond)
}

func TestSessionStop(t *testing.T) {
	dialer := testsuite.NewMockDialer()
	session := presence.NewSession(dialer, presence.NewCache(), presence.NewHub(), presence.SessionOptions{})

	// nothing queued so dialing blocks until we stop
	require.NoError(t, session.Start(context.Background(), "sesame"))
	require.Eventually(t, func() bool { return len(dialer.Dials()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, presence.StateConnecting, session.State())

	stopped := make(chan struct{})
	go func() {
		session.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		assert.Fail(t, "session didn't stop")
	}

	assert.Equal(t, presence.StateDisconnected, session.State())
}

func TestSessionStopWhileReady(t *testing.T) {
	dialer := testsuite.NewMockDialer()
	session := presence.NewSession(dialer, presence.NewCache(), presence.NewHub(), presence.SessionOptions{})

	conn := testsuite.NewMockConn("g1").SetRemote("g1", 101, presence.StatusOnline)
	dialer.Queue(conn)

	require.NoError(t, session.Start(context.Background(), "sesame"))
	waitForReady(t, session)

	session.Stop()

	assert.Equal(t, presence.StateDisconnected, session.State())
	assert.Nil(t, session.Conn())

	// connection was closed
	select {
	case <-conn.Done():
	default:
		assert.Fail(t, "connection not closed")
	}
}

package presence

import (
	"context"
	"log/slog"
	"time"
)

// StatusFunc fetches the current status of a user
type StatusFunc func(context.Context, UserID) Status

// Queries is the read side of presence tracking, used by callers which aren't full-time subscribers
type Queries struct {
	session *Session
	cache   *Cache
}

func NewQueries(session *Session, cache *Cache) *Queries {
	return &Queries{session: session, cache: cache}
}

// TryGetCached returns the cached status of a user without any network activity
func (q *Queries) TryGetCached(userID UserID) (Status, bool) {
	return q.cache.Get(userID)
}

// GetStatus returns the best known status of a user. It returns offline straight away if the gateway isn't
// ready, and otherwise tries the loaded group memberships, then refreshing each group, then the cache.
func (q *Queries) GetStatus(ctx context.Context, userID UserID) Status {
	conn := q.session.Conn()
	if conn == nil {
		return StatusOffline
	}

	groups := conn.Groups()

	for _, g := range groups {
		if s, ok := conn.Member(g, userID); ok {
			return s
		}
	}

	// user may be in a group whose membership hasn't been fully loaded yet
	for _, g := range groups {
		if ctx.Err() != nil {
			return StatusOffline
		}

		members, err := conn.FetchMembers(ctx, g)
		if err != nil {
			slog.With("comp", "queries").Debug("error refreshing group members", "group", g, "error", err)
			continue
		}

		for _, m := range members {
			if m.UserID == userID {
				return m.Status
			}
		}
	}

	if ctx.Err() != nil {
		return StatusOffline
	}

	if s, ok := q.cache.Get(userID); ok {
		return s
	}
	return StatusOffline
}

type WarmUpOptions struct {
	MaxDuration  time.Duration
	PollInterval time.Duration
}

func (o WarmUpOptions) withDefaults() WarmUpOptions {
	if o.MaxDuration <= 0 {
		o.MaxDuration = 20 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	return o
}

// WarmUp polls GetStatus for a user who has just been subscribed to, see WarmUp
func (q *Queries) WarmUp(ctx context.Context, userID UserID, listener Listener, opts WarmUpOptions) Status {
	return WarmUp(ctx, userID, q.GetStatus, listener, opts)
}

// StartWarmUp runs WarmUp on its own goroutine, returning a handle to cancel and join it
func (q *Queries) StartWarmUp(ctx context.Context, userID UserID, listener Listener, opts WarmUpOptions) *WarmUpHandle {
	return StartWarmUp(ctx, userID, q.GetStatus, listener, opts)
}

// WarmUp repeatedly fetches the status of a user and passes each result to the listener, sleeping between
// polls. It returns the last delivered status once a status other than offline is seen, once the max duration
// has elapsed or when ctx is cancelled. Nothing is delivered after it returns.
func WarmUp(ctx context.Context, userID UserID, fetch StatusFunc, listener Listener, opts WarmUpOptions) Status {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.MaxDuration)

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	last := StatusOffline

	for {
		if ctx.Err() != nil {
			return last
		}

		status := fetch(ctx, userID)

		if ctx.Err() != nil {
			return last
		}

		last = status
		listener(userID, status)

		if status != StatusOffline {
			return last
		}

		// don't start a poll that can't finish before the deadline
		if time.Until(deadline) <= opts.PollInterval {
			<-ctx.Done()
			return last
		}

		timer := time.NewTimer(opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

// WarmUpHandle is a warm-up running in the background
type WarmUpHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartWarmUp runs WarmUp on a new goroutine with its own cancellable context
func StartWarmUp(ctx context.Context, userID UserID, fetch StatusFunc, listener Listener, opts WarmUpOptions) *WarmUpHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &WarmUpHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()

		WarmUp(ctx, userID, fetch, listener, opts)
	}()

	return h
}

// Cancel asks the warm-up to stop without waiting for it
func (h *WarmUpHandle) Cancel() { h.cancel() }

// Done is closed once the warm-up has returned
func (h *WarmUpHandle) Done() <-chan struct{} { return h.done }

// Stop cancels the warm-up and waits for it to return
func (h *WarmUpHandle) Stop() {
	h.cancel()
	<-h.done
}

package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrMissingToken is returned when a session is started without a credential
	ErrMissingToken = errors.New("missing gateway token")

	// ErrAlreadyStarted is returned when a session is started more than once
	ErrAlreadyStarted = errors.New("session already started")
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSyncing      State = "syncing"
	StateReady        State = "ready"
)

type SessionOptions struct {
	RetryMin      time.Duration // wait before reconnecting, doubled on each failure
	RetryMax      time.Duration
	OnStateChange func(State)
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.RetryMin <= 0 {
		o.RetryMin = 2 * time.Second
	}
	if o.RetryMax < o.RetryMin {
		o.RetryMax = max(time.Minute, o.RetryMin)
	}
	return o
}

// Session owns the single connection to the presence gateway. It's the only writer of the cache and the only
// publisher to the hub.
type Session struct {
	dialer Dialer
	cache  *Cache
	hub    *Hub
	opts   SessionOptions

	state      State
	conn       Conn
	generation uint64
	mutex      sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSession(dialer Dialer, cache *Cache, hub *Hub, opts SessionOptions) *Session {
	return &Session{
		dialer: dialer,
		cache:  cache,
		hub:    hub,
		opts:   opts.withDefaults(),
		state:  StateDisconnected,
	}
}

// Start begins connecting in the background and keeps reconnecting until Stop is called or ctx is cancelled
func (s *Session) Start(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}

	s.mutex.Lock()
	if s.cancel != nil {
		s.mutex.Unlock()
		return ErrAlreadyStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mutex.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.run(ctx, token)
	}()

	slog.With("comp", "gateway").Info("started")
	return nil
}

// Stop disconnects and waits for the background loop to exit
func (s *Session) Stop() {
	log := slog.With("comp", "gateway")
	log.Info("stopping...")

	s.mutex.RLock()
	cancel := s.cancel
	s.mutex.RUnlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	log.Info("stopped")
}

func (s *Session) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.state
}

func (s *Session) Ready() bool { return s.State() == StateReady }

// Conn returns the current connection if the session is ready, otherwise nil
func (s *Session) Conn() Conn {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.state != StateReady {
		return nil
	}
	return s.conn
}

func (s *Session) run(ctx context.Context, token string) {
	log := slog.With("comp", "gateway")
	wait := s.opts.RetryMin

	for {
		if s.connect(ctx, token) {
			wait = s.opts.RetryMin
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		log.Info("reconnecting", "waited", wait)
		wait = min(wait*2, s.opts.RetryMax)
	}
}

// connect runs one connection through its lifecycle, returning whether it reached ready
func (s *Session) connect(ctx context.Context, token string) bool {
	gen := s.begin()
	log := slog.With("comp", "gateway", "generation", gen)

	conn, err := s.dialer.Dial(ctx, token)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("error connecting to gateway", "error", err)
		}
		s.transition(gen, StateDisconnected, nil)
		return false
	}

	defer func() {
		s.transition(gen, StateDisconnected, nil)

		if err := conn.Close(); err != nil {
			log.Debug("error closing gateway connection", "error", err)
		}
	}()

	s.transition(gen, StateSyncing, conn)

	if err := s.sync(ctx, gen, conn); err != nil {
		if ctx.Err() == nil {
			log.Error("error syncing snapshot", "error", err)
		}
		return false
	}

	s.transition(gen, StateReady, conn)
	log.Info("ready", "cached", s.cache.Len())

	s.consume(ctx, gen, conn)

	if ctx.Err() == nil {
		log.Warn("disconnected from gateway")
	}
	return true
}

// sync loads the membership of every group and applies it. Whatever was applied before a failure stays applied.
func (s *Session) sync(ctx context.Context, gen uint64, conn Conn) error {
	log := slog.With("comp", "gateway", "generation", gen)

	for _, group := range conn.Groups() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return ErrConnClosed
		default:
		}

		members, err := conn.FetchMembers(ctx, group)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("error fetching group members, using those already loaded", "group", group, "error", err)
			members = conn.Members(group)
		}

		for _, m := range members {
			s.apply(gen, m.UserID, m.Status)
		}

		log.Debug("group synced", "group", group, "members", len(members))
	}
	return nil
}

func (s *Session) consume(ctx context.Context, gen uint64, conn Conn) {
	events := conn.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.apply(gen, e.UserID, e.Status)
		}
	}
}

// apply records a status seen on the connection of the given generation, publishing it if it's a change
func (s *Session) apply(gen uint64, userID UserID, status Status) bool {
	s.mutex.RLock()
	current := s.generation == gen
	s.mutex.RUnlock()

	if !current {
		return false
	}

	if old, ok := s.cache.Get(userID); ok && old == status {
		return false
	}

	s.cache.Set(userID, status)
	s.hub.Publish(userID, status)
	return true
}

// begin starts a new connection attempt, superseding any previous one
func (s *Session) begin() uint64 {
	s.mutex.Lock()
	s.generation++
	gen := s.generation
	s.mutex.Unlock()

	s.transition(gen, StateConnecting, nil)
	return gen
}

func (s *Session) transition(gen uint64, state State, conn Conn) {
	s.mutex.Lock()
	if s.generation != gen || s.state == state {
		s.mutex.Unlock()
		return
	}
	s.state = state
	s.conn = conn
	s.mutex.Unlock()

	slog.With("comp", "gateway", "generation", gen).Debug("state changed", "state", state)

	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

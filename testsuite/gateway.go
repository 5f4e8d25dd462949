package testsuite

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/thebandlist/presenced/core/presence"
)

type dialResult struct {
	conn *MockConn
	err  error
}

// MockDialer returns queued connections or errors in order, blocking until one is queued
type MockDialer struct {
	results chan dialResult

	mutex  sync.Mutex
	tokens []string
	times  []time.Time
}

func NewMockDialer() *MockDialer {
	return &MockDialer{results: make(chan dialResult, 16)}
}

func (d *MockDialer) Queue(c *MockConn) { d.results <- dialResult{conn: c} }

func (d *MockDialer) QueueError(err error) { d.results <- dialResult{err: err} }

func (d *MockDialer) Dial(ctx context.Context, token string) (presence.Conn, error) {
	d.mutex.Lock()
	d.tokens = append(d.tokens, token)
	d.times = append(d.times, time.Now())
	d.mutex.Unlock()

	select {
	case r := <-d.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dials returns the tokens of all dial attempts so far
func (d *MockDialer) Dials() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return slices.Clone(d.tokens)
}

// DialTimes returns when each dial attempt was made
func (d *MockDialer) DialTimes() []time.Time {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return slices.Clone(d.times)
}

// MockConn is a gateway connection with separate loaded (local) and remote membership so that
// group refreshes can be simulated
type MockConn struct {
	groups    []presence.GroupID
	loaded    map[presence.GroupID]map[presence.UserID]presence.Status
	remote    map[presence.GroupID]map[presence.UserID]presence.Status
	fetchErrs map[presence.GroupID]error
	fetches   int
	mutex     sync.Mutex

	// FetchDelay makes each fetch take this long, or until its context is cancelled
	FetchDelay time.Duration

	events    chan presence.Member
	done      chan struct{}
	closeOnce sync.Once
}

func NewMockConn(groups ...presence.GroupID) *MockConn {
	return &MockConn{
		groups:    groups,
		loaded:    make(map[presence.GroupID]map[presence.UserID]presence.Status),
		remote:    make(map[presence.GroupID]map[presence.UserID]presence.Status),
		fetchErrs: make(map[presence.GroupID]error),
		events:    make(chan presence.Member, 64),
		done:      make(chan struct{}),
	}
}

// SetLoaded sets the status of a member in the local membership of a group
func (c *MockConn) SetLoaded(g presence.GroupID, u presence.UserID, s presence.Status) *MockConn {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	setMember(c.loaded, g, u, s)
	return c
}

// SetRemote sets the status of a member that will be returned when the group is fetched
func (c *MockConn) SetRemote(g presence.GroupID, u presence.UserID, s presence.Status) *MockConn {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	setMember(c.remote, g, u, s)
	return c
}

// FailFetch makes fetches of the given group return an error
func (c *MockConn) FailFetch(g presence.GroupID, err error) *MockConn {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.fetchErrs[g] = err
	return c
}

// Push sends a live status change
func (c *MockConn) Push(u presence.UserID, s presence.Status) {
	c.events <- presence.Member{UserID: u, Status: s}
}

// Drop simulates the gateway disconnecting
func (c *MockConn) Drop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Fetches returns how many times FetchMembers has been called
func (c *MockConn) Fetches() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.fetches
}

func (c *MockConn) Groups() []presence.GroupID { return slices.Clone(c.groups) }

func (c *MockConn) Members(g presence.GroupID) []presence.Member {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return toMembers(c.loaded[g])
}

func (c *MockConn) Member(g presence.GroupID, u presence.UserID) (presence.Status, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	s, ok := c.loaded[g][u]
	return s, ok
}

func (c *MockConn) FetchMembers(ctx context.Context, g presence.GroupID) ([]presence.Member, error) {
	c.mutex.Lock()
	c.fetches++
	delay := c.FetchDelay
	c.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case <-c.done:
		return nil, presence.ErrConnClosed
	default:
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.fetchErrs[g]; err != nil {
		return nil, err
	}

	// fetching loads the remote membership locally
	for u, s := range c.remote[g] {
		setMember(c.loaded, g, u, s)
	}

	return toMembers(c.remote[g]), nil
}

func (c *MockConn) Events() <-chan presence.Member { return c.events }

func (c *MockConn) Done() <-chan struct{} { return c.done }

func (c *MockConn) Close() error {
	c.Drop()
	return nil
}

// ErrMockFetch is a convenience error for failing fetches
var ErrMockFetch = errors.New("boom")

func setMember(m map[presence.GroupID]map[presence.UserID]presence.Status, g presence.GroupID, u presence.UserID, s presence.Status) {
	if m[g] == nil {
		m[g] = make(map[presence.UserID]presence.Status)
	}
	m[g][u] = s
}

func toMembers(m map[presence.UserID]presence.Status) []presence.Member {
	members := make([]presence.Member, 0, len(m))
	for u, s := range m {
		members = append(members, presence.Member{UserID: u, Status: s})
	}
	slices.SortFunc(members, func(a, b presence.Member) int { return cmp.Compare(a.UserID, b.UserID) })
	return members
}

package discord

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/thebandlist/presenced/core/presence"
)

const (
	intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildPresences

	defaultReadyTimeout = 30 * time.Second
	defaultFetchTimeout = 15 * time.Second
	eventsBuffer        = 1024
)

// ErrFetchTimeout is returned when the gateway doesn't send all member chunks in time
var ErrFetchTimeout = errors.New("timed out waiting for guild members")

// Dialer opens bot sessions on the Discord gateway
type Dialer struct {
	ReadyTimeout time.Duration
	FetchTimeout time.Duration
}

func NewDialer() *Dialer {
	return &Dialer{ReadyTimeout: defaultReadyTimeout, FetchTimeout: defaultFetchTimeout}
}

// Dial opens a gateway session with the given bot token and waits for it to be ready
func (d *Dialer) Dial(ctx context.Context, token string) (presence.Conn, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}

	s.Identify.Intents = intents
	s.SyncEvents = true
	s.ShouldReconnectOnError = false // reconnecting is done by the presence session
	s.StateEnabled = false

	c := newConn(func(guildID, nonce string) error {
		return s.RequestGuildMembers(guildID, "", 0, nonce, true)
	}, s.Close, d.FetchTimeout)

	s.AddHandler(c.onReady)
	s.AddHandler(c.onGuildCreate)
	s.AddHandler(c.onPresenceUpdate)
	s.AddHandler(c.onMembersChunk)
	s.AddHandler(c.onDisconnect)

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("error opening discord gateway: %w", err)
	}

	timeout := cmp.Or(d.ReadyTimeout, defaultReadyTimeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		return c, nil
	case <-c.done:
		return nil, presence.ErrConnClosed
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	case <-timer.C:
		c.Close()
		return nil, fmt.Errorf("discord gateway not ready after %s", timeout)
	}
}

type fetch struct {
	group    presence.GroupID
	members  map[presence.UserID]presence.Status
	received int
	done     chan struct{}
}

// conn is a presence.Conn backed by the events of a single discordgo session
type conn struct {
	request      func(guildID, nonce string) error
	closer       func() error
	fetchTimeout time.Duration

	groups  []presence.GroupID
	members map[presence.GroupID]map[presence.UserID]presence.Status
	pending map[string]*fetch
	mutex   sync.RWMutex

	nonces atomic.Uint64
	events chan presence.Member

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

func newConn(request func(guildID, nonce string) error, closer func() error, fetchTimeout time.Duration) *conn {
	return &conn{
		request:      request,
		closer:       closer,
		fetchTimeout: cmp.Or(fetchTimeout, defaultFetchTimeout),
		members:      make(map[presence.GroupID]map[presence.UserID]presence.Status),
		pending:      make(map[string]*fetch),
		events:       make(chan presence.Member, eventsBuffer),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (c *conn) Groups() []presence.GroupID {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return slices.Clone(c.groups)
}

func (c *conn) Members(g presence.GroupID) []presence.Member {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return toMembers(c.members[g])
}

func (c *conn) Member(g presence.GroupID, u presence.UserID) (presence.Status, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	s, ok := c.members[g][u]
	return s, ok
}

// FetchMembers requests the full member list of a guild with presences and waits for every chunk of the reply
func (c *conn) FetchMembers(ctx context.Context, g presence.GroupID) ([]presence.Member, error) {
	nonce := strconv.FormatUint(c.nonces.Add(1), 10)
	f := &fetch{group: g, members: make(map[presence.UserID]presence.Status), done: make(chan struct{})}

	c.mutex.Lock()
	c.pending[nonce] = f
	c.mutex.Unlock()

	defer func() {
		c.mutex.Lock()
		delete(c.pending, nonce)
		c.mutex.Unlock()
	}()

	if err := c.request(string(g), nonce); err != nil {
		return nil, fmt.Errorf("error requesting members of guild %s: %w", g, err)
	}

	timer := time.NewTimer(c.fetchTimeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return toMembers(f.members), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, presence.ErrConnClosed
	case <-timer.C:
		return nil, ErrFetchTimeout
	}
}

func (c *conn) Events() <-chan presence.Member { return c.events }

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Close() error {
	c.markDone()

	if c.closer != nil {
		return c.closer()
	}
	return nil
}

func (c *conn) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	groups := make([]presence.GroupID, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		groups = append(groups, presence.GroupID(g.ID))
	}

	c.mutex.Lock()
	c.groups = groups
	c.mutex.Unlock()

	slog.With("comp", "discord").Info("gateway ready", "guilds", len(groups))

	c.readyOnce.Do(func() { close(c.ready) })
}

// onGuildCreate seeds the members of a guild as it becomes available. Presences are only sent for members who
// aren't offline. Guilds from the ready event are covered by the snapshot sync so only the presences of guilds
// joined later are emitted.
func (c *conn) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}
	group := presence.GroupID(g.ID)
	statuses := memberStatuses(g.Members, g.Presences)

	c.mutex.Lock()
	joined := !slices.Contains(c.groups, group)
	if joined {
		c.groups = append(c.groups, group)
	}
	if c.members[group] == nil {
		c.members[group] = make(map[presence.UserID]presence.Status, len(statuses))
	}
	for u, s := range statuses {
		c.members[group][u] = s
	}
	c.mutex.Unlock()

	if joined {
		for _, p := range g.Presences {
			if id, ok := presenceUserID(p); ok {
				c.emit(id, statuses[id])
			}
		}
	}
}

func (c *conn) onPresenceUpdate(_ *discordgo.Session, p *discordgo.PresenceUpdate) {
	id, ok := presenceUserID(&p.Presence)
	if !ok {
		return
	}
	status := presence.ParseStatus(string(p.Status))
	group := presence.GroupID(p.GuildID)

	c.mutex.Lock()
	if c.members[group] == nil {
		c.members[group] = make(map[presence.UserID]presence.Status)
	}
	c.members[group][id] = status
	c.mutex.Unlock()

	c.emit(id, status)
}

func (c *conn) onMembersChunk(_ *discordgo.Session, m *discordgo.GuildMembersChunk) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	f := c.pending[m.Nonce]
	if f == nil || f.group != presence.GroupID(m.GuildID) {
		return
	}

	for u, s := range memberStatuses(m.Members, m.Presences) {
		f.members[u] = s
	}
	f.received++

	if f.received >= m.ChunkCount {
		// replace what we had loaded for this guild
		c.members[f.group] = maps.Clone(f.members)

		delete(c.pending, m.Nonce)
		close(f.done)
	}
}

func (c *conn) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	slog.With("comp", "discord").Warn("gateway disconnected")

	c.markDone()
}

func (c *conn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// emit queues a status change without blocking the gateway's event loop
func (c *conn) emit(u presence.UserID, s presence.Status) {
	select {
	case c.events <- presence.Member{UserID: u, Status: s}:
	default:
		slog.With("comp", "discord").Warn("events buffer full, dropping status change", "user_id", u, "status", s)
	}
}

func memberStatuses(members []*discordgo.Member, presences []*discordgo.Presence) map[presence.UserID]presence.Status {
	statuses := make(map[presence.UserID]presence.Status, len(members))

	for _, m := range members {
		if m == nil || m.User == nil {
			continue
		}
		if id, err := presence.ParseUserID(m.User.ID); err == nil {
			statuses[id] = presence.StatusOffline
		}
	}
	for _, p := range presences {
		if id, ok := presenceUserID(p); ok {
			statuses[id] = presence.ParseStatus(string(p.Status))
		}
	}
	return statuses
}

func presenceUserID(p *discordgo.Presence) (presence.UserID, bool) {
	if p == nil || p.User == nil {
		return presence.NilUserID, false
	}
	id, err := presence.ParseUserID(p.User.ID)
	return id, err == nil
}

func toMembers(m map[presence.UserID]presence.Status) []presence.Member {
	members := make([]presence.Member, 0, len(m))
	for u, s := range m {
		members = append(members, presence.Member{UserID: u, Status: s})
	}
	slices.SortFunc(members, func(a, b presence.Member) int { return cmp.Compare(a.UserID, b.UserID) })
	return members
}

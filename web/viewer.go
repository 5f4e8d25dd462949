package web

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nyaruka/gocommon/dates"
	"github.com/nyaruka/gocommon/httpx"
	"github.com/nyaruka/gocommon/jsonx"
	"github.com/nyaruka/gocommon/uuids"
	"github.com/thebandlist/presenced/core/presence"
	"github.com/thebandlist/presenced/web/commands"
	"github.com/thebandlist/presenced/web/events"
)

type watch struct {
	sub    presence.Subscription
	warmUp *presence.WarmUpHandle
}

// Viewer is a websocket connection from a page which displays the status of some users
type Viewer struct {
	id     string
	server *Server
	socket httpx.WebSocket

	watches      map[presence.UserID]*watch
	closed       bool
	watchesMutex sync.Mutex

	send     chan events.Event
	sendStop chan bool
	sendWait sync.WaitGroup
}

func NewViewer(s *Server, sock httpx.WebSocket) *Viewer {
	v := &Viewer{
		id:      string(uuids.New()),
		server:  s,
		socket:  sock,
		watches: make(map[presence.UserID]*watch),

		send:     make(chan events.Event, 64),
		sendStop: make(chan bool),
	}

	s.connect(v)

	v.sendWait.Add(1)
	go v.sender()

	v.socket.OnMessage(v.onMessage)
	v.socket.OnClose(v.onClose)
	v.socket.Start()

	return v
}

func (v *Viewer) ID() string { return v.id }

// Watching returns the users this viewer is currently watching
func (v *Viewer) Watching() []presence.UserID {
	v.watchesMutex.Lock()
	defer v.watchesMutex.Unlock()

	ids := make([]presence.UserID, 0, len(v.watches))
	for id := range v.watches {
		ids = append(ids, id)
	}
	return ids
}

func (v *Viewer) onMessage(msg []byte) {
	cmd, err := commands.ReadCommand(msg)
	if err != nil {
		v.log().Debug("unable to read command", "error", err)
		return
	}

	switch typed := cmd.(type) {
	case *commands.Watch:
		v.watch(typed.UserID)
	case *commands.Unwatch:
		v.unwatch(typed.UserID)
	}
}

// watch subscribes to changes for a user, sends what we have cached and then warms up their status
func (v *Viewer) watch(userID presence.UserID) {
	svc := v.server.service

	v.watchesMutex.Lock()
	defer v.watchesMutex.Unlock()

	if v.closed || v.watches[userID] != nil {
		return
	}

	sub := svc.Hub().Subscribe(userID, func(u presence.UserID, s presence.Status) {
		v.Send(events.NewStatus(dates.Now(), u, s, events.SourcePush))
	})

	if s, found := svc.Queries().TryGetCached(userID); found {
		v.Send(events.NewStatus(dates.Now(), userID, s, events.SourceCache))
	}

	warmUp := svc.Queries().StartWarmUp(context.Background(), userID, func(u presence.UserID, s presence.Status) {
		v.Send(events.NewStatus(dates.Now(), u, s, events.SourceWarmUp))
	}, v.server.WarmUpOptions())

	v.watches[userID] = &watch{sub: sub, warmUp: warmUp}

	v.log().Debug("watching", "user_id", userID)
}

func (v *Viewer) unwatch(userID presence.UserID) {
	v.watchesMutex.Lock()
	w := v.watches[userID]
	delete(v.watches, userID)
	v.watchesMutex.Unlock()

	if w != nil {
		v.server.service.Hub().Unsubscribe(w.sub)
		w.warmUp.Stop()

		v.log().Debug("unwatched", "user_id", userID)
	}
}

func (v *Viewer) onClose(code int) {
	v.log().Info("closing", "code", code)

	v.watchesMutex.Lock()
	watches := v.watches
	v.watches = make(map[presence.UserID]*watch)
	v.closed = true
	v.watchesMutex.Unlock()

	hub := v.server.service.Hub()
	for _, w := range watches {
		hub.Unsubscribe(w.sub)
		w.warmUp.Cancel()
	}
	for _, w := range watches {
		<-w.warmUp.Done()
	}

	v.server.disconnect(v)

	v.sendStop <- true
}

// Send queues an event to be sent to the viewer, dropping it if the viewer isn't keeping up
func (v *Viewer) Send(e events.Event) {
	select {
	case v.send <- e:
	default:
		v.log().Warn("send buffer full, dropping event", "event", e.Type())
	}
}

func (v *Viewer) Stop() {
	v.socket.Close(1000)

	v.sendWait.Wait()
}

func (v *Viewer) sender() {
	defer v.sendWait.Done()

	for {
		select {
		case e := <-v.send:
			v.socket.Send(jsonx.MustMarshal(e))
		case <-v.sendStop:
			return
		}
	}
}

func (v *Viewer) log() *slog.Logger {
	return slog.With("comp", "viewer", "viewer_id", v.id)
}

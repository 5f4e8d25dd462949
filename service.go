package presenced

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thebandlist/presenced/core/models"
	"github.com/thebandlist/presenced/core/presence"
	"github.com/thebandlist/presenced/runtime"
	"github.com/thebandlist/presenced/web"
)

// Service ties together the gateway session, the status cache and hub, account lookups and the web server
type Service struct {
	rt      *runtime.Runtime
	dialer  presence.Dialer
	cache   *presence.Cache
	hub     *presence.Hub
	session *presence.Session
	queries *presence.Queries
	store   models.Store
	server  *web.Server
}

func NewService(rt *runtime.Runtime, dialer presence.Dialer) *Service {
	s := &Service{
		rt:     rt,
		dialer: dialer,
		cache:  presence.NewCache(),
		hub:    presence.NewHub(),
		store:  models.NewStore(rt),
	}

	s.session = presence.NewSession(dialer, s.cache, s.hub, presence.SessionOptions{
		RetryMin:      time.Duration(rt.Config.RetryMin) * time.Second,
		RetryMax:      time.Duration(rt.Config.RetryMax) * time.Second,
		OnStateChange: s.onStateChange,
	})
	s.queries = presence.NewQueries(s.session, s.cache)
	s.server = web.NewServer(rt, s)

	return s
}

func (s *Service) Start() error {
	log := slog.With("comp", "service")

	token, err := s.rt.Config.ResolveBotToken()
	if err != nil {
		return fmt.Errorf("error resolving gateway credentials: %w", err)
	}

	if err := s.session.Start(context.Background(), token); err != nil {
		return fmt.Errorf("error starting gateway session: %w", err)
	}

	s.store.Start()
	s.server.Start()

	log.Info("started")
	return nil
}

func (s *Service) Stop() {
	log := slog.With("comp", "service")
	log.Info("stopping...")

	s.server.Stop()
	s.session.Stop()
	s.store.Stop()

	log.Info("stopped")
}

func (s *Service) Store() models.Store        { return s.store }
func (s *Service) Hub() *presence.Hub         { return s.hub }
func (s *Service) Session() *presence.Session { return s.session }
func (s *Service) Queries() *presence.Queries { return s.queries }
func (s *Service) Cache() *presence.Cache     { return s.cache }

func (s *Service) onStateChange(state presence.State) {
	slog.With("comp", "service").Info("gateway state changed", "state", state, "cached", s.cache.Len())
}

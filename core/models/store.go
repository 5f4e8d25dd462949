package models

import (
	"context"
	"log/slog"
	"time"

	"github.com/nyaruka/gocommon/cache"
	"github.com/thebandlist/presenced/runtime"
)

type Store interface {
	Start()
	Stop()
	GetDiscordAccount(context.Context, SiteUserID) (*DiscordAccount, error)
}

// implementation of Store using cached database lookups
type store struct {
	rt       *runtime.Runtime
	accounts *cache.Local[SiteUserID, *DiscordAccount]
}

func NewStore(rt *runtime.Runtime) Store {
	fetchAccount := func(ctx context.Context, id SiteUserID) (*DiscordAccount, error) {
		return LoadDiscordAccount(ctx, rt, id)
	}

	return &store{
		rt:       rt,
		accounts: cache.NewLocal(fetchAccount, 30*time.Second),
	}
}

func (s *store) Start() {
	s.accounts.Start()

	slog.With("comp", "store").Info("started")
}

func (s *store) Stop() {
	s.accounts.Stop()

	slog.With("comp", "store").Info("stopped")
}

func (s *store) GetDiscordAccount(ctx context.Context, id SiteUserID) (*DiscordAccount, error) {
	return s.accounts.GetOrFetch(ctx, id)
}

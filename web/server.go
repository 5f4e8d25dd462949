package web

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nyaruka/gocommon/httpx"
	"github.com/nyaruka/gocommon/jsonx"
	"github.com/thebandlist/presenced/core/models"
	"github.com/thebandlist/presenced/core/presence"
	"github.com/thebandlist/presenced/runtime"
)

// Service is what the server needs from the presence service
type Service interface {
	Store() models.Store
	Hub() *presence.Hub
	Session() *presence.Session
	Queries() *presence.Queries
}

type Server struct {
	rt         *runtime.Runtime
	service    Service
	httpServer *http.Server
	wg         sync.WaitGroup

	viewers      map[string]*Viewer
	viewersMutex sync.RWMutex
}

func NewServer(rt *runtime.Runtime, service Service) *Server {
	s := &Server{
		rt:      rt,
		service: service,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", rt.Config.Address, rt.Config.Port),
			ReadHeaderTimeout: 10 * time.Second,
		},
		viewers: make(map[string]*Viewer),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/status", s.handleStatus)
	router.Get("/presence/watch", s.handleWatch)
	router.Get("/presence/{user_id}", s.handleGetStatus)
	router.Get("/presence/{user_id}/cached", s.handleGetCached)
	router.Get("/users/{id}/presence", s.handleGetUserStatus)

	s.httpServer.Handler = router

	return s
}

func (s *Server) Start() {
	log := slog.With("comp", "server", "address", s.rt.Config.Address, "port", s.rt.Config.Port)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Error("error listening", "error", err)
		}
	}()

	log.Info("started")
}

func (s *Server) Stop() {
	log := slog.With("comp", "server")
	log.Info("stopping...")

	s.viewersMutex.RLock()
	viewers := slices.Collect(maps.Values(s.viewers))
	s.viewersMutex.RUnlock()

	for _, v := range viewers {
		v.Stop()
	}

	// shut down our HTTP server
	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		log.Error("error shutting down http server", "error", err)
	}

	s.wg.Wait()

	log.Info("stopped")
}

// WarmUpOptions returns the configured warm-up for newly watched users
func (s *Server) WarmUpOptions() presence.WarmUpOptions {
	return presence.WarmUpOptions{
		MaxDuration:  time.Duration(s.rt.Config.WarmUpDuration) * time.Second,
		PollInterval: time.Duration(s.rt.Config.WarmUpInterval) * time.Second,
	}
}

// ViewerCount returns the number of connected viewers
func (s *Server) ViewerCount() int {
	s.viewersMutex.RLock()
	defer s.viewersMutex.RUnlock()

	return len(s.viewers)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	// hijack the HTTP connection...
	sock, err := httpx.NewWebSocket(w, r, 4096, 10)
	if err != nil {
		slog.With("comp", "server").Debug("error upgrading connection", "error", err)
		return // upgrader has already written an error response
	}

	NewViewer(s, sock)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := presence.ParseUserID(chi.URLParam(r, "user_id"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := s.service.Queries().GetStatus(ctx, userID)

	writeResponse(w, http.StatusOK, &statusResponse{UserID: userID, Status: status, CSSClass: status.CSSClass()})
}

func (s *Server) handleGetCached(w http.ResponseWriter, r *http.Request) {
	userID, err := presence.ParseUserID(chi.URLParam(r, "user_id"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	status, found := s.service.Queries().TryGetCached(userID)
	if !found {
		status = presence.StatusOffline
	}

	writeResponse(w, http.StatusOK, &statusResponse{UserID: userID, Status: status, CSSClass: status.CSSClass(), Found: &found})
}

func (s *Server) handleGetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErrorResponse(w, http.StatusBadRequest, "invalid user id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	account, err := s.service.Store().GetDiscordAccount(ctx, models.SiteUserID(id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			writeErrorResponse(w, http.StatusNotFound, "user has no linked discord account")
		case errors.Is(err, models.ErrNoDatabase):
			writeErrorResponse(w, http.StatusServiceUnavailable, "account lookups unavailable")
		default:
			slog.Error("error looking up discord account", "user_id", id, "error", err)
			writeErrorResponse(w, http.StatusInternalServerError, "error looking up discord account")
		}
		return
	}

	status := s.service.Queries().GetStatus(ctx, account.DiscordID)

	writeResponse(w, http.StatusOK, &userStatusResponse{
		statusResponse: statusResponse{UserID: account.DiscordID, Status: status, CSSClass: status.CSSClass()},
		SiteUserID:     account.UserID,
		Name:           account.Name(),
		AvatarURL:      account.AvatarURL(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, http.StatusOK, map[string]any{
		"version": s.rt.Config.Version,
		"gateway": s.service.Session().State(),
		"viewers": s.ViewerCount(),
	})
}

func (s *Server) connect(v *Viewer) {
	s.viewersMutex.Lock()
	s.viewers[v.ID()] = v
	total := len(s.viewers)
	s.viewersMutex.Unlock()

	v.log().Info("viewer connected", "total", total)
}

func (s *Server) disconnect(v *Viewer) {
	s.viewersMutex.Lock()
	delete(s.viewers, v.ID())
	total := len(s.viewers)
	s.viewersMutex.Unlock()

	v.log().Info("viewer disconnected", "total", total)
}

type statusResponse struct {
	UserID   presence.UserID `json:"user_id"`
	Status   presence.Status `json:"status"`
	CSSClass string          `json:"css_class"`
	Found    *bool           `json:"found,omitempty"`
}

type userStatusResponse struct {
	statusResponse

	SiteUserID models.SiteUserID `json:"site_user_id"`
	Name       string            `json:"name"`
	AvatarURL  string            `json:"avatar_url,omitempty"`
}

func writeResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonx.MustMarshal(v))
}

func writeErrorResponse(w http.ResponseWriter, status int, msg string) {
	writeResponse(w, status, map[string]string{"error": msg})
}

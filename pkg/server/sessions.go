package server

import (
	"context"
	"log/slog"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/NERVsystems/lkmap/pkg/mapview"
)

// SessionCookie carries the ID of the browser's map view
const SessionCookie = "lkmap_view"

// sessions maps session IDs to open map views. A view leaving the store,
// by eviction or purge, is closed.
type sessions struct {
	views  *lru.Cache[string, *mapview.View]
	cfg    mapview.Config
	logger *slog.Logger
}

func newSessions(capacity int, cfg mapview.Config, logger *slog.Logger) (*sessions, error) {
	s := &sessions{cfg: cfg, logger: logger}
	views, err := lru.NewWithEvict(capacity, func(id string, v *mapview.View) {
		v.Close()
		s.logger.Debug("map view released", "session", id)
	})
	if err != nil {
		return nil, err
	}
	s.views = views
	return s, nil
}

// get returns the view of the session, if it is still open
func (s *sessions) get(id string) (*mapview.View, bool) {
	return s.views.Get(id)
}

// open creates a view and stores it under its own ID
func (s *sessions) open(ctx context.Context) (*mapview.View, error) {
	v, err := mapview.Open(ctx, s.cfg)
	if err != nil {
		return nil, err
	}
	s.views.Add(v.ID(), v)
	return v, nil
}

// len reports the number of open views
func (s *sessions) len() int {
	return s.views.Len()
}

// purge closes every view
func (s *sessions) purge() {
	s.views.Purge()
}

// viewFor returns the request's view, opening one and setting the session
// cookie when the request carries none or its view has been released
func (s *sessions) viewFor(w http.ResponseWriter, r *http.Request) (*mapview.View, error) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if v, ok := s.get(c.Value); ok {
			return v, nil
		}
	}

	v, err := s.open(r.Context())
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    v.ID(),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Debug("map view opened", "session", v.ID(), "open_views", s.len())
	return v, nil
}

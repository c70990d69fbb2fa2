package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/mapview"
	"github.com/NERVsystems/lkmap/pkg/version"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

func parseTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}

type homePage struct {
	Title   string
	Options []mapview.Option
}

type mapPage struct {
	Title       string
	Options     []mapview.Option
	Selected    string
	Label       string
	Sources     []boundary.LayerSource
	Layers      int
	Width       int
	Height      int
	Attribution string
	Nonce       int64
	Error       string
}

type infoPage struct {
	Title       string
	Categories  []boundary.Category
	Source      string
	Version     string
	Attribution string
}

// render executes a page template into a buffer so a template failure
// never leaves a half-written page
func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("failed to render page", "page", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("failed to write page", "page", name, "error", err)
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "home.html", homePage{
		Title:   "Sri Lanka Map",
		Options: mapview.NewPanel(s.registry, nil).Options(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "info.html", infoPage{
		Title:       "About the Sri Lanka Map",
		Categories:  s.registry.Categories(),
		Source:      s.cfg.BoundarySource(),
		Version:     version.BuildVersion,
		Attribution: s.cfg.Map.Tiles.Attribution,
	})
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.viewFor(w, r)
	if err != nil {
		s.pageError(w, err)
		return
	}
	s.render(w, http.StatusOK, "map.html", s.mapPage(v, ""))
}

func (s *Server) mapPage(v *mapview.View, errMsg string) mapPage {
	selected := v.Selected()
	page := mapPage{
		Title:       "Sri Lanka Map",
		Options:     v.Panel().Options(),
		Selected:    selected,
		Label:       selected,
		Sources:     s.registry.SourcesFor(selected),
		Layers:      v.Map().LayerCount(),
		Width:       s.cfg.RenderWidth,
		Height:      s.cfg.RenderHeight,
		Attribution: s.cfg.Map.Tiles.Attribution,
		Nonce:       time.Now().UnixNano(),
		Error:       errMsg,
	}
	if c, ok := s.registry.Lookup(selected); ok {
		page.Label = c.Label
	}
	return page
}

// handleSelect changes the selected category, gives the new overlays up to
// SelectWait to arrive, then sends the browser back to the map
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.viewFor(w, r)
	if err != nil {
		s.pageError(w, err)
		return
	}

	category := r.PostFormValue("category")
	batch, err := v.Select(r.Context(), category)
	if err != nil {
		if core.HasCode(err, core.ErrInvalidInput) {
			s.render(w, http.StatusBadRequest, "map.html", s.mapPage(v, "Unknown map layer "+strconv.Quote(category)))
			return
		}
		s.pageError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SelectWait)
	defer cancel()
	select {
	case <-batch.Done():
	case <-ctx.Done():
		s.logger.Debug("selection still loading", "category", category, "request_id", requestIDFrom(r.Context()))
	}

	http.Redirect(w, r, "/map", http.StatusSeeOther)
}

// handleClick receives the pixel of a click on the map image, sent by the
// image input as pt.x and pt.y
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.viewFor(w, r)
	if err != nil {
		s.pageError(w, err)
		return
	}

	x, errX := strconv.ParseFloat(r.PostFormValue("pt.x"), 64)
	y, errY := strconv.ParseFloat(r.PostFormValue("pt.y"), 64)
	if errX != nil || errY != nil {
		http.Error(w, "click position is required", http.StatusBadRequest)
		return
	}

	if v.ClickPixel(x, y, s.cfg.RenderWidth, s.cfg.RenderHeight) {
		s.logger.Debug("overlay clicked", "x", x, "y", y, "category", v.Selected())
	}
	http.Redirect(w, r, "/map", http.StatusSeeOther)
}

func (s *Server) handleMapImage(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.viewFor(w, r)
	if err != nil {
		s.pageError(w, err)
		return
	}

	png, err := v.RenderPNG(r.Context(), s.cfg.RenderWidth, s.cfg.RenderHeight)
	if err != nil {
		s.pageError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	if _, err := w.Write(png); err != nil {
		s.logger.Debug("failed to write map image", "error", err)
	}
}

func (s *Server) pageError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	var mcpErr *core.MCPError
	if errors.As(err, &mcpErr) {
		http.Error(w, mcpErr.Message, status)
		return
	}
	http.Error(w, http.StatusText(status), status)
}

// statusFor maps an error to the HTTP status reported to clients
func statusFor(err error) int {
	var mcpErr *core.MCPError
	if !errors.As(err, &mcpErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
	switch core.ErrorCode(mcpErr.Code) {
	case core.ErrInvalidInput, core.ErrInvalidParameter, core.ErrMissingParameter:
		return http.StatusBadRequest
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrViewClosed:
		return http.StatusGone
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrServiceUnavailable, core.ErrNetworkError, core.ErrFetchFailed:
		return http.StatusBadGateway
	case core.ErrServiceTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

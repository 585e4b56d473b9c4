// Package server is the kiosk's HTTP surface. The browser front end drives
// the booth through a small JSON API, follows its state over a WebSocket,
// and guests reach their strips through the retrieval routes.
package server

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/photobooth/internal/booth"
	"github.com/fpang/photobooth/internal/frames"
	"github.com/fpang/photobooth/internal/retrieval"
	"github.com/rs/zerolog/log"
)

// DefaultMaxCaptureBytes caps a single decoded capture.
const DefaultMaxCaptureBytes = 15 << 20

// Booth is the part of the booth runtime the server drives.
type Booth interface {
	Dispatch(ctx context.Context, ev booth.Event) (booth.Snapshot, error)
	Snapshot() booth.Snapshot
	Subscribe() (<-chan booth.Snapshot, func())
}

// Config holds the server's collaborators and settings.
type Config struct {
	Booth     Booth
	Catalog   *frames.Catalog
	Assets    frames.AssetSource
	Links     retrieval.Links
	Retrieval *retrieval.Handler

	MaxCaptureBytes    int64
	AllowedOrigins     []string
	OriginVerifySecret string
	// WebDir, when set, serves the kiosk front end with SPA fallback.
	WebDir string

	Version string
}

// Server serves the kiosk API.
type Server struct {
	cfg Config
}

// New returns a Server. Zero settings fall back to defaults.
func New(cfg Config) *Server {
	if cfg.MaxCaptureBytes <= 0 {
		cfg.MaxCaptureBytes = DefaultMaxCaptureBytes
	}
	return &Server{cfg: cfg}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/frames", s.handleFrames)
	mux.HandleFunc("GET /api/frames/{id}/background", s.handleFrameBackground)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/session/events", s.handleEvent)
	mux.HandleFunc("POST /api/session/capture", s.handleCapture)
	mux.HandleFunc("POST /api/session/capture-error", s.handleCaptureError)
	mux.HandleFunc("GET /api/session/photos/{n}", s.handlePhoto)
	mux.HandleFunc("GET /api/session/strip", s.handleStrip)
	mux.HandleFunc("GET /api/session/stream", s.handleStream)

	if s.cfg.Retrieval != nil {
		s.cfg.Retrieval.Register(mux)
	}
	if s.cfg.WebDir != "" {
		mux.Handle("GET /", s.spaHandler(s.cfg.WebDir))
	}

	return withLogging(withCompression(withCORS(s.cfg.AllowedOrigins, withOriginVerify(s.cfg.OriginVerifySecret, mux))))
}

// spaHandler serves static files and falls back to index.html for client
// side routes.
func (s *Server) spaHandler(dir string) http.Handler {
	root := os.DirFS(dir)
	fileServer := http.FileServer(http.FS(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' blob: data: https:; media-src 'self' blob:; style-src 'self' 'unsafe-inline'; connect-src 'self' ws: wss:")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		p := strings.TrimPrefix(r.URL.Path, "/")
		if p != "" {
			if _, err := fs.Stat(root, filepath.ToSlash(p)); err != nil {
				// Not a file: let the client router handle it.
				r.URL.Path = "/"
			}
		}
		fileServer.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"state":   string(s.cfg.Booth.Snapshot().State),
		"version": s.cfg.Version,
	})
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	all := s.cfg.Catalog.All()
	if o := frames.Orientation(r.URL.Query().Get("orientation")); o != "" {
		if !o.Valid() {
			httpError(w, http.StatusBadRequest, "orientation must be vertical or horizontal")
			return
		}
		all = s.cfg.Catalog.ByOrientation(o)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"frames":    all,
		"defaultId": s.cfg.Catalog.Default().ID,
	})
}

func (s *Server) handleFrameBackground(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.cfg.Catalog.Lookup(r.PathValue("id"))
	if !ok {
		httpError(w, http.StatusNotFound, "frame not found")
		return
	}
	if s.cfg.Assets == nil {
		httpError(w, http.StatusNotFound, "frame artwork not available")
		return
	}
	data, err := s.cfg.Assets.Background(r.Context(), frame)
	if err != nil {
		log.Error().Err(err).Str("frame", frame.ID).Msg("Failed to load frame background")
		httpError(w, http.StatusNotFound, "frame artwork not available")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

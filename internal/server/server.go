// Package server exposes the HTTP surface: live-TV endpoints consumed by
// media-server clients plus the management API for channels, collections,
// and schedules.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jellystream/jellystream/internal/jellyfin"
	"github.com/jellystream/jellystream/internal/sidecar"
	"github.com/jellystream/jellystream/internal/store"
	"github.com/jellystream/jellystream/internal/stream"
)

// ScheduleGenerator is the slice of the schedule generator the API needs.
type ScheduleGenerator interface {
	Generate(ctx context.Context, channelID int64, days int) (int, error)
	Reset(ctx context.Context, channelID int64) error
}

// LiveTV is the media-server registration surface.
type LiveTV interface {
	RegisterTunerHost(ctx context.Context, opts jellyfin.TunerOptions) (string, error)
	UnregisterTunerHost(ctx context.Context, id string) error
	RegisterListingProvider(ctx context.Context, xmltvURL, friendlyName string) (string, error)
	UnregisterListingProvider(ctx context.Context, id string) error
}

// Server wires the domain services into HTTP handlers.
type Server struct {
	Store      *store.Store
	Proxy      *stream.Proxy
	Generator  ScheduleGenerator
	LiveTV     LiveTV
	Lookup     stream.ItemLookup
	PathMap    sidecar.PathMap
	PublicBase string
	Log        zerolog.Logger
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/livetv", func(r chi.Router) {
		r.Get("/m3u/{target}", s.handleM3U)
		r.Get("/xmltv/{target}", s.handleXMLTV)
		r.Get("/thumbnail/{entryID}", s.handleThumbnail)
		r.Get("/stream/{channelID}", s.handleStream)
		r.Head("/stream/{channelID}", s.handleStreamProbe)
	})

	r.Route("/api/channels", func(r chi.Router) {
		r.Get("/", s.handleListChannels)
		r.Post("/", s.handleCreateChannel)
		r.Get("/{id}", s.handleGetChannel)
		r.Put("/{id}", s.handleUpdateChannel)
		r.Delete("/{id}", s.handleDeleteChannel)
		r.Post("/{id}/generate-schedule", s.handleGenerateSchedule)
		r.Post("/{id}/register-livetv", s.handleRegisterLiveTV)
		r.Delete("/{id}/register-livetv", s.handleUnregisterLiveTV)
	})

	r.Route("/api/collections", func(r chi.Router) {
		r.Get("/", s.handleListCollections)
		r.Post("/", s.handleCreateCollection)
		r.Get("/{id}", s.handleGetCollection)
		r.Put("/{id}", s.handleUpdateCollection)
		r.Delete("/{id}", s.handleDeleteCollection)
		r.Put("/{id}/items", s.handleReplaceCollectionItems)
		r.Post("/{id}/verify", s.handleVerifyCollection)
	})

	return r
}

// statusRecorder captures the response code for the request log while
// passing Flush through so streaming responses are not buffered.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.Log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	channels, err := s.Store.ListChannels(r.Context(), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	lastRun, _ := s.Store.GetMeta("maintainer_last_run")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"channels":         len(channels),
		"last_maintenance": lastRun,
	})
}

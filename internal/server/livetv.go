package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"

	"github.com/jellystream/jellystream/internal/guide"
	"github.com/jellystream/jellystream/internal/store"
	"github.com/jellystream/jellystream/internal/stream"
)

// targetChannels resolves the {target} path segment: "all" means every
// enabled channel, anything else is a single channel id.
func (s *Server) targetChannels(w http.ResponseWriter, r *http.Request) ([]store.Channel, bool) {
	target := chi.URLParam(r, "target")
	if target == "all" {
		channels, err := s.Store.ListChannels(r.Context(), true)
		if err != nil {
			s.fail(w, r, err)
			return nil, false
		}
		return channels, true
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "target must be \"all\" or a channel id")
		return nil, false
	}
	ch, err := s.Store.GetChannel(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return []store.Channel{*ch}, true
}

// Clients poll the playlist and guide; stale caches mean dead tuners.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
}

func (s *Server) handleM3U(w http.ResponseWriter, r *http.Request) {
	channels, ok := s.targetChannels(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/x-mpegURL")
	noStore(w)
	if err := guide.WriteM3U(w, channels, s.PublicBase); err != nil {
		s.Log.Debug().Err(err).Msg("playlist write aborted")
	}
}

func (s *Server) handleXMLTV(w http.ResponseWriter, r *http.Request) {
	channels, ok := s.targetChannels(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	from, to := guide.Window(s.Proxy.Now())

	var entries map[int64][]store.ScheduleEntry
	if chi.URLParam(r, "target") == "all" {
		all, err := s.Store.AllEntriesBetween(ctx, from, to)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		entries = all
	} else {
		rows, err := s.Store.EntriesBetween(ctx, channels[0].ID, from, to)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		entries = map[int64][]store.ScheduleEntry{channels[0].ID: rows}
	}

	w.Header().Set("Content-Type", "application/xml")
	noStore(w)

	var out io.Writer = w
	// The full guide compresses an order of magnitude; single-channel
	// documents are too small to bother.
	if chi.URLParam(r, "target") == "all" && strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		defer bw.Close()
		out = bw
	}
	if err := guide.WriteXMLTV(out, channels, entries, s.PublicBase); err != nil {
		s.Log.Debug().Err(err).Msg("guide write aborted")
	}
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "entryID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	entry, err := s.Store.GetEntry(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entry.ThumbnailPath == "" {
		writeError(w, http.StatusNotFound, "no thumbnail for entry")
		return
	}
	if _, err := os.Stat(entry.ThumbnailPath); err != nil {
		writeError(w, http.StatusNotFound, "thumbnail file missing")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, entry.ThumbnailPath)
}

// streamPreflight runs the checks shared by HEAD and GET: channel exists
// and is enabled, the transcoder binary is present, and something is on
// air right now.
func (s *Server) streamPreflight(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := idParam(r, "channelID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return 0, false
	}
	ch, err := s.Store.GetChannel(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return 0, false
	}
	if !ch.Enabled {
		writeError(w, http.StatusForbidden, "channel is disabled")
		return 0, false
	}
	if err := s.Proxy.Runner.Check(); err != nil {
		s.Log.Error().Err(err).Msg("transcoder missing")
		writeError(w, http.StatusServiceUnavailable, "transcoder unavailable")
		return 0, false
	}
	if _, _, err := s.Proxy.NowPlaying(r.Context(), id); err != nil {
		if errors.Is(err, stream.ErrNoEntry) {
			writeError(w, http.StatusNotFound, "nothing scheduled on this channel right now")
			return 0, false
		}
		s.fail(w, r, err)
		return 0, false
	}
	return id, true
}

func (s *Server) handleStreamProbe(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.streamPreflight(w, r); !ok {
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	noStore(w)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamPreflight(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	noStore(w)
	w.WriteHeader(http.StatusOK)

	// From here on the body is live; errors terminate it silently.
	if err := s.Proxy.Run(r.Context(), id, w); err != nil && !errors.Is(err, r.Context().Err()) {
		s.Log.Error().Err(err).Int64("channel", id).Msg("stream ended with error")
	}
}

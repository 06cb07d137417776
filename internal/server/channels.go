package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jellystream/jellystream/internal/jellyfin"
	"github.com/jellystream/jellystream/internal/store"
)

type libraryPayload struct {
	LibraryID      string `json:"library_id"`
	LibraryName    string `json:"library_name"`
	CollectionType string `json:"collection_type"`
}

type genreFilterPayload struct {
	Genre       string `json:"genre"`
	ContentType string `json:"content_type"`
	FilterType  string `json:"filter_type"`
}

type collectionSourcePayload struct {
	CollectionID   int64  `json:"collection_id"`
	CollectionName string `json:"collection_name,omitempty"`
}

// channelPayload is the write shape. Nested slices replace wholesale when
// present and are left untouched when absent.
type channelPayload struct {
	Name              string                     `json:"name"`
	Description       string                     `json:"description"`
	ChannelNumber     string                     `json:"channel_number"`
	Enabled           *bool                      `json:"enabled"`
	ChannelType       string                     `json:"channel_type"`
	ScheduleType      string                     `json:"schedule_type"`
	Libraries         *[]libraryPayload          `json:"libraries"`
	GenreFilters      *[]genreFilterPayload      `json:"genre_filters"`
	CollectionSources *[]collectionSourcePayload `json:"collection_sources"`
}

func (p *channelPayload) validate() error {
	switch p.ScheduleType {
	case "", store.ScheduleManual, store.ScheduleGenreAuto:
	default:
		return fmt.Errorf("unknown schedule_type %q", p.ScheduleType)
	}
	if p.GenreFilters != nil {
		for _, f := range *p.GenreFilters {
			switch f.ContentType {
			case "", store.ContentMovie, store.ContentEpisode, store.ContentBoth:
			default:
				return fmt.Errorf("unknown content_type %q", f.ContentType)
			}
			switch f.FilterType {
			case "", store.FilterInclude, store.FilterExclude:
			default:
				return fmt.Errorf("unknown filter_type %q", f.FilterType)
			}
		}
	}
	return nil
}

type channelView struct {
	ID                       int64                     `json:"id"`
	Name                     string                    `json:"name"`
	Description              string                    `json:"description"`
	ChannelNumber            string                    `json:"channel_number"`
	Enabled                  bool                      `json:"enabled"`
	ChannelType              string                    `json:"channel_type"`
	ScheduleType             string                    `json:"schedule_type"`
	TunerHostID              string                    `json:"tuner_host_id,omitempty"`
	ListingProviderID        string                    `json:"listing_provider_id,omitempty"`
	ScheduleGeneratedThrough *time.Time                `json:"schedule_generated_through,omitempty"`
	Libraries                []libraryPayload          `json:"libraries"`
	GenreFilters             []genreFilterPayload      `json:"genre_filters"`
	CollectionSources        []collectionSourcePayload `json:"collection_sources"`
	CreatedAt                time.Time                 `json:"created_at"`
	UpdatedAt                time.Time                 `json:"updated_at"`
}

func (s *Server) channelView(r *http.Request, ch *store.Channel) (*channelView, error) {
	ctx := r.Context()
	libs, err := s.Store.ListChannelLibraries(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	filters, err := s.Store.ListGenreFilters(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	sources, err := s.Store.ListCollectionSources(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	v := &channelView{
		ID:                       ch.ID,
		Name:                     ch.Name,
		Description:              ch.Description,
		ChannelNumber:            ch.ChannelNumber,
		Enabled:                  ch.Enabled,
		ChannelType:              ch.ChannelType,
		ScheduleType:             ch.ScheduleType,
		TunerHostID:              ch.TunerHostID,
		ListingProviderID:        ch.ListingProviderID,
		ScheduleGeneratedThrough: ch.ScheduleGeneratedThrough,
		Libraries:                []libraryPayload{},
		GenreFilters:             []genreFilterPayload{},
		CollectionSources:        []collectionSourcePayload{},
		CreatedAt:                ch.CreatedAt,
		UpdatedAt:                ch.UpdatedAt,
	}
	for _, l := range libs {
		v.Libraries = append(v.Libraries, libraryPayload{l.LibraryID, l.LibraryName, l.CollectionType})
	}
	for _, f := range filters {
		v.GenreFilters = append(v.GenreFilters, genreFilterPayload{f.Genre, f.ContentType, f.FilterType})
	}
	for _, c := range sources {
		v.CollectionSources = append(v.CollectionSources, collectionSourcePayload{c.CollectionID, c.CollectionName})
	}
	return v, nil
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.Store.ListChannels(r.Context(), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]*channelView, 0, len(channels))
	for i := range channels {
		v, err := s.channelView(r, &channels[i])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var p channelPayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := p.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ch := &store.Channel{
		Name:          p.Name,
		Description:   p.Description,
		ChannelNumber: p.ChannelNumber,
		Enabled:       p.Enabled == nil || *p.Enabled,
		ChannelType:   p.ChannelType,
		ScheduleType:  p.ScheduleType,
	}
	ctx := r.Context()
	if err := s.Store.CreateChannel(ctx, ch); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.applyNested(r, ch.ID, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.channelView(r, ch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	ch, err := s.Store.GetChannel(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.channelView(r, ch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	var p channelPayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := p.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	ch, err := s.Store.GetChannel(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if p.Name != "" {
		ch.Name = p.Name
	}
	ch.Description = p.Description
	if p.ChannelNumber != "" {
		ch.ChannelNumber = p.ChannelNumber
	}
	if p.Enabled != nil {
		ch.Enabled = *p.Enabled
	}
	if p.ChannelType != "" {
		ch.ChannelType = p.ChannelType
	}
	if p.ScheduleType != "" {
		ch.ScheduleType = p.ScheduleType
	}
	if err := s.Store.UpdateChannel(ctx, ch); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.applyNested(r, ch.ID, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.channelView(r, ch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) applyNested(r *http.Request, channelID int64, p *channelPayload) error {
	ctx := r.Context()
	if p.Libraries != nil {
		libs := make([]store.ChannelLibrary, 0, len(*p.Libraries))
		for _, l := range *p.Libraries {
			libs = append(libs, store.ChannelLibrary{
				LibraryID: l.LibraryID, LibraryName: l.LibraryName, CollectionType: l.CollectionType,
			})
		}
		if err := s.Store.ReplaceChannelLibraries(ctx, channelID, libs); err != nil {
			return err
		}
	}
	if p.GenreFilters != nil {
		filters := make([]store.GenreFilter, 0, len(*p.GenreFilters))
		for _, f := range *p.GenreFilters {
			filters = append(filters, store.GenreFilter{
				Genre: f.Genre, ContentType: f.ContentType, FilterType: f.FilterType,
			})
		}
		if err := s.Store.ReplaceGenreFilters(ctx, channelID, filters); err != nil {
			return err
		}
	}
	if p.CollectionSources != nil {
		sources := make([]store.ChannelCollectionSource, 0, len(*p.CollectionSources))
		for _, c := range *p.CollectionSources {
			sources = append(sources, store.ChannelCollectionSource{CollectionID: c.CollectionID})
		}
		if err := s.Store.ReplaceCollectionSources(ctx, channelID, sources); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	if err := s.Store.DeleteChannel(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
	}
	reset := false
	if raw := r.URL.Query().Get("reset"); raw != "" {
		reset, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "reset must be a boolean")
			return
		}
	}
	ctx := r.Context()
	if reset {
		if err := s.Generator.Reset(ctx, id); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	n, err := s.Generator.Generate(ctx, id, days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries_created": n, "reset": reset})
}

func (s *Server) handleRegisterLiveTV(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	if s.LiveTV == nil {
		writeError(w, http.StatusServiceUnavailable, "media server not configured")
		return
	}
	ctx := r.Context()
	ch, err := s.Store.GetChannel(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Stale registrations from a previous attempt are removed first; a
	// failure here is not actionable, the id may already be gone.
	if ch.TunerHostID != "" {
		if err := s.LiveTV.UnregisterTunerHost(ctx, ch.TunerHostID); err != nil {
			s.Log.Warn().Err(err).Str("tuner", ch.TunerHostID).Msg("stale tuner cleanup failed")
		}
	}
	if ch.ListingProviderID != "" {
		if err := s.LiveTV.UnregisterListingProvider(ctx, ch.ListingProviderID); err != nil {
			s.Log.Warn().Err(err).Str("provider", ch.ListingProviderID).Msg("stale listing cleanup failed")
		}
	}

	var legs []string
	tunerID, err := s.LiveTV.RegisterTunerHost(ctx, jellyfin.TunerOptions{
		URL:          s.PublicBase + "/api/livetv/m3u/all",
		FriendlyName: "JellyStream",
	})
	if err != nil {
		s.Log.Error().Err(err).Msg("tuner registration failed")
		legs = append(legs, "tuner: "+err.Error())
	}
	providerID, err := s.LiveTV.RegisterListingProvider(ctx, s.PublicBase+"/api/livetv/xmltv/all", "JellyStream")
	if err != nil {
		s.Log.Error().Err(err).Msg("listing provider registration failed")
		legs = append(legs, "listings: "+err.Error())
	}

	if err := s.Store.SetLiveTVIDs(ctx, id, tunerID, providerID); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(legs) > 0 {
		writeError(w, http.StatusBadGateway, "registration incomplete: "+strings.Join(legs, "; "))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"tuner_host_id":       tunerID,
		"listing_provider_id": providerID,
	})
}

func (s *Server) handleUnregisterLiveTV(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return
	}
	if s.LiveTV == nil {
		writeError(w, http.StatusServiceUnavailable, "media server not configured")
		return
	}
	ctx := r.Context()
	ch, err := s.Store.GetChannel(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var legs []string
	if ch.TunerHostID != "" {
		if err := s.LiveTV.UnregisterTunerHost(ctx, ch.TunerHostID); err != nil {
			legs = append(legs, "tuner: "+err.Error())
		}
	}
	if ch.ListingProviderID != "" {
		if err := s.LiveTV.UnregisterListingProvider(ctx, ch.ListingProviderID); err != nil {
			legs = append(legs, "listings: "+err.Error())
		}
	}
	if err := s.Store.SetLiveTVIDs(ctx, id, "", ""); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(legs) > 0 {
		writeError(w, http.StatusBadGateway, "teardown incomplete: "+strings.Join(legs, "; "))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

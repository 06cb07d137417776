package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jellystream/jellystream/internal/store"
	"github.com/jellystream/jellystream/internal/stream"
)

type collectionItemPayload struct {
	MediaItemID   string `json:"media_item_id"`
	ItemType      string `json:"item_type"`
	LibraryID     string `json:"library_id"`
	Title         string `json:"title"`
	SeriesName    string `json:"series_name,omitempty"`
	SeasonNumber  *int   `json:"season_number,omitempty"`
	EpisodeNumber *int   `json:"episode_number,omitempty"`
	Duration      int    `json:"duration"`
	Genres        string `json:"genres,omitempty"`
	Description   string `json:"description,omitempty"`
	ContentRating string `json:"content_rating,omitempty"`
	AirDate       string `json:"air_date,omitempty"`
	FilePath      string `json:"file_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
}

type collectionPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	JellyfinID  string `json:"jellyfin_id"`
}

type collectionView struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	JellyfinID  string           `json:"jellyfin_id,omitempty"`
	Items       []collectionItem `json:"items"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type collectionItem struct {
	ID int64 `json:"id"`
	collectionItemPayload
	SortOrder int `json:"sort_order"`
}

func (s *Server) collectionView(r *http.Request, c *store.Collection) (*collectionView, error) {
	items, err := s.Store.ListCollectionItems(r.Context(), c.ID)
	if err != nil {
		return nil, err
	}
	v := &collectionView{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		JellyfinID:  c.JellyfinID,
		Items:       []collectionItem{},
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for _, it := range items {
		v.Items = append(v.Items, collectionItem{
			ID: it.ID,
			collectionItemPayload: collectionItemPayload{
				MediaItemID:   it.MediaItemID,
				ItemType:      it.ItemType,
				LibraryID:     it.LibraryID,
				Title:         it.Title,
				SeriesName:    it.SeriesName,
				SeasonNumber:  it.SeasonNumber,
				EpisodeNumber: it.EpisodeNumber,
				Duration:      it.Duration,
				Genres:        it.Genres,
				Description:   it.Description,
				ContentRating: it.ContentRating,
				AirDate:       it.AirDate,
				FilePath:      it.FilePath,
				ThumbnailPath: it.ThumbnailPath,
			},
			SortOrder: it.SortOrder,
		})
	}
	return v, nil
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := s.Store.ListCollections(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]*collectionView, 0, len(cols))
	for i := range cols {
		v, err := s.collectionView(r, &cols[i])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var p collectionPayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	c := &store.Collection{Name: p.Name, Description: p.Description, JellyfinID: p.JellyfinID}
	if err := s.Store.CreateCollection(r.Context(), c); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.collectionView(r, c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	c, err := s.Store.GetCollection(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.collectionView(r, c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	var p collectionPayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	c, err := s.Store.GetCollection(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if p.Name != "" {
		c.Name = p.Name
	}
	c.Description = p.Description
	c.JellyfinID = p.JellyfinID
	if err := s.Store.UpdateCollection(ctx, c); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.collectionView(r, c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	if err := s.Store.DeleteCollection(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplaceCollectionItems(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	var payload []collectionItemPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	c, err := s.Store.GetCollection(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]store.CollectionItem, 0, len(payload))
	for _, p := range payload {
		items = append(items, store.CollectionItem{
			MediaItemID:   p.MediaItemID,
			ItemType:      p.ItemType,
			LibraryID:     p.LibraryID,
			Title:         p.Title,
			SeriesName:    p.SeriesName,
			SeasonNumber:  p.SeasonNumber,
			EpisodeNumber: p.EpisodeNumber,
			Duration:      p.Duration,
			Genres:        p.Genres,
			Description:   p.Description,
			ContentRating: p.ContentRating,
			AirDate:       p.AirDate,
			FilePath:      p.FilePath,
			ThumbnailPath: p.ThumbnailPath,
		})
	}
	if err := s.Store.ReplaceCollectionItems(ctx, id, items); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.collectionView(r, c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleVerifyCollection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	heal := false
	if raw := r.URL.Query().Get("heal"); raw != "" {
		heal, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "heal must be a boolean")
			return
		}
	}
	ctx := r.Context()
	if _, err := s.Store.GetCollection(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.Store.ListCollectionItems(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	results := stream.VerifyCollection(ctx, items, s.Lookup, s.PathMap, s.Log)
	if heal {
		for _, res := range results {
			if res.Status == stream.VerifyMoved {
				if err := s.Store.UpdateCollectionItemPath(ctx, res.ItemID, res.NewPath); err != nil {
					s.fail(w, r, err)
					return
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"healed": heal, "results": results})
}

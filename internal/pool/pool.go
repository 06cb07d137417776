// Package pool builds the candidate programme pool a channel's schedule is
// drawn from: library items narrowed by genre filters, plus curated
// collection items expanded to playable Movies and Episodes.
package pool

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jellystream/jellystream/internal/jellyfin"
	"github.com/jellystream/jellystream/internal/metrics"
	"github.com/jellystream/jellystream/internal/sidecar"
	"github.com/jellystream/jellystream/internal/store"
)

// maxCollectionDepth bounds nested collection expansion.
const maxCollectionDepth = 3

// Enrichment carries sidecar metadata already stored on a curated
// collection item, so scheduling skips the filesystem.
type Enrichment struct {
	Description   string
	ContentRating string
	AirDate       string
	ThumbnailPath string
}

// Candidate is one playable programme: always a Movie or Episode.
type Candidate struct {
	MediaItemID   string
	Title         string
	ItemType      string // Movie | Episode
	SeriesName    string
	SeasonNumber  *int
	EpisodeNumber *int
	LibraryID     string
	Duration      int // seconds
	Genres        []string
	FilePath      string      // local path after MEDIA_PATH_MAP, may be empty
	Pre           *Enrichment // non-nil when metadata is pre-filled
}

// GenresJSON renders the genre list as the JSON array text persisted on
// schedule entries, or "" when empty.
func (c *Candidate) GenresJSON() string {
	if len(c.Genres) == 0 {
		return ""
	}
	b, err := json.Marshal(c.Genres)
	if err != nil {
		return ""
	}
	return string(b)
}

// LibraryClient is the slice of the media-server client the builder needs.
type LibraryClient interface {
	ItemsUnder(ctx context.Context, parentID, includeTypes string, genres []string) ([]jellyfin.Item, error)
	EpisodesUnder(ctx context.Context, parentID string) ([]jellyfin.Item, error)
}

// Builder assembles candidate pools for channels.
type Builder struct {
	Store   *store.Store
	Client  LibraryClient
	PathMap sidecar.PathMap
	Log     zerolog.Logger
}

// Build returns the deduplicated, genre-filtered pool for a channel. A
// failing library or collection source is logged and skipped; the rest
// still contribute. An empty pool is legal.
func (b *Builder) Build(ctx context.Context, channelID int64) ([]Candidate, error) {
	timer := prometheus.NewTimer(metrics.PoolBuildSeconds)
	defer timer.ObserveDuration()

	libs, err := b.Store.ListChannelLibraries(ctx, channelID)
	if err != nil {
		return nil, err
	}
	filters, err := b.Store.ListGenreFilters(ctx, channelID)
	if err != nil {
		return nil, err
	}
	sources, err := b.Store.ListCollectionSources(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var includes []store.GenreFilter
	exclude := map[string]bool{}
	for _, gf := range filters {
		if gf.FilterType == store.FilterExclude {
			exclude[gf.Genre] = true
		} else {
			includes = append(includes, gf)
		}
	}

	seen := map[string]bool{}
	var out []Candidate
	add := func(c Candidate) {
		if c.MediaItemID == "" || seen[c.MediaItemID] {
			return
		}
		seen[c.MediaItemID] = true
		out = append(out, c)
	}

	for _, lib := range libs {
		for _, c := range b.libraryPool(ctx, lib, includes) {
			add(c)
		}
	}

	for _, src := range sources {
		resolved, err := b.resolveCollection(ctx, src.CollectionID, 0)
		if err != nil {
			b.Log.Error().Err(err).Int64("collection", src.CollectionID).
				Int64("channel", channelID).Msg("collection source failed, skipping")
			continue
		}
		for _, c := range applyLenientInclude(resolved, includes) {
			add(c)
		}
	}

	if len(exclude) > 0 {
		kept := out[:0]
		for _, c := range out {
			if !intersects(c.Genres, exclude) {
				kept = append(kept, c)
			}
		}
		out = kept
	}

	b.Log.Info().Int64("channel", channelID).Int("candidates", len(out)).Msg("pool built")
	return out, nil
}

// libraryPool fetches a library's items, one query per include content
// type, or everything when no include filters exist.
func (b *Builder) libraryPool(ctx context.Context, lib store.ChannelLibrary, includes []store.GenreFilter) []Candidate {
	type query struct {
		types  string
		genres []string
	}
	var queries []query
	if len(includes) > 0 {
		byType := map[string][]string{}
		for _, gf := range includes {
			byType[gf.ContentType] = append(byType[gf.ContentType], gf.Genre)
		}
		for ct, genres := range byType {
			queries = append(queries, query{types: includeTypes(ct), genres: genres})
		}
	} else {
		queries = []query{{types: "Movie,Episode"}}
	}

	var out []Candidate
	for _, q := range queries {
		items, err := b.Client.ItemsUnder(ctx, lib.LibraryID, q.types, q.genres)
		if err != nil {
			b.Log.Error().Err(err).Str("library", lib.LibraryID).
				Strs("genres", q.genres).Msg("library fetch failed, skipping")
			continue
		}
		for i := range items {
			if c, ok := b.fromItem(&items[i], lib.LibraryID); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// resolveCollection flattens a local collection to playable candidates.
// Movie/Episode rows convert directly and keep their stored metadata;
// Series/Season rows expand to episodes via the server; Collection rows
// recurse up to maxCollectionDepth.
func (b *Builder) resolveCollection(ctx context.Context, collectionID int64, depth int) ([]Candidate, error) {
	if depth > maxCollectionDepth {
		b.Log.Warn().Int64("collection", collectionID).Msg("max collection nesting reached, dropping")
		return nil, nil
	}
	items, err := b.Store.ListCollectionItems(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for i := range items {
		it := &items[i]
		switch it.ItemType {
		case store.ItemMovie, store.ItemEpisode:
			if it.Duration < jellyfin.MinRunTicks/jellyfin.TicksPerSecond {
				continue
			}
			out = append(out, fromCollectionItem(it))

		case store.ItemSeries, store.ItemSeason:
			eps, err := b.Client.EpisodesUnder(ctx, it.MediaItemID)
			if err != nil {
				b.Log.Error().Err(err).Str("item", it.MediaItemID).
					Str("type", it.ItemType).Msg("episode expansion failed, skipping")
				continue
			}
			for j := range eps {
				if c, ok := b.fromItem(&eps[j], it.LibraryID); ok {
					out = append(out, c)
				}
			}

		case store.ItemCollection:
			nestedID, err := strconv.ParseInt(it.MediaItemID, 10, 64)
			if err != nil {
				b.Log.Warn().Str("item", it.MediaItemID).Msg("nested collection has non-numeric id, skipping")
				continue
			}
			nested, err := b.resolveCollection(ctx, nestedID, depth+1)
			if err != nil {
				b.Log.Error().Err(err).Int64("collection", nestedID).Msg("nested collection failed, skipping")
				continue
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

// fromItem converts a server item, rejecting anything too short to
// schedule.
func (b *Builder) fromItem(it *jellyfin.Item, libraryID string) (Candidate, bool) {
	if !it.Schedulable() {
		return Candidate{}, false
	}
	if libraryID == "" {
		libraryID = it.ParentID
	}
	return Candidate{
		MediaItemID:   it.ID,
		Title:         it.Name,
		ItemType:      it.Type,
		SeriesName:    it.SeriesName,
		SeasonNumber:  it.ParentIndexNumber,
		EpisodeNumber: it.IndexNumber,
		LibraryID:     libraryID,
		Duration:      it.DurationSeconds(),
		Genres:        it.Genres,
		FilePath:      b.PathMap.Apply(it.FilePath()),
	}, true
}

func fromCollectionItem(it *store.CollectionItem) Candidate {
	var genres []string
	if it.Genres != "" {
		json.Unmarshal([]byte(it.Genres), &genres)
	}
	return Candidate{
		MediaItemID:   it.MediaItemID,
		Title:         it.Title,
		ItemType:      it.ItemType,
		SeriesName:    it.SeriesName,
		SeasonNumber:  it.SeasonNumber,
		EpisodeNumber: it.EpisodeNumber,
		LibraryID:     it.LibraryID,
		Duration:      it.Duration,
		Genres:        genres,
		FilePath:      it.FilePath,
		Pre: &Enrichment{
			Description:   it.Description,
			ContentRating: it.ContentRating,
			AirDate:       it.AirDate,
			ThumbnailPath: it.ThumbnailPath,
		},
	}
}

// applyLenientInclude keeps curated items with no genre metadata; items
// that do carry genres must intersect the include set.
func applyLenientInclude(cands []Candidate, includes []store.GenreFilter) []Candidate {
	if len(includes) == 0 {
		return cands
	}
	allowed := map[string]bool{}
	for _, gf := range includes {
		allowed[gf.Genre] = true
	}
	var out []Candidate
	for _, c := range cands {
		if len(c.Genres) == 0 || intersects(c.Genres, allowed) {
			out = append(out, c)
		}
	}
	return out
}

func includeTypes(contentType string) string {
	switch contentType {
	case store.ContentMovie:
		return "Movie"
	case store.ContentEpisode:
		return "Episode"
	default:
		return "Movie,Episode"
	}
}

func intersects(genres []string, set map[string]bool) bool {
	for _, g := range genres {
		if set[g] {
			return true
		}
	}
	return false
}

package store

import "time"

// Schedule types for a channel.
const (
	ScheduleManual    = "manual"
	ScheduleGenreAuto = "genre_auto"
)

// Item types as reported by the media server. Only Movie and Episode ever
// land in schedule_entries; the rest exist while a content pool is built.
const (
	ItemMovie      = "Movie"
	ItemSeries     = "Series"
	ItemSeason     = "Season"
	ItemEpisode    = "Episode"
	ItemCollection = "Collection"
)

// Channel is a virtual TV channel with scheduled programming.
type Channel struct {
	ID                       int64
	Name                     string
	Description              string
	ChannelNumber            string // display number, e.g. "100.1"
	Enabled                  bool
	ChannelType              string // "video"; "music" reserved
	ScheduleType             string // manual | genre_auto
	TunerHostID              string // set after live-TV registration
	ListingProviderID        string
	ScheduleGeneratedThrough *time.Time // rightmost end_time of generated entries
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// ChannelLibrary binds a channel to one media-server library.
type ChannelLibrary struct {
	ID             int64
	ChannelID      int64
	LibraryID      string
	LibraryName    string // cached for display
	CollectionType string // movies | tvshows | mixed
}

// Genre filter composition: includes union, excludes subtract.
const (
	FilterInclude = "include"
	FilterExclude = "exclude"

	ContentMovie   = "movie"
	ContentEpisode = "episode"
	ContentBoth    = "both"
)

// GenreFilter narrows a genre_auto channel's content pool.
type GenreFilter struct {
	ID          int64
	ChannelID   int64
	Genre       string
	ContentType string // movie | episode | both
	FilterType  string // include | exclude
}

// Collection is a named, ordered grouping of media items, optionally
// mirroring a media-server boxset (at most one local collection per boxset).
type Collection struct {
	ID          int64
	Name        string
	Description string
	JellyfinID  string // boxset id; empty for purely local collections
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CollectionItem embeds everything needed to schedule the item directly,
// mirroring ScheduleEntry minus the time fields.
type CollectionItem struct {
	ID            int64
	CollectionID  int64
	MediaItemID   string
	ItemType      string // Movie | Series | Season | Episode
	LibraryID     string
	Title         string
	SeriesName    string
	SeasonNumber  *int
	EpisodeNumber *int
	Duration      int    // seconds; 0 = unknown
	Genres        string // JSON array text, e.g. `["Sci-Fi"]`
	Description   string
	ContentRating string
	AirDate       string // "YYYY" or "YYYY-MM-DD"
	FilePath      string
	ThumbnailPath string
	SortOrder     int
	CreatedAt     time.Time
}

// ChannelCollectionSource links a channel to a local collection as a source.
type ChannelCollectionSource struct {
	ID             int64
	ChannelID      int64
	CollectionID   int64
	CollectionName string
}

// ScheduleEntry is one programme slot on one channel. end_time is always
// start_time + duration, stored redundantly for range queries.
type ScheduleEntry struct {
	ID            int64
	ChannelID     int64
	Title         string
	SeriesName    string
	SeasonNumber  *int
	EpisodeNumber *int
	MediaItemID   string
	LibraryID     string
	ItemType      string // Movie | Episode
	Genres        string // JSON array text
	StartTime     time.Time
	EndTime       time.Time
	Duration      int // seconds
	FilePath      string
	Description   string
	ContentRating string
	ThumbnailPath string
	AirDate       string
	CreatedAt     time.Time
}

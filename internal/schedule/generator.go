// Package schedule fills channel timelines: random draws from the content
// pool laid back to back, gapless, extending from the channel's watermark.
package schedule

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jellystream/jellystream/internal/metrics"
	"github.com/jellystream/jellystream/internal/pool"
	"github.com/jellystream/jellystream/internal/sidecar"
	"github.com/jellystream/jellystream/internal/store"
)

// PoolBuilder abstracts pool assembly so tests can inject fixed pools.
type PoolBuilder interface {
	Build(ctx context.Context, channelID int64) ([]pool.Candidate, error)
}

// Generator extends channel schedules. Concurrent calls for distinct
// channels run in parallel; calls for the same channel serialize so two
// generations never interleave on one timeline.
type Generator struct {
	Store *store.Store
	Pool  PoolBuilder
	Log   zerolog.Logger

	// Clock and Seed default to the wall clock and time seeding; tests
	// override them.
	Clock func() time.Time
	Seed  func() int64

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (g *Generator) now() time.Time {
	if g.Clock != nil {
		return g.Clock().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

func (g *Generator) rng() *rand.Rand {
	seed := time.Now().UnixNano()
	if g.Seed != nil {
		seed = g.Seed()
	}
	return rand.New(rand.NewSource(seed))
}

func (g *Generator) channelLock(id int64) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.locks == nil {
		g.locks = make(map[int64]*sync.Mutex)
	}
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	return l
}

// Generate appends `days` days of entries to the channel's schedule,
// starting at its watermark (or now when the watermark is absent or in the
// past). Returns the number of entries created. An empty pool creates
// nothing and is not an error.
func (g *Generator) Generate(ctx context.Context, channelID int64, days int) (int, error) {
	l := g.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	channel, err := g.Store.GetChannel(ctx, channelID)
	if err != nil {
		return 0, err
	}

	candidates, err := g.Pool.Build(ctx, channelID)
	if err != nil {
		return 0, fmt.Errorf("build pool for channel %d: %w", channelID, err)
	}
	if len(candidates) == 0 {
		g.Log.Warn().Int64("channel", channelID).Msg("content pool is empty, nothing scheduled")
		return 0, nil
	}

	now := g.now()
	cursor := now
	if channel.ScheduleGeneratedThrough != nil && channel.ScheduleGeneratedThrough.After(now) {
		cursor = *channel.ScheduleGeneratedThrough
	}
	fillUntil := cursor.Add(time.Duration(days) * 24 * time.Hour)

	r := g.rng()
	working := make([]pool.Candidate, len(candidates))
	copy(working, candidates)
	r.Shuffle(len(working), func(i, j int) { working[i], working[j] = working[j], working[i] })

	var entries []store.ScheduleEntry
	idx := 0
	for cursor.Before(fillUntil) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if idx >= len(working) {
			r.Shuffle(len(working), func(i, j int) { working[i], working[j] = working[j], working[i] })
			idx = 0
		}
		c := &working[idx]
		idx++
		if c.Duration < 30 {
			continue
		}
		entries = append(entries, g.buildEntry(channelID, c, cursor))
		cursor = cursor.Add(time.Duration(c.Duration) * time.Second)
	}

	if len(entries) == 0 {
		return 0, nil
	}
	// Entries and the watermark land in one transaction; a failure must
	// not leave entries committed under a stale watermark.
	if err := g.Store.AppendEntries(ctx, channelID, entries); err != nil {
		return 0, fmt.Errorf("persist entries for channel %d: %w", channelID, err)
	}
	last := entries[len(entries)-1].EndTime
	metrics.EntriesGenerated.Add(float64(len(entries)))
	g.Log.Info().Int64("channel", channelID).Int("entries", len(entries)).
		Time("through", last).Msg("schedule extended")
	return len(entries), nil
}

// Reset deletes every entry on the channel and clears its watermark, so
// the next Generate starts at now.
func (g *Generator) Reset(ctx context.Context, channelID int64) error {
	l := g.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	if _, err := g.Store.GetChannel(ctx, channelID); err != nil {
		return err
	}
	deleted, err := g.Store.DeleteAllEntries(ctx, channelID)
	if err != nil {
		return err
	}
	if err := g.Store.SetGeneratedThrough(ctx, channelID, nil); err != nil {
		return err
	}
	g.Log.Info().Int64("channel", channelID).Int64("deleted", deleted).Msg("schedule reset")
	return nil
}

func (g *Generator) buildEntry(channelID int64, c *pool.Candidate, start time.Time) store.ScheduleEntry {
	e := store.ScheduleEntry{
		ChannelID:     channelID,
		Title:         c.Title,
		SeriesName:    c.SeriesName,
		SeasonNumber:  c.SeasonNumber,
		EpisodeNumber: c.EpisodeNumber,
		MediaItemID:   c.MediaItemID,
		LibraryID:     c.LibraryID,
		ItemType:      c.ItemType,
		Genres:        c.GenresJSON(),
		StartTime:     start,
		EndTime:       start.Add(time.Duration(c.Duration) * time.Second),
		Duration:      c.Duration,
		FilePath:      c.FilePath,
	}
	if c.Pre != nil {
		e.Description = c.Pre.Description
		e.ContentRating = c.Pre.ContentRating
		e.AirDate = c.Pre.AirDate
		e.ThumbnailPath = c.Pre.ThumbnailPath
		return e
	}
	if c.FilePath != "" {
		meta := sidecar.ReadNFO(c.FilePath, c.ItemType)
		e.Description = meta.Description
		e.ContentRating = meta.ContentRating
		e.AirDate = meta.AirDate
		if e.Genres == "" {
			e.Genres = meta.Genres
		}
		e.ThumbnailPath = sidecar.FindThumbnail(c.FilePath, c.ItemType, c.SeasonNumber)
	}
	return e
}

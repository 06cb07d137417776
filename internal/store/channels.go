package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const channelCols = `id, name, COALESCE(description,''), COALESCE(channel_number,''), enabled,
	channel_type, schedule_type, COALESCE(tuner_host_id,''), COALESCE(listing_provider_id,''),
	schedule_generated_through, created_at, updated_at`

func scanChannel(row interface{ Scan(...any) error }) (*Channel, error) {
	var c Channel
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.ChannelNumber, &c.Enabled,
		&c.ChannelType, &c.ScheduleType, &c.TunerHostID, &c.ListingProviderID,
		scanTimePtr{&c.ScheduleGeneratedThrough}, scanTime{&c.CreatedAt}, scanTime{&c.UpdatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	return &c, nil
}

// CreateChannel inserts c and fills in its ID.
func (s *Store) CreateChannel(ctx context.Context, c *Channel) error {
	if c.ChannelType == "" {
		c.ChannelType = "video"
	}
	if c.ScheduleType == "" {
		c.ScheduleType = ScheduleGenreAuto
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO channels
		(name, description, channel_number, enabled, channel_type, schedule_type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.Name, nullStr(c.Description), nullStr(c.ChannelNumber), c.Enabled, c.ChannelType, c.ScheduleType)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetChannel returns the channel or ErrNotFound.
func (s *Store) GetChannel(ctx context.Context, id int64) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelCols+` FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}

// ListChannels returns all channels ordered by id; enabledOnly drops
// disabled ones.
func (s *Store) ListChannels(ctx context.Context, enabledOnly bool) ([]Channel, error) {
	q := `SELECT ` + channelCols + ` FROM channels`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateChannel persists the editable fields of c.
func (s *Store) UpdateChannel(ctx context.Context, c *Channel) error {
	res, err := s.db.ExecContext(ctx, `UPDATE channels SET
		name = ?, description = ?, channel_number = ?, enabled = ?, schedule_type = ?,
		updated_at = datetime('now')
		WHERE id = ?`,
		c.Name, nullStr(c.Description), nullStr(c.ChannelNumber), c.Enabled, c.ScheduleType, c.ID)
	if err != nil {
		return fmt.Errorf("update channel %d: %w", c.ID, err)
	}
	return requireRow(res, c.ID)
}

// DeleteChannel removes the channel; bindings and entries cascade.
func (s *Store) DeleteChannel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel %d: %w", id, err)
	}
	return requireRow(res, id)
}

// SetGeneratedThrough records the rightmost end_time after a generation run.
// nil clears the watermark (schedule reset).
func (s *Store) SetGeneratedThrough(ctx context.Context, channelID int64, t *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET schedule_generated_through = ?, updated_at = datetime('now') WHERE id = ?`,
		nullTime(t), channelID)
	if err != nil {
		return fmt.Errorf("set generated_through for channel %d: %w", channelID, err)
	}
	return nil
}

// SetLiveTVIDs stores the media server's tuner and listing-provider ids
// after registration; empty strings clear them.
func (s *Store) SetLiveTVIDs(ctx context.Context, channelID int64, tunerHostID, listingProviderID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET tuner_host_id = ?, listing_provider_id = ?, updated_at = datetime('now') WHERE id = ?`,
		nullStr(tunerHostID), nullStr(listingProviderID), channelID)
	if err != nil {
		return fmt.Errorf("set livetv ids for channel %d: %w", channelID, err)
	}
	return nil
}

// ListChannelLibraries returns the channel's library bindings.
func (s *Store) ListChannelLibraries(ctx context.Context, channelID int64) ([]ChannelLibrary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, library_id, library_name, collection_type
		 FROM channel_libraries WHERE channel_id = ? ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list channel libraries: %w", err)
	}
	defer rows.Close()
	var out []ChannelLibrary
	for rows.Next() {
		var l ChannelLibrary
		if err := rows.Scan(&l.ID, &l.ChannelID, &l.LibraryID, &l.LibraryName, &l.CollectionType); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ReplaceChannelLibraries swaps the channel's library bindings in one
// transaction.
func (s *Store) ReplaceChannelLibraries(ctx context.Context, channelID int64, libs []ChannelLibrary) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM channel_libraries WHERE channel_id = ?`, channelID); err != nil {
			return err
		}
		for _, l := range libs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO channel_libraries (channel_id, library_id, library_name, collection_type) VALUES (?, ?, ?, ?)`,
				channelID, l.LibraryID, l.LibraryName, l.CollectionType); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListGenreFilters returns the channel's genre filters.
func (s *Store) ListGenreFilters(ctx context.Context, channelID int64) ([]GenreFilter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, genre, content_type, filter_type
		 FROM genre_filters WHERE channel_id = ? ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list genre filters: %w", err)
	}
	defer rows.Close()
	var out []GenreFilter
	for rows.Next() {
		var g GenreFilter
		if err := rows.Scan(&g.ID, &g.ChannelID, &g.Genre, &g.ContentType, &g.FilterType); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ReplaceGenreFilters swaps the channel's genre filters in one transaction.
func (s *Store) ReplaceGenreFilters(ctx context.Context, channelID int64, filters []GenreFilter) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM genre_filters WHERE channel_id = ?`, channelID); err != nil {
			return err
		}
		for _, g := range filters {
			ct := g.ContentType
			if ct == "" {
				ct = ContentBoth
			}
			ft := g.FilterType
			if ft == "" {
				ft = FilterInclude
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO genre_filters (channel_id, genre, content_type, filter_type) VALUES (?, ?, ?, ?)`,
				channelID, g.Genre, ct, ft); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListCollectionSources returns the channel's collection source bindings.
func (s *Store) ListCollectionSources(ctx context.Context, channelID int64) ([]ChannelCollectionSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, collection_id, collection_name
		 FROM channel_collection_sources WHERE channel_id = ? ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list collection sources: %w", err)
	}
	defer rows.Close()
	var out []ChannelCollectionSource
	for rows.Next() {
		var cs ChannelCollectionSource
		if err := rows.Scan(&cs.ID, &cs.ChannelID, &cs.CollectionID, &cs.CollectionName); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// ReplaceCollectionSources swaps the channel's collection bindings in one
// transaction.
func (s *Store) ReplaceCollectionSources(ctx context.Context, channelID int64, sources []ChannelCollectionSource) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM channel_collection_sources WHERE channel_id = ?`, channelID); err != nil {
			return err
		}
		for _, cs := range sources {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO channel_collection_sources (channel_id, collection_id, collection_name) VALUES (?, ?, ?)`,
				channelID, cs.CollectionID, cs.CollectionName); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	return nil
}

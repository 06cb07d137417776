package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const entryCols = `id, channel_id, title, COALESCE(series_name,''), season_number, episode_number,
	media_item_id, library_id, item_type, COALESCE(genres,''), start_time, end_time, duration,
	COALESCE(file_path,''), COALESCE(description,''), COALESCE(content_rating,''),
	COALESCE(thumbnail_path,''), COALESCE(air_date,''), created_at`

func scanEntry(row interface{ Scan(...any) error }) (*ScheduleEntry, error) {
	var e ScheduleEntry
	err := row.Scan(&e.ID, &e.ChannelID, &e.Title, &e.SeriesName,
		scanInt{&e.SeasonNumber}, scanInt{&e.EpisodeNumber},
		&e.MediaItemID, &e.LibraryID, &e.ItemType, &e.Genres,
		scanTime{&e.StartTime}, scanTime{&e.EndTime}, &e.Duration,
		&e.FilePath, &e.Description, &e.ContentRating, &e.ThumbnailPath, &e.AirDate,
		scanTime{&e.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule entry: %w", err)
	}
	return &e, nil
}

// InsertEntries appends entries in one transaction and fills in their IDs.
func (s *Store) InsertEntries(ctx context.Context, entries []ScheduleEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertEntriesTx(ctx, tx, entries)
	})
}

// AppendEntries inserts a generation run's entries and advances the
// channel's watermark to the last end time in the same transaction, so a
// failure leaves neither behind.
func (s *Store) AppendEntries(ctx context.Context, channelID int64, entries []ScheduleEntry) error {
	if len(entries) == 0 {
		return nil
	}
	last := entries[len(entries)-1].EndTime
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertEntriesTx(ctx, tx, entries); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE channels SET schedule_generated_through = ?, updated_at = datetime('now') WHERE id = ?`,
			formatTime(last), channelID)
		if err != nil {
			return fmt.Errorf("set generated_through for channel %d: %w", channelID, err)
		}
		return nil
	})
}

func insertEntriesTx(ctx context.Context, tx *sql.Tx, entries []ScheduleEntry) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO schedule_entries
		(channel_id, title, series_name, season_number, episode_number,
		 media_item_id, library_id, item_type, genres, start_time, end_time, duration,
		 file_path, description, content_rating, thumbnail_path, air_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range entries {
		e := &entries[i]
		res, err := stmt.ExecContext(ctx,
			e.ChannelID, e.Title, nullStr(e.SeriesName), nullInt(e.SeasonNumber), nullInt(e.EpisodeNumber),
			e.MediaItemID, e.LibraryID, e.ItemType, nullStr(e.Genres),
			formatTime(e.StartTime), formatTime(e.EndTime), e.Duration,
			nullStr(e.FilePath), nullStr(e.Description), nullStr(e.ContentRating),
			nullStr(e.ThumbnailPath), nullStr(e.AirDate))
		if err != nil {
			return fmt.Errorf("insert entry %q: %w", e.Title, err)
		}
		if e.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

// GetEntry returns one entry by id or ErrNotFound.
func (s *Store) GetEntry(ctx context.Context, id int64) (*ScheduleEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM schedule_entries WHERE id = ?`, id)
	return scanEntry(row)
}

// EntryAt returns the entry covering t on the channel (start <= t < end),
// or ErrNotFound when the schedule has a gap there.
func (s *Store) EntryAt(ctx context.Context, channelID int64, t time.Time) (*ScheduleEntry, error) {
	ts := formatTime(t)
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM schedule_entries
		WHERE channel_id = ? AND start_time <= ? AND end_time > ?
		ORDER BY start_time LIMIT 1`, channelID, ts, ts)
	return scanEntry(row)
}

// NextEntryAfter returns the first entry starting at or after t.
func (s *Store) NextEntryAfter(ctx context.Context, channelID int64, t time.Time) (*ScheduleEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM schedule_entries
		WHERE channel_id = ? AND start_time >= ?
		ORDER BY start_time LIMIT 1`, channelID, formatTime(t))
	return scanEntry(row)
}

// EntriesBetween returns the channel's entries overlapping [from, to),
// ordered by start time.
func (s *Store) EntriesBetween(ctx context.Context, channelID int64, from, to time.Time) ([]ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryCols+` FROM schedule_entries
		WHERE channel_id = ? AND end_time > ? AND start_time < ?
		ORDER BY start_time`, channelID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("entries between: %w", err)
	}
	return collectEntries(rows)
}

// AllEntriesBetween returns every channel's entries overlapping [from, to),
// keyed by channel id, for full-lineup EPG generation.
func (s *Store) AllEntriesBetween(ctx context.Context, from, to time.Time) (map[int64][]ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryCols+` FROM schedule_entries
		WHERE end_time > ? AND start_time < ?
		ORDER BY channel_id, start_time`, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("all entries between: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]ScheduleEntry)
	for _, e := range entries {
		out[e.ChannelID] = append(out[e.ChannelID], e)
	}
	return out, nil
}

// LastEntryEnd returns the channel's rightmost end_time. ok is false when
// the channel has no entries.
func (s *Store) LastEntryEnd(ctx context.Context, channelID int64) (end time.Time, ok bool, err error) {
	var v sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(end_time) FROM schedule_entries WHERE channel_id = ?`, channelID).Scan(&v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last entry end: %w", err)
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// DeleteEntriesFrom drops entries that start at or after t (schedule reset
// keeps whatever is currently playing).
func (s *Store) DeleteEntriesFrom(ctx context.Context, channelID int64, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedule_entries WHERE channel_id = ? AND start_time >= ?`,
		channelID, formatTime(t))
	if err != nil {
		return 0, fmt.Errorf("delete entries from: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAllEntries drops every entry on the channel (schedule reset).
func (s *Store) DeleteAllEntries(ctx context.Context, channelID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedule_entries WHERE channel_id = ?`, channelID)
	if err != nil {
		return 0, fmt.Errorf("delete all entries: %w", err)
	}
	return res.RowsAffected()
}

// DeleteEntriesBefore prunes entries that ended before t, across all
// channels.
func (s *Store) DeleteEntriesBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedule_entries WHERE end_time <= ?`, formatTime(t))
	if err != nil {
		return 0, fmt.Errorf("delete entries before: %w", err)
	}
	return res.RowsAffected()
}

// CountEntries returns the number of entries on the channel.
func (s *Store) CountEntries(ctx context.Context, channelID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedule_entries WHERE channel_id = ?`, channelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func collectEntries(rows *sql.Rows) ([]ScheduleEntry, error) {
	defer rows.Close()
	var out []ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

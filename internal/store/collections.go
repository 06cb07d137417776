package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const collectionCols = `id, name, COALESCE(description,''), COALESCE(jellyfin_id,''), created_at, updated_at`

func scanCollection(row interface{ Scan(...any) error }) (*Collection, error) {
	var c Collection
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.JellyfinID,
		scanTime{&c.CreatedAt}, scanTime{&c.UpdatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan collection: %w", err)
	}
	return &c, nil
}

// ErrBoxsetTaken is returned when another local collection already mirrors
// the same media-server boxset.
var ErrBoxsetTaken = errors.New("store: boxset already linked to a collection")

// CreateCollection inserts c and fills in its ID.
func (s *Store) CreateCollection(ctx context.Context, c *Collection) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, description, jellyfin_id) VALUES (?, ?, ?)`,
		c.Name, nullStr(c.Description), nullStr(c.JellyfinID))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBoxsetTaken
		}
		return fmt.Errorf("create collection: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCollection returns the collection or ErrNotFound.
func (s *Store) GetCollection(ctx context.Context, id int64) (*Collection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectionCols+` FROM collections WHERE id = ?`, id)
	return scanCollection(row)
}

// CollectionByBoxset finds the local collection mirroring a boxset id.
func (s *Store) CollectionByBoxset(ctx context.Context, jellyfinID string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+collectionCols+` FROM collections WHERE jellyfin_id = ?`, jellyfinID)
	return scanCollection(row)
}

// ListCollections returns all collections ordered by name.
func (s *Store) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+collectionCols+` FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()
	var out []Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateCollection persists name and description.
func (s *Store) UpdateCollection(ctx context.Context, c *Collection) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET name = ?, description = ?, updated_at = datetime('now') WHERE id = ?`,
		c.Name, nullStr(c.Description), c.ID)
	if err != nil {
		return fmt.Errorf("update collection %d: %w", c.ID, err)
	}
	return requireRow(res, c.ID)
}

// DeleteCollection removes the collection; its items and channel bindings
// cascade.
func (s *Store) DeleteCollection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete collection %d: %w", id, err)
	}
	return requireRow(res, id)
}

const collectionItemCols = `id, collection_id, media_item_id, item_type, library_id, title,
	COALESCE(series_name,''), season_number, episode_number, COALESCE(duration,0),
	COALESCE(genres,''), COALESCE(description,''), COALESCE(content_rating,''),
	COALESCE(air_date,''), COALESCE(file_path,''), COALESCE(thumbnail_path,''), sort_order, created_at`

func scanCollectionItem(row interface{ Scan(...any) error }) (*CollectionItem, error) {
	var it CollectionItem
	err := row.Scan(&it.ID, &it.CollectionID, &it.MediaItemID, &it.ItemType, &it.LibraryID, &it.Title,
		&it.SeriesName, scanInt{&it.SeasonNumber}, scanInt{&it.EpisodeNumber}, &it.Duration,
		&it.Genres, &it.Description, &it.ContentRating, &it.AirDate,
		&it.FilePath, &it.ThumbnailPath, &it.SortOrder, scanTime{&it.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan collection item: %w", err)
	}
	return &it, nil
}

// ListCollectionItems returns the collection's items in sort order.
func (s *Store) ListCollectionItems(ctx context.Context, collectionID int64) ([]CollectionItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+collectionItemCols+`
		FROM collection_items WHERE collection_id = ? ORDER BY sort_order, id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list collection items: %w", err)
	}
	defer rows.Close()
	var out []CollectionItem
	for rows.Next() {
		it, err := scanCollectionItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// ReplaceCollectionItems swaps the collection's item list in one
// transaction, renumbering sort_order from 0.
func (s *Store) ReplaceCollectionItems(ctx context.Context, collectionID int64, items []CollectionItem) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM collection_items WHERE collection_id = ?`, collectionID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO collection_items
			(collection_id, media_item_id, item_type, library_id, title, series_name,
			 season_number, episode_number, duration, genres, description, content_rating,
			 air_date, file_path, thumbnail_path, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, it := range items {
			if _, err := stmt.ExecContext(ctx,
				collectionID, it.MediaItemID, it.ItemType, it.LibraryID, it.Title, nullStr(it.SeriesName),
				nullInt(it.SeasonNumber), nullInt(it.EpisodeNumber), it.Duration,
				nullStr(it.Genres), nullStr(it.Description), nullStr(it.ContentRating),
				nullStr(it.AirDate), nullStr(it.FilePath), nullStr(it.ThumbnailPath), i); err != nil {
				return fmt.Errorf("insert collection item %q: %w", it.Title, err)
			}
		}
		return nil
	})
}

// UpdateCollectionItemPath rewrites an item's file path after verification
// found it moved; empty path clears it (file gone).
func (s *Store) UpdateCollectionItemPath(ctx context.Context, itemID int64, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collection_items SET file_path = ? WHERE id = ?`, nullStr(path), itemID)
	if err != nil {
		return fmt.Errorf("update collection item path %d: %w", itemID, err)
	}
	return requireRow(res, itemID)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

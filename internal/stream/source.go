package stream

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/jellystream/jellystream/internal/jellyfin"
	"github.com/jellystream/jellystream/internal/safeurl"
	"github.com/jellystream/jellystream/internal/sidecar"
	"github.com/jellystream/jellystream/internal/store"
)

// StreamURLer yields a direct-stream URL for a media item id.
type StreamURLer interface {
	StreamURL(itemID string) string
}

// SourceResolver picks the transcoder input for a schedule entry.
type SourceResolver interface {
	Resolve(ctx context.Context, e *store.ScheduleEntry) (string, error)
}

// Resolver prefers the entry's local file (cheap seek) and falls back to
// the media server's HTTP stream, which still seeks via Range.
type Resolver struct {
	Client StreamURLer
	Log    zerolog.Logger
}

func (r *Resolver) Resolve(_ context.Context, e *store.ScheduleEntry) (string, error) {
	if e.FilePath != "" {
		if fi, err := os.Stat(e.FilePath); err == nil && !fi.IsDir() {
			r.Log.Debug().Str("title", e.Title).Str("path", e.FilePath).Msg("streaming local file")
			return e.FilePath, nil
		}
		r.Log.Warn().Str("title", e.Title).Str("path", e.FilePath).
			Msg("local file unavailable, falling back to HTTP stream")
	}
	u := r.Client.StreamURL(e.MediaItemID)
	if !safeurl.IsHTTPOrHTTPS(u) {
		return "", fmt.Errorf("refusing non-http stream source %q", safeurl.Redact(u))
	}
	r.Log.Debug().Str("title", e.Title).Str("url", safeurl.Redact(u)).Msg("streaming via media server")
	return u, nil
}

// Verification statuses for collection items.
const (
	VerifyNoPath  = "no_path"
	VerifyOK      = "ok"
	VerifyMoved   = "moved"
	VerifyDeleted = "deleted"
)

// VerifyResult is the outcome for one collection item.
type VerifyResult struct {
	ItemID   int64  `json:"item_id"`
	Title    string `json:"title"`
	ItemType string `json:"item_type"`
	Status   string `json:"status"`
	NewPath  string `json:"new_path,omitempty"`
}

// ItemLookup is the media-server slice the verifier needs.
type ItemLookup interface {
	ItemInfo(ctx context.Context, itemID string) (*jellyfin.Item, error)
}

// VerifyCollection checks every item's file path against disk and, for
// missing files, asks the media server whether the item moved or is gone.
func VerifyCollection(ctx context.Context, items []store.CollectionItem, lookup ItemLookup, pm sidecar.PathMap, log zerolog.Logger) []VerifyResult {
	results := make([]VerifyResult, 0, len(items))
	for i := range items {
		it := &items[i]
		res := VerifyResult{ItemID: it.ID, Title: it.Title, ItemType: it.ItemType}
		switch {
		case it.FilePath == "":
			res.Status = VerifyNoPath
		case fileExists(it.FilePath):
			res.Status = VerifyOK
		default:
			res.Status, res.NewPath = verifyAgainstServer(ctx, it, lookup, pm, log)
		}
		results = append(results, res)
	}
	return results
}

func verifyAgainstServer(ctx context.Context, it *store.CollectionItem, lookup ItemLookup, pm sidecar.PathMap, log zerolog.Logger) (status, newPath string) {
	jf, err := lookup.ItemInfo(ctx, it.MediaItemID)
	if err != nil {
		if !errors.Is(err, jellyfin.ErrItemNotFound) {
			log.Warn().Err(err).Str("item", it.MediaItemID).Msg("verify lookup failed, treating as deleted")
		}
		return VerifyDeleted, ""
	}
	p := pm.Apply(jf.FilePath())
	if p != "" && fileExists(p) {
		log.Info().Str("title", it.Title).Str("path", p).Msg("collection item moved")
		return VerifyMoved, p
	}
	return VerifyDeleted, ""
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

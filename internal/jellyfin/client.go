// Package jellyfin is a thin client for the parts of the Jellyfin HTTP API
// this service consumes: library queries, item lookup, stream URLs, and
// Live TV tuner/guide registration.
package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Jellyfin reports durations in 100ns ticks.
const (
	TicksPerSecond = 10_000_000
	// MinRunTicks filters out trailers, extras, and stubs: anything under
	// 30 seconds is not schedulable.
	MinRunTicks = 300_000_000
)

// itemFields is the field set requested with every /Items query.
const itemFields = "RunTimeTicks,Genres,SeriesName,ParentIndexNumber,IndexNumber,Path,MediaSources"

const pageSize = 500

// ErrItemNotFound is returned when the server reports 404 for an item id.
var ErrItemNotFound = errors.New("jellyfin: item not found")

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jellyfin: unexpected status %d: %s", e.Code, e.Body)
}

// Library is one virtual folder (library) on the server.
type Library struct {
	ItemID         string `json:"ItemId"`
	Name           string `json:"Name"`
	CollectionType string `json:"CollectionType"`
}

// MediaSource is one playable source of an item.
type MediaSource struct {
	Path string `json:"Path"`
}

// Item is a media item as returned by /Items.
type Item struct {
	ID                string        `json:"Id"`
	Name              string        `json:"Name"`
	Type              string        `json:"Type"`
	ParentID          string        `json:"ParentId"`
	RunTimeTicks      int64         `json:"RunTimeTicks"`
	Genres            []string      `json:"Genres"`
	SeriesName        string        `json:"SeriesName"`
	ParentIndexNumber *int          `json:"ParentIndexNumber"`
	IndexNumber       *int          `json:"IndexNumber"`
	Path              string        `json:"Path"`
	MediaSources      []MediaSource `json:"MediaSources"`
}

// DurationSeconds converts RunTimeTicks to whole seconds.
func (it *Item) DurationSeconds() int {
	return int(it.RunTimeTicks / TicksPerSecond)
}

// Schedulable reports whether the item has a playable duration.
func (it *Item) Schedulable() bool {
	return it.RunTimeTicks >= MinRunTicks
}

// FilePath returns the server-reported filesystem path: the top-level Path
// when present, otherwise the first media source's path.
func (it *Item) FilePath() string {
	if it.Path != "" {
		return it.Path
	}
	if len(it.MediaSources) > 0 {
		return it.MediaSources[0].Path
	}
	return ""
}

// Client talks to one Jellyfin server with an API key. Safe for concurrent
// use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	mu     sync.Mutex
	userID string
}

// New builds a client. userID may be empty; it is then discovered from the
// first server user on demand and cached.
func New(baseURL, apiKey, userID string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		userID:  userID,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		log:     log.With().Str("component", "jellyfin").Logger(),
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string { return c.baseURL }

// StreamURL returns the direct HTTP stream URL for an item. The api_key is
// embedded because ffmpeg cannot send headers per request.
func (c *Client) StreamURL(itemID string) string {
	return fmt.Sprintf("%s/Videos/%s/stream?api_key=%s", c.baseURL, url.PathEscape(itemID), url.QueryEscape(c.apiKey))
}

// EnsureUserID returns the configured or cached user id, discovering it from
// /Users when unset. Queries need a UserId for the admin /Items endpoint to
// include Path regardless of permission level.
func (c *Client) EnsureUserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.userID != "" {
		id := c.userID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	var users []struct {
		ID   string `json:"Id"`
		Name string `json:"Name"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/Users", nil, nil, &users); err != nil {
		return "", fmt.Errorf("discover user id: %w", err)
	}
	if len(users) == 0 {
		return "", errors.New("jellyfin: server has no users")
	}
	c.mu.Lock()
	c.userID = users[0].ID
	c.mu.Unlock()
	c.log.Debug().Str("user", users[0].Name).Msg("discovered user id")
	return users[0].ID, nil
}

// Libraries lists the server's virtual folders.
func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	var out []Library
	if err := c.doJSON(ctx, http.MethodGet, "/Library/VirtualFolders", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ItemsUnder pages through /Items below parentID. includeTypes is a
// comma-separated Jellyfin type list ("Movie,Episode"); genres narrows
// server-side when non-empty.
func (c *Client) ItemsUnder(ctx context.Context, parentID, includeTypes string, genres []string) ([]Item, error) {
	var all []Item
	for start := 0; ; start += pageSize {
		q := url.Values{
			"ParentId":         {parentID},
			"Recursive":        {"true"},
			"IncludeItemTypes": {includeTypes},
			"Fields":           {itemFields},
			"Limit":            {strconv.Itoa(pageSize)},
			"StartIndex":       {strconv.Itoa(start)},
			"SortBy":           {"SortName"},
			"SortOrder":        {"Ascending"},
		}
		if len(genres) > 0 {
			q.Set("Genres", strings.Join(genres, ","))
		}
		userID, err := c.EnsureUserID(ctx)
		if err != nil {
			return nil, err
		}
		q.Set("UserId", userID)

		var page struct {
			Items            []Item `json:"Items"`
			TotalRecordCount int    `json:"TotalRecordCount"`
		}
		if err := c.doJSON(ctx, http.MethodGet, "/Items", q, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if start+pageSize >= page.TotalRecordCount {
			break
		}
	}
	return all, nil
}

// EpisodesUnder expands a Series or Season id to its episodes.
func (c *Client) EpisodesUnder(ctx context.Context, parentID string) ([]Item, error) {
	return c.ItemsUnder(ctx, parentID, "Episode", nil)
}

// ItemInfo fetches one item. Returns ErrItemNotFound on 404.
func (c *Client) ItemInfo(ctx context.Context, itemID string) (*Item, error) {
	var it Item
	err := c.doJSON(ctx, http.MethodGet, "/Items/"+url.PathEscape(itemID), nil, nil, &it)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	// The admin /Items/{id} endpoint answers 200 with an empty body for
	// unknown ids on some server versions.
	if it.ID == "" {
		return nil, ErrItemNotFound
	}
	return &it, nil
}

// doJSON performs one API call with rate limiting and retries on transient
// failures. 4xx responses are returned immediately.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return retry.Do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Unrecoverable(err)
		}
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("X-Emby-Token", c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			serr := &StatusError{Code: resp.StatusCode, Body: string(b)}
			if resp.StatusCode >= 500 {
				return serr
			}
			return retry.Unrecoverable(serr)
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(b)) == 0 {
			return nil
		}
		if err := json.Unmarshal(b, out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

package jellyfin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// TunerOptions configures the M3U tuner registered on the server. Zero
// values map to Jellyfin defaults except TunerCount, which defaults to 5.
type TunerOptions struct {
	URL                  string // the M3U playlist URL, reachable from the server
	FriendlyName         string
	TunerCount           int
	AllowHWTranscoding   bool
	AllowFMP4Transcoding bool
	AllowStreamSharing   bool
	EnableStreamLooping  bool
	FallbackMaxBitrate   int
	IgnoreDTS            bool
	ReadAtNativeRate     bool
}

// RegisterTunerHost creates an M3U tuner on the server and returns its id.
func (c *Client) RegisterTunerHost(ctx context.Context, opts TunerOptions) (string, error) {
	count := opts.TunerCount
	if count <= 0 {
		count = 5
	}
	body := map[string]any{
		"Type":                 "m3u",
		"Url":                  opts.URL,
		"FriendlyName":         opts.FriendlyName,
		"TunerCount":           count,
		"ImportFavoritesOnly":  false,
		"AllowHWTranscoding":   opts.AllowHWTranscoding,
		"AllowFmp4Transcoding": opts.AllowFMP4Transcoding,
		"AllowStreamSharing":   opts.AllowStreamSharing,
		"EnableStreamLooping":  opts.EnableStreamLooping,
		"IgnoreDts":            opts.IgnoreDTS,
		"ReadAtNativeFramerate": opts.ReadAtNativeRate,
	}
	if opts.FallbackMaxBitrate > 0 {
		body["FallbackMaxStreamingBitrate"] = opts.FallbackMaxBitrate
	}
	var out struct {
		ID string `json:"Id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/LiveTv/TunerHosts", nil, body, &out); err != nil {
		return "", fmt.Errorf("register tuner host: %w", err)
	}
	return out.ID, nil
}

// UnregisterTunerHost removes a tuner by id.
func (c *Client) UnregisterTunerHost(ctx context.Context, id string) error {
	q := url.Values{"id": {id}}
	if err := c.doJSON(ctx, http.MethodDelete, "/LiveTv/TunerHosts", q, nil, nil); err != nil {
		return fmt.Errorf("unregister tuner host %s: %w", id, err)
	}
	return nil
}

// RegisterListingProvider creates an XMLTV listings provider pointing at
// xmltvURL and returns its id.
func (c *Client) RegisterListingProvider(ctx context.Context, xmltvURL, friendlyName string) (string, error) {
	body := map[string]any{
		"Type":              "xmltv",
		"Path":              xmltvURL,
		"EnableAllTuners":   true,
		"EnabledTuners":     []string{},
		"ListingsId":        friendlyName,
		"MoviePrefix":       nil,
		"PreferredLanguage": nil,
	}
	var out struct {
		ID string `json:"Id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/LiveTv/ListingProviders", nil, body, &out); err != nil {
		return "", fmt.Errorf("register listing provider: %w", err)
	}
	return out.ID, nil
}

// UnregisterListingProvider removes a listings provider by id.
func (c *Client) UnregisterListingProvider(ctx context.Context, id string) error {
	q := url.Values{"id": {id}}
	if err := c.doJSON(ctx, http.MethodDelete, "/LiveTv/ListingProviders", q, nil, nil); err != nil {
		return fmt.Errorf("unregister listing provider %s: %w", id, err)
	}
	return nil
}

package stream

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AudioProber finds the preferred-language audio track of a source.
// Returns the absolute input stream index, or -1 to use the first audio
// track.
type AudioProber interface {
	PreferredAudioIndex(ctx context.Context, source string) int
}

// FFProbeAudio shells out to ffprobe with a hard 10s timeout. Any failure
// (missing binary, timeout, bad JSON) degrades to -1: playback proceeds on
// the default track.
type FFProbeAudio struct {
	// Language is an ISO 639 code, e.g. "eng". Matches full codes and the
	// first two letters so 639-1 and 639-2 tags are interchangeable.
	Language string
	Binary   string
	Log      zerolog.Logger
}

const probeTimeout = 10 * time.Second

func (p *FFProbeAudio) binary() string {
	if p.Binary != "" {
		return p.Binary
	}
	return "ffprobe"
}

func (p *FFProbeAudio) PreferredAudioIndex(ctx context.Context, source string) int {
	want := strings.ToLower(strings.TrimSpace(p.Language))
	if want == "" {
		return -1
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.binary(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a",
		source,
	).Output()
	if err != nil {
		p.Log.Warn().Err(err).Msg("audio probe failed, using default track")
		return -1
	}

	var doc struct {
		Streams []struct {
			Index int               `json:"index"`
			Tags  map[string]string `json:"tags"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		p.Log.Warn().Err(err).Msg("audio probe output unparsable, using default track")
		return -1
	}
	for _, s := range doc.Streams {
		lang := strings.ToLower(strings.TrimSpace(tagValue(s.Tags, "language")))
		if lang == "" {
			continue
		}
		if lang == want || prefix2(lang) == prefix2(want) {
			return s.Index
		}
	}
	return -1
}

func tagValue(tags map[string]string, key string) string {
	for k, v := range tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func prefix2(s string) string {
	if len(s) > 2 {
		return s[:2]
	}
	return s
}

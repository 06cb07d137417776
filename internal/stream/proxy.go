// Package stream turns a channel's schedule into one endless MPEG-TS byte
// stream: it spawns a transcoder per programme, seeks into the middle of
// whatever is playing, and rolls to the next entry when the child exits.
package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/jellystream/jellystream/internal/metrics"
	"github.com/jellystream/jellystream/internal/store"
)

// ErrNoEntry means the schedule has no entry covering the current instant.
var ErrNoEntry = errors.New("stream: nothing scheduled now")

const (
	defaultGapPoll    = 5 * time.Second
	defaultChunkSize  = 64 * 1024
	transitionPause   = 200 * time.Millisecond
	maxResolveBackoff = 30 * time.Second
)

// Proxy serves continuous channel streams. One Proxy is shared by all
// connections; per-connection state lives on the stack of Run.
type Proxy struct {
	Store    *store.Store
	Resolver SourceResolver
	Runner   Runner
	Prober   AudioProber
	Log      zerolog.Logger

	// Clock defaults to the wall clock; tests override it.
	Clock func() time.Time
	// GapPoll and ChunkSize default to 5s and 64KiB.
	GapPoll   time.Duration
	ChunkSize int
}

func (p *Proxy) now() time.Time {
	if p.Clock != nil {
		return p.Clock().UTC()
	}
	return time.Now().UTC()
}

// Now exposes the proxy's clock so guide rendering and the stream share
// one notion of the current instant.
func (p *Proxy) Now() time.Time { return p.now() }

func (p *Proxy) gapPoll() time.Duration {
	if p.GapPoll > 0 {
		return p.GapPoll
	}
	return defaultGapPoll
}

func (p *Proxy) chunkSize() int {
	if p.ChunkSize > 0 {
		return p.ChunkSize
	}
	return defaultChunkSize
}

// NowPlaying returns the entry covering the current instant and the seek
// offset into it. ErrNoEntry when the schedule has a gap.
func (p *Proxy) NowPlaying(ctx context.Context, channelID int64) (*store.ScheduleEntry, int, error) {
	now := p.now()
	e, err := p.Store.EntryAt(ctx, channelID, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, ErrNoEntry
	}
	if err != nil {
		return nil, 0, err
	}
	offset := int(now.Sub(e.StartTime).Seconds())
	if offset < 0 {
		offset = 0
	}
	return e, offset, nil
}

// Run streams MPEG-TS to w until ctx is cancelled (client disconnect) or
// the transcoder disappears. Callers send headers before Run; a mid-stream
// failure terminates the body, never produces an error document.
func (p *Proxy) Run(ctx context.Context, channelID int64, w io.Writer) error {
	log := p.Log.With().Int64("channel", channelID).Logger()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	buf := make([]byte, p.chunkSize())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, offset, err := p.NowPlaying(ctx, channelID)
		if errors.Is(err, ErrNoEntry) {
			log.Debug().Dur("poll", p.gapPoll()).Msg("schedule gap, waiting")
			if err := sleepCtx(ctx, p.gapPoll()); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		source, err := p.Resolver.Resolve(ctx, entry)
		if err != nil {
			log.Error().Err(err).Str("title", entry.Title).Msg("source resolution failed")
			remaining := entry.EndTime.Sub(p.now())
			if remaining < time.Second {
				remaining = time.Second
			}
			if remaining > maxResolveBackoff {
				remaining = maxResolveBackoff
			}
			if err := sleepCtx(ctx, remaining); err != nil {
				return err
			}
			continue
		}

		audioIdx := -1
		if p.Prober != nil {
			audioIdx = p.Prober.PreferredAudioIndex(ctx, source)
		}

		proc, err := p.Runner.Start(ctx, source, offset, audioIdx)
		if err != nil {
			metrics.TranscoderSpawns.WithLabelValues("error").Inc()
			// Not recoverable mid-stream; the body just ends.
			log.Error().Err(err).Str("title", entry.Title).Msg("transcoder spawn failed")
			return err
		}
		metrics.TranscoderSpawns.WithLabelValues("ok").Inc()
		log.Info().Str("title", entry.Title).Int("offset_s", offset).
			Int("audio", audioIdx).Msg("programme started")

		werr := pump(proc.Stdout(), w, buf)
		proc.Stop()
		if werr != nil {
			// Client went away; the context usually cancels first but a
			// write error is authoritative either way.
			log.Debug().Err(werr).Msg("client write failed, closing stream")
			return nil
		}
		log.Info().Str("title", entry.Title).Msg("programme finished, advancing")

		if err := sleepCtx(ctx, transitionPause); err != nil {
			return err
		}
	}
}

// pump copies transcoder output to the client in fixed-size chunks.
// Returns nil when the source drains (child exited), the write error when
// the client broke.
func pump(src io.Reader, dst io.Writer, buf []byte) error {
	type flusher interface{ Flush() }
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if f, ok := dst.(flusher); ok {
				f.Flush()
			}
		}
		if rerr != nil {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

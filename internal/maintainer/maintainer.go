// Package maintainer keeps channel schedules topped up. A nightly pass
// extends every auto-scheduled channel whose horizon is running low and
// prunes entries that finished long ago.
package maintainer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jellystream/jellystream/internal/metrics"
	"github.com/jellystream/jellystream/internal/store"
)

// Extender regenerates a channel's schedule out to now + days.
type Extender interface {
	Generate(ctx context.Context, channelID int64, days int) (int, error)
}

const (
	lastRunKey    = "maintainer_last_run"
	lastRunLayout = time.RFC3339
	misfireGrace  = time.Hour
	retainFor     = 24 * time.Hour
	concurrency   = 4
)

// Maintainer runs the nightly schedule-extension pass.
type Maintainer struct {
	Store     *store.Store
	Generator Extender
	Log       zerolog.Logger

	// HourUTC is the daily fire hour, LowWater the remaining-horizon
	// threshold below which a channel gets extended by ExtendDays.
	HourUTC    int
	LowWater   time.Duration
	ExtendDays int

	Clock func() time.Time
}

func (m *Maintainer) now() time.Time {
	if m.Clock != nil {
		return m.Clock().UTC()
	}
	return time.Now().UTC()
}

// Run fires RunOnce at HourUTC every day until ctx is cancelled. A run
// missed while the process was down is made up at startup if we are still
// within the misfire grace window.
func (m *Maintainer) Run(ctx context.Context) error {
	if m.dueOnStartup() {
		m.Log.Info().Msg("missed maintenance window, running now")
		m.RunOnce(ctx)
	}
	for {
		next := m.nextFire()
		m.Log.Debug().Time("next_run", next).Msg("maintainer sleeping")
		t := time.NewTimer(next.Sub(m.now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		m.RunOnce(ctx)
	}
}

// nextFire is the next HourUTC:00 strictly after now.
func (m *Maintainer) nextFire() time.Time {
	now := m.now()
	fire := time.Date(now.Year(), now.Month(), now.Day(), m.HourUTC, 0, 0, 0, time.UTC)
	if !fire.After(now) {
		fire = fire.Add(24 * time.Hour)
	}
	return fire
}

// dueOnStartup reports whether the most recent scheduled fire was missed
// and is still within the grace window.
func (m *Maintainer) dueOnStartup() bool {
	now := m.now()
	sched := time.Date(now.Year(), now.Month(), now.Day(), m.HourUTC, 0, 0, 0, time.UTC)
	if sched.After(now) {
		sched = sched.Add(-24 * time.Hour)
	}
	if now.Sub(sched) > misfireGrace {
		return false
	}
	raw, err := m.Store.GetMeta(lastRunKey)
	if err != nil || raw == "" {
		return true
	}
	last, err := time.Parse(lastRunLayout, raw)
	if err != nil {
		return true
	}
	return last.Before(sched)
}

// RunOnce extends every enabled auto-scheduled channel whose horizon is
// below the low-water mark and prunes finished entries. Per-channel
// failures are logged, not fatal.
func (m *Maintainer) RunOnce(ctx context.Context) {
	now := m.now()
	log := m.Log.With().Time("run", now).Logger()
	log.Info().Msg("maintenance pass starting")

	channels, err := m.Store.ListChannels(ctx, true)
	if err != nil {
		log.Error().Err(err).Msg("maintenance pass failed to list channels")
		metrics.MaintainerRuns.WithLabelValues("error").Inc()
		return
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range channels {
		ch := &channels[i]
		if ch.ScheduleType != store.ScheduleGenreAuto {
			continue
		}
		if !m.needsExtension(ch, now) {
			continue
		}
		g.Go(func() error {
			n, err := m.Generator.Generate(ctx, ch.ID, m.ExtendDays)
			if err != nil {
				log.Error().Err(err).Int64("channel", ch.ID).Str("name", ch.Name).
					Msg("schedule extension failed")
				return err
			}
			if n > 0 {
				log.Info().Int64("channel", ch.ID).Str("name", ch.Name).
					Int("entries", n).Msg("schedule extended")
			}
			return nil
		})
	}
	failed := g.Wait() != nil

	if pruned, err := m.Store.DeleteEntriesBefore(ctx, now.Add(-retainFor)); err != nil {
		log.Error().Err(err).Msg("entry pruning failed")
		failed = true
	} else if pruned > 0 {
		log.Info().Int64("pruned", pruned).Msg("old entries pruned")
	}

	if err := m.Store.SetMeta(lastRunKey, now.Format(lastRunLayout)); err != nil {
		log.Error().Err(err).Msg("recording maintenance run failed")
	}
	if failed {
		metrics.MaintainerRuns.WithLabelValues("error").Inc()
	} else {
		metrics.MaintainerRuns.WithLabelValues("ok").Inc()
	}
	log.Info().Msg("maintenance pass done")
}

func (m *Maintainer) needsExtension(ch *store.Channel, now time.Time) bool {
	if ch.ScheduleGeneratedThrough == nil {
		return true
	}
	return ch.ScheduleGeneratedThrough.Sub(now) < m.LowWater
}

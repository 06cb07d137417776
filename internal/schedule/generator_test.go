package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jellystream/jellystream/internal/pool"
	"github.com/jellystream/jellystream/internal/store"
)

type fixedPool struct {
	candidates []pool.Candidate
	err        error
}

func (p *fixedPool) Build(context.Context, int64) ([]pool.Candidate, error) {
	return p.candidates, p.err
}

func testGenerator(t *testing.T, p PoolBuilder) (*Generator, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "gen.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	g := &Generator{
		Store: s,
		Pool:  p,
		Log:   zerolog.Nop(),
		Clock: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		Seed:  func() int64 { return 42 },
	}
	return g, s
}

func makeChannel(t *testing.T, s *store.Store) *store.Channel {
	t.Helper()
	ch := &store.Channel{Name: "Test", Enabled: true}
	if err := s.CreateChannel(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	return ch
}

func candidates() []pool.Candidate {
	return []pool.Candidate{
		{MediaItemID: "m1", Title: "Movie One", ItemType: "Movie", Duration: 5400, Genres: []string{"Horror"}},
		{MediaItemID: "m2", Title: "Movie Two", ItemType: "Movie", Duration: 7200},
		{MediaItemID: "e1", Title: "Episode", ItemType: "Episode", Duration: 1800, SeriesName: "Show"},
	}
}

func TestGenerateGaplessAndCoversWindow(t *testing.T) {
	g, s := testGenerator(t, &fixedPool{candidates: candidates()})
	ctx := context.Background()
	ch := makeChannel(t, s)

	n, err := g.Generate(ctx, ch.ID, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if n == 0 {
		t.Fatal("no entries created")
	}

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries, err := s.EntriesBetween(ctx, ch.ID, start, start.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("persisted %d entries, Generate reported %d", len(entries), n)
	}

	if !entries[0].StartTime.Equal(start) {
		t.Errorf("first entry starts %v, want %v", entries[0].StartTime, start)
	}
	for i, e := range entries {
		if !e.EndTime.Equal(e.StartTime.Add(time.Duration(e.Duration) * time.Second)) {
			t.Errorf("entry %d: end != start + duration", i)
		}
		if e.Duration < 30 {
			t.Errorf("entry %d: duration %d < 30", i, e.Duration)
		}
		if e.ItemType != "Movie" && e.ItemType != "Episode" {
			t.Errorf("entry %d: item type %q", i, e.ItemType)
		}
		if i > 0 && !e.StartTime.Equal(entries[i-1].EndTime) {
			t.Errorf("gap between entries %d and %d", i-1, i)
		}
	}

	// The window must be fully covered: the last entry ends at or past
	// start + 1 day.
	last := entries[len(entries)-1]
	if last.EndTime.Before(start.Add(24 * time.Hour)) {
		t.Errorf("window not covered, last end %v", last.EndTime)
	}

	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ScheduleGeneratedThrough == nil || !got.ScheduleGeneratedThrough.Equal(last.EndTime) {
		t.Errorf("watermark = %v, want %v", got.ScheduleGeneratedThrough, last.EndTime)
	}
}

func TestGenerateExtendsFromWatermark(t *testing.T) {
	g, s := testGenerator(t, &fixedPool{candidates: candidates()})
	ctx := context.Background()
	ch := makeChannel(t, s)

	if _, err := g.Generate(ctx, ch.ID, 1); err != nil {
		t.Fatal(err)
	}
	first, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	mark := *first.ScheduleGeneratedThrough

	if _, err := g.Generate(ctx, ch.ID, 1); err != nil {
		t.Fatal(err)
	}
	next, err := s.NextEntryAfter(ctx, ch.ID, mark.Add(-time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !next.StartTime.Equal(mark) {
		t.Errorf("second run starts %v, want watermark %v", next.StartTime, mark)
	}

	second, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !second.ScheduleGeneratedThrough.After(mark) {
		t.Error("watermark did not advance")
	}
}

func TestGenerateNoImmediateRepeatWithinTraversal(t *testing.T) {
	g, s := testGenerator(t, &fixedPool{candidates: candidates()})
	ctx := context.Background()
	ch := makeChannel(t, s)

	if _, err := g.Generate(ctx, ch.ID, 1); err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries, err := s.EntriesBetween(ctx, ch.ID, start, start.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	// Each pool traversal plays every item exactly once before any repeat.
	poolSize := 3
	for i := 0; i+poolSize <= len(entries); i += poolSize {
		seen := map[string]bool{}
		for _, e := range entries[i : i+poolSize] {
			if seen[e.MediaItemID] {
				t.Fatalf("item %s repeated within traversal starting at %d", e.MediaItemID, i)
			}
			seen[e.MediaItemID] = true
		}
	}
}

func TestGenerateEmptyPool(t *testing.T) {
	g, s := testGenerator(t, &fixedPool{})
	ctx := context.Background()
	ch := makeChannel(t, s)

	n, err := g.Generate(ctx, ch.ID, 7)
	if err != nil {
		t.Fatalf("empty pool should not error: %v", err)
	}
	if n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ScheduleGeneratedThrough != nil {
		t.Error("watermark set despite empty pool")
	}
}

func TestGenerateMissingChannel(t *testing.T) {
	g, _ := testGenerator(t, &fixedPool{candidates: candidates()})
	if _, err := g.Generate(context.Background(), 999, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResetClearsEntriesAndWatermark(t *testing.T) {
	g, s := testGenerator(t, &fixedPool{candidates: candidates()})
	ctx := context.Background()
	ch := makeChannel(t, s)

	if _, err := g.Generate(ctx, ch.ID, 1); err != nil {
		t.Fatal(err)
	}
	if err := g.Reset(ctx, ch.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	n, err := s.CountEntries(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("entries after reset = %d", n)
	}
	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ScheduleGeneratedThrough != nil {
		t.Error("watermark survived reset")
	}
}

func TestGenerateZeroDaysIsNoOp(t *testing.T) {
	g, s := testGenerator(t, &fixedPool{candidates: candidates()})
	ctx := context.Background()
	ch := makeChannel(t, s)

	n, err := g.Generate(ctx, ch.ID, 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if n != 0 {
		t.Errorf("days=0 created %d entries", n)
	}
	if cnt, _ := s.CountEntries(ctx, ch.ID); cnt != 0 {
		t.Errorf("entries persisted: %d", cnt)
	}
	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ScheduleGeneratedThrough != nil {
		t.Errorf("watermark set by a no-op run: %v", got.ScheduleGeneratedThrough)
	}
}

func TestGenerateStaleWatermarkResumesFromNow(t *testing.T) {
	g, s := testGenerator(t, &fixedPool{candidates: candidates()})
	ctx := context.Background()
	ch := makeChannel(t, s)

	// Watermark well in the past: the channel sat idle and its old
	// schedule expired.
	stale := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)
	if err := s.SetGeneratedThrough(ctx, ch.ID, &stale); err != nil {
		t.Fatal(err)
	}

	n, err := g.Generate(ctx, ch.ID, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if n == 0 {
		t.Fatal("no entries created")
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries, err := s.EntriesBetween(ctx, ch.ID, now.Add(-14*24*time.Hour), now.Add(48*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !entries[0].StartTime.Equal(now) {
		t.Errorf("first entry starts %s, want now (%s)", entries[0].StartTime, now)
	}
	for _, e := range entries {
		if e.StartTime.Before(now) {
			t.Errorf("entry %q scheduled in the dead zone before now: %s", e.Title, e.StartTime)
		}
	}
}

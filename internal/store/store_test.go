package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChannelCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ch := &Channel{Name: "Sci-Fi 24/7", ChannelNumber: "100.1", Enabled: true}
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if ch.ID == 0 {
		t.Fatal("CreateChannel did not set ID")
	}

	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if got.Name != "Sci-Fi 24/7" || got.ScheduleType != ScheduleGenreAuto {
		t.Errorf("got %+v", got)
	}
	if got.ScheduleGeneratedThrough != nil {
		t.Error("new channel should have nil watermark")
	}

	got.Name = "Sci-Fi"
	got.Enabled = false
	if err := s.UpdateChannel(ctx, got); err != nil {
		t.Fatalf("UpdateChannel: %v", err)
	}
	list, err := s.ListChannels(ctx, true)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("enabledOnly list = %d channels, want 0", len(list))
	}

	if err := s.DeleteChannel(ctx, ch.ID); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if _, err := s.GetChannel(ctx, ch.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChannel after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteChannel(ctx, ch.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteChannelCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ch := &Channel{Name: "Movies", Enabled: true}
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceGenreFilters(ctx, ch.ID, []GenreFilter{{Genre: "Horror"}}); err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []ScheduleEntry{{
		ChannelID: ch.ID, Title: "Alien", MediaItemID: "m1", ItemType: ItemMovie,
		StartTime: start, EndTime: start.Add(2 * time.Hour), Duration: 7200,
	}}
	if err := s.InsertEntries(ctx, entries); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteChannel(ctx, ch.ID); err != nil {
		t.Fatal(err)
	}
	n, err := s.CountEntries(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("entries after cascade delete = %d, want 0", n)
	}
	gf, err := s.ListGenreFilters(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(gf) != 0 {
		t.Errorf("genre filters after cascade delete = %d, want 0", len(gf))
	}
}

func TestEntryQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ch := &Channel{Name: "TV", Enabled: true}
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var entries []ScheduleEntry
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		entries = append(entries, ScheduleEntry{
			ChannelID: ch.ID, Title: "Ep", MediaItemID: "e1", ItemType: ItemEpisode,
			StartTime: start, EndTime: start.Add(time.Hour), Duration: 3600,
		})
	}
	if err := s.InsertEntries(ctx, entries); err != nil {
		t.Fatal(err)
	}

	e, err := s.EntryAt(ctx, ch.ID, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("EntryAt: %v", err)
	}
	if !e.StartTime.Equal(base.Add(time.Hour)) {
		t.Errorf("EntryAt start = %v", e.StartTime)
	}

	// Boundary: t exactly at an entry's end belongs to the next entry.
	e, err = s.EntryAt(ctx, ch.ID, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("EntryAt boundary: %v", err)
	}
	if !e.StartTime.Equal(base.Add(time.Hour)) {
		t.Errorf("boundary entry start = %v", e.StartTime)
	}

	if _, err := s.EntryAt(ctx, ch.ID, base.Add(5*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("EntryAt gap = %v, want ErrNotFound", err)
	}

	next, err := s.NextEntryAfter(ctx, ch.ID, base.Add(61*time.Minute))
	if err != nil {
		t.Fatalf("NextEntryAfter: %v", err)
	}
	if !next.StartTime.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("NextEntryAfter start = %v", next.StartTime)
	}

	end, ok, err := s.LastEntryEnd(ctx, ch.ID)
	if err != nil || !ok {
		t.Fatalf("LastEntryEnd ok=%v err=%v", ok, err)
	}
	if !end.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("LastEntryEnd = %v", end)
	}

	deleted, err := s.DeleteEntriesFrom(ctx, ch.ID, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("DeleteEntriesFrom deleted %d, want 2", deleted)
	}
}

func TestCollectionBoxsetUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Collection{Name: "Bond", JellyfinID: "box1"}
	if err := s.CreateCollection(ctx, a); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	b := &Collection{Name: "Bond again", JellyfinID: "box1"}
	if err := s.CreateCollection(ctx, b); !errors.Is(err, ErrBoxsetTaken) {
		t.Errorf("duplicate boxset = %v, want ErrBoxsetTaken", err)
	}
	// Two purely local collections are fine.
	c := &Collection{Name: "Local 1"}
	d := &Collection{Name: "Local 2"}
	if err := s.CreateCollection(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCollection(ctx, d); err != nil {
		t.Fatal(err)
	}

	found, err := s.CollectionByBoxset(ctx, "box1")
	if err != nil {
		t.Fatalf("CollectionByBoxset: %v", err)
	}
	if found.ID != a.ID {
		t.Errorf("CollectionByBoxset id = %d, want %d", found.ID, a.ID)
	}
}

func TestCollectionItemsOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	col := &Collection{Name: "Marathon"}
	if err := s.CreateCollection(ctx, col); err != nil {
		t.Fatal(err)
	}
	items := []CollectionItem{
		{MediaItemID: "m1", ItemType: ItemMovie, Title: "First", Duration: 5400},
		{MediaItemID: "m2", ItemType: ItemMovie, Title: "Second", Duration: 6000},
	}
	if err := s.ReplaceCollectionItems(ctx, col.ID, items); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListCollectionItems(ctx, col.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Title != "First" || got[1].SortOrder != 1 {
		t.Errorf("items = %+v", got)
	}
}

func TestMeta(t *testing.T) {
	s := openTestStore(t)
	v, err := s.GetMeta("maintainer_last_run")
	if err != nil || v != "" {
		t.Fatalf("GetMeta unset = %q, %v", v, err)
	}
	if err := s.SetMeta("maintainer_last_run", "2026-03-01 02:00:00"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMeta("maintainer_last_run", "2026-03-02 02:00:00"); err != nil {
		t.Fatal(err)
	}
	v, err = s.GetMeta("maintainer_last_run")
	if err != nil || v != "2026-03-02 02:00:00" {
		t.Fatalf("GetMeta = %q, %v", v, err)
	}
}

func TestAppendEntriesAtomicWithWatermark(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ch := &Channel{Name: "C", Enabled: true}
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []ScheduleEntry{
		{ChannelID: ch.ID, Title: "A", MediaItemID: "a", ItemType: ItemMovie,
			StartTime: base, EndTime: base.Add(time.Hour), Duration: 3600},
		{ChannelID: ch.ID, Title: "B", MediaItemID: "b", ItemType: ItemMovie,
			StartTime: base.Add(time.Hour), EndTime: base.Add(2 * time.Hour), Duration: 3600},
	}
	if err := s.AppendEntries(ctx, ch.ID, entries); err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}

	got, err := s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if got.ScheduleGeneratedThrough == nil || !got.ScheduleGeneratedThrough.Equal(base.Add(2*time.Hour)) {
		t.Errorf("watermark = %v, want %s", got.ScheduleGeneratedThrough, base.Add(2*time.Hour))
	}
	if n, err := s.CountEntries(ctx, ch.ID); err != nil || n != 2 {
		t.Errorf("CountEntries = %d, %v", n, err)
	}

	// A failed append must leave neither entries nor a moved watermark.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	more := []ScheduleEntry{
		{ChannelID: ch.ID, Title: "C", MediaItemID: "c", ItemType: ItemMovie,
			StartTime: base.Add(2 * time.Hour), EndTime: base.Add(3 * time.Hour), Duration: 3600},
	}
	if err := s.AppendEntries(cancelled, ch.ID, more); err == nil {
		t.Fatal("AppendEntries with cancelled context should fail")
	}
	got, err = s.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if !got.ScheduleGeneratedThrough.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("watermark moved after failed append: %v", got.ScheduleGeneratedThrough)
	}
	if n, _ := s.CountEntries(ctx, ch.ID); n != 2 {
		t.Errorf("entries leaked from failed append: %d", n)
	}
}

package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jellystream/jellystream/internal/jellyfin"
	"github.com/jellystream/jellystream/internal/sidecar"
	"github.com/jellystream/jellystream/internal/store"
)

type fixedURLer struct{ base string }

func (f fixedURLer) StreamURL(itemID string) string {
	return f.base + "/Videos/" + itemID + "/stream?api_key=secret"
}

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolvePrefersLocalFile(t *testing.T) {
	local := touch(t, filepath.Join(t.TempDir(), "movie.mkv"))
	r := &Resolver{Client: fixedURLer{"http://jf"}, Log: zerolog.Nop()}

	got, err := r.Resolve(context.Background(), &store.ScheduleEntry{
		MediaItemID: "abc", FilePath: local,
	})
	if err != nil || got != local {
		t.Errorf("Resolve = %q, %v; want local path", got, err)
	}
}

func TestResolveFallsBackToHTTP(t *testing.T) {
	r := &Resolver{Client: fixedURLer{"http://jf"}, Log: zerolog.Nop()}

	for _, e := range []*store.ScheduleEntry{
		{MediaItemID: "abc"},                                 // never had a path
		{MediaItemID: "abc", FilePath: "/gone/nowhere.mkv"}, // path vanished
	} {
		got, err := r.Resolve(context.Background(), e)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if want := "http://jf/Videos/abc/stream?api_key=secret"; got != want {
			t.Errorf("Resolve = %q, want %q", got, want)
		}
	}
}

type badSchemeURLer struct{}

func (badSchemeURLer) StreamURL(itemID string) string { return "file:///etc/passwd#" + itemID }

func TestResolveRejectsNonHTTPFallback(t *testing.T) {
	r := &Resolver{Client: badSchemeURLer{}, Log: zerolog.Nop()}
	if _, err := r.Resolve(context.Background(), &store.ScheduleEntry{MediaItemID: "abc"}); err == nil {
		t.Fatal("non-http fallback source should be rejected")
	}
}

type fakeLookup struct {
	items map[string]*jellyfin.Item
}

func (f *fakeLookup) ItemInfo(_ context.Context, id string) (*jellyfin.Item, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, jellyfin.ErrItemNotFound
	}
	return it, nil
}

func TestVerifyCollection(t *testing.T) {
	dir := t.TempDir()
	present := touch(t, filepath.Join(dir, "here.mkv"))
	moved := touch(t, filepath.Join(dir, "new-home.mkv"))

	lookup := &fakeLookup{items: map[string]*jellyfin.Item{
		"moved":   {ID: "moved", Path: "/server/new-home.mkv"},
		"phantom": {ID: "phantom", Path: "/server/never-copied.mkv"},
	}}
	pm := sidecar.NewPathMap("/server:" + dir)

	items := []store.CollectionItem{
		{ID: 1, Title: "NoPath", ItemType: store.ItemMovie, MediaItemID: "x"},
		{ID: 2, Title: "Here", ItemType: store.ItemMovie, MediaItemID: "x", FilePath: present},
		{ID: 3, Title: "Moved", ItemType: store.ItemMovie, MediaItemID: "moved", FilePath: filepath.Join(dir, "old-home.mkv")},
		{ID: 4, Title: "Gone", ItemType: store.ItemMovie, MediaItemID: "gone", FilePath: filepath.Join(dir, "gone.mkv")},
		{ID: 5, Title: "Phantom", ItemType: store.ItemMovie, MediaItemID: "phantom", FilePath: filepath.Join(dir, "phantom.mkv")},
	}

	results := VerifyCollection(context.Background(), items, lookup, pm, zerolog.Nop())
	if len(results) != 5 {
		t.Fatalf("got %d results", len(results))
	}

	want := []struct {
		status  string
		newPath string
	}{
		{VerifyNoPath, ""},
		{VerifyOK, ""},
		{VerifyMoved, moved},
		{VerifyDeleted, ""}, // server no longer knows the item
		{VerifyDeleted, ""}, // server path does not exist locally
	}
	for i, w := range want {
		if results[i].Status != w.status || results[i].NewPath != w.newPath {
			t.Errorf("%s: status=%q newPath=%q, want %q/%q",
				results[i].Title, results[i].Status, results[i].NewPath, w.status, w.newPath)
		}
	}
}

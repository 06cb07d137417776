package sidecar

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathMap(t *testing.T) {
	m := NewPathMap("/data/media:/mnt/media")
	cases := []struct{ in, want string }{
		{"/data/media/movies/a.mkv", "/mnt/media/movies/a.mkv"},
		{"/other/a.mkv", "/other/a.mkv"},
		{"", ""},
	}
	for _, c := range cases {
		if got := m.Apply(c.in); got != c.want {
			t.Errorf("Apply(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	// First colon splits; the rest of the rule is the local prefix.
	win := NewPathMap("/data:C:/media")
	if got := win.Apply("/data/a.mkv"); got != "C:/media/a.mkv" {
		t.Errorf("windows-style map = %q", got)
	}

	id := NewPathMap("")
	if got := id.Apply("/data/a.mkv"); got != "/data/a.mkv" {
		t.Errorf("identity map = %q", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const movieNFO = `<?xml version="1.0" encoding="UTF-8"?>
<movie>
  <title>Alien</title>
  <plot>In space no one can hear you scream.</plot>
  <mpaa>R</mpaa>
  <premiered>1979-05-25</premiered>
  <genre>Horror</genre>
  <genre>Sci-Fi</genre>
</movie>`

func TestReadNFOMovie(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "Alien (1979).mkv")
	writeFile(t, video, "x")
	writeFile(t, filepath.Join(dir, "movie.nfo"), movieNFO)

	m := ReadNFO(video, "Movie")
	if m.Description != "In space no one can hear you scream." {
		t.Errorf("Description = %q", m.Description)
	}
	if m.ContentRating != "R" {
		t.Errorf("ContentRating = %q", m.ContentRating)
	}
	if m.AirDate != "1979-05-25" {
		t.Errorf("AirDate = %q", m.AirDate)
	}
	if m.Genres != `["Horror","Sci-Fi"]` {
		t.Errorf("Genres = %q", m.Genres)
	}
}

func TestReadNFOMovieBasenameFallback(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "Alien.mkv")
	writeFile(t, video, "x")
	writeFile(t, filepath.Join(dir, "Alien.nfo"), movieNFO)

	m := ReadNFO(video, "Movie")
	if m.ContentRating != "R" {
		t.Errorf("fallback nfo not read, got %+v", m)
	}
}

func TestReadNFOEpisodeAndSeason(t *testing.T) {
	root := t.TempDir()
	seriesDir := filepath.Join(root, "The Show")
	seasonDir := filepath.Join(seriesDir, "Season 01")
	video := filepath.Join(seasonDir, "The Show S01E01.mkv")
	writeFile(t, video, "x")
	writeFile(t, filepath.Join(seasonDir, "The Show S01E01.nfo"),
		`<episodedetails><plot>Pilot.</plot><aired>2020-01-01</aired></episodedetails>`)
	writeFile(t, filepath.Join(seriesDir, "tvshow.nfo"),
		`<tvshow><plot>A show.</plot><mpaa>TV-14</mpaa><year>2020</year></tvshow>`)

	ep := ReadNFO(video, "Episode")
	if ep.Description != "Pilot." || ep.AirDate != "2020-01-01" {
		t.Errorf("episode meta = %+v", ep)
	}

	// Season rows store the season directory; tvshow.nfo lives one level up.
	season := ReadNFO(seasonDir, "Season")
	if season.ContentRating != "TV-14" || season.AirDate != "2020" {
		t.Errorf("season meta = %+v", season)
	}

	series := ReadNFO(seriesDir, "Series")
	if series.Description != "A show." {
		t.Errorf("series meta = %+v", series)
	}
}

func TestReadNFOMalformedYieldsEmpty(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "a.mkv")
	writeFile(t, video, "x")
	writeFile(t, filepath.Join(dir, "a.nfo"), "<episodedetails><plot>unterminated")

	if m := ReadNFO(video, "Episode"); !m.IsZero() {
		// the lenient decoder may still salvage the plot; either way it
		// must not fail, and missing files must yield empty
		t.Logf("salvaged meta = %+v", m)
	}
	if m := ReadNFO(filepath.Join(dir, "missing.mkv"), "Episode"); !m.IsZero() {
		t.Errorf("missing nfo should yield zero, got %+v", m)
	}
}

func TestMergeCallerWins(t *testing.T) {
	nfo := Metadata{Description: "from nfo", ContentRating: "R", AirDate: "1999"}
	base := Metadata{Description: "curated"}
	out := nfo.Merge(base)
	if out.Description != "curated" {
		t.Errorf("caller value overwritten: %q", out.Description)
	}
	if out.ContentRating != "R" || out.AirDate != "1999" {
		t.Errorf("nfo values not filled: %+v", out)
	}
}

func TestFindThumbnail(t *testing.T) {
	root := t.TempDir()
	seriesDir := filepath.Join(root, "Show")
	seasonDir := filepath.Join(seriesDir, "Season 02")
	video := filepath.Join(seasonDir, "Show S02E03.mkv")
	writeFile(t, video, "x")
	writeFile(t, filepath.Join(seriesDir, "folder.jpg"), "jpg")
	writeFile(t, filepath.Join(seriesDir, "season02-poster.jpg"), "jpg")

	two := 2
	if got := FindThumbnail(seasonDir, "Season", &two); got != filepath.Join(seriesDir, "season02-poster.jpg") {
		t.Errorf("season thumbnail = %q", got)
	}
	if got := FindThumbnail(seriesDir, "Series", nil); got != filepath.Join(seriesDir, "folder.jpg") {
		t.Errorf("series thumbnail = %q", got)
	}

	// Episode prefers its own -thumb over the folder image.
	writeFile(t, filepath.Join(seasonDir, "Show S02E03-thumb.jpg"), "jpg")
	if got := FindThumbnail(video, "Episode", nil); got != filepath.Join(seasonDir, "Show S02E03-thumb.jpg") {
		t.Errorf("episode thumbnail = %q", got)
	}

	if got := FindThumbnail(filepath.Join(root, "nope.mkv"), "Movie", nil); got != "" {
		t.Errorf("missing artwork should yield empty, got %q", got)
	}
}

func TestEnrichmentIdempotent(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "Alien (1979).mkv")
	writeFile(t, video, "x")
	writeFile(t, filepath.Join(dir, "movie.nfo"), movieNFO)
	writeFile(t, filepath.Join(dir, "folder.jpg"), "jpg")

	// Reading a fixed filesystem twice yields identical metadata, and
	// merging it into an already-enriched value changes nothing.
	first := ReadNFO(video, "Movie")
	second := ReadNFO(video, "Movie")
	if first != second {
		t.Errorf("repeated reads differ: %+v vs %+v", first, second)
	}
	once := first.Merge(Metadata{})
	twice := second.Merge(once)
	if once != twice {
		t.Errorf("re-enrichment changed fields: %+v vs %+v", once, twice)
	}

	if a, b := FindThumbnail(video, "Movie", nil), FindThumbnail(video, "Movie", nil); a != b || a == "" {
		t.Errorf("thumbnail lookup not stable: %q vs %q", a, b)
	}
}

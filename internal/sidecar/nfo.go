package sidecar

import (
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html/charset"
)

// Metadata is what an .nfo sidecar contributes to a programme. Empty fields
// mean the sidecar did not provide them.
type Metadata struct {
	Description   string
	ContentRating string
	AirDate       string // "YYYY-MM-DD" or bare "YYYY", kept as text
	Genres        string // JSON array text, e.g. `["Sci-Fi","Horror"]`
}

// IsZero reports whether the sidecar contributed nothing.
func (m Metadata) IsZero() bool {
	return m == Metadata{}
}

// Merge overlays m onto base, with base (the caller's existing values)
// winning per field.
func (m Metadata) Merge(base Metadata) Metadata {
	out := base
	if out.Description == "" {
		out.Description = m.Description
	}
	if out.ContentRating == "" {
		out.ContentRating = m.ContentRating
	}
	if out.AirDate == "" {
		out.AirDate = m.AirDate
	}
	if out.Genres == "" {
		out.Genres = m.Genres
	}
	return out
}

// nfoDoc matches the interesting children of any NFO root element
// (<movie>, <tvshow>, <episodedetails>).
type nfoDoc struct {
	Plot      string   `xml:"plot"`
	MPAA      string   `xml:"mpaa"`
	Aired     string   `xml:"aired"`
	Premiered string   `xml:"premiered"`
	Year      string   `xml:"year"`
	Genres    []string `xml:"genre"`
}

// ReadNFO locates and parses the NFO for a media path by item kind:
//
//	Movie:   <dir>/movie.nfo, then <basename>.nfo
//	Series:  <seriesRoot>/tvshow.nfo
//	Season:  <seriesRoot>/tvshow.nfo (parent of the season dir)
//	Episode: <basename>.nfo beside the video
//
// A missing or malformed file yields the zero Metadata.
func ReadNFO(path, itemType string) Metadata {
	if path == "" {
		return Metadata{}
	}
	for _, candidate := range nfoCandidates(path, itemType) {
		if m := parseNFO(candidate); !m.IsZero() {
			return m
		}
	}
	return Metadata{}
}

func nfoCandidates(path, itemType string) []string {
	switch itemType {
	case "Movie":
		return []string{
			filepath.Join(filepath.Dir(path), "movie.nfo"),
			stripExt(path) + ".nfo",
		}
	case "Series":
		return []string{filepath.Join(rootDir(path), "tvshow.nfo")}
	case "Season":
		return []string{filepath.Join(filepath.Dir(rootDir(path)), "tvshow.nfo")}
	case "Episode":
		return []string{stripExt(path) + ".nfo"}
	}
	return nil
}

func parseNFO(path string) Metadata {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	// NFO files in the wild carry declared Windows encodings and sloppy
	// entities; decode leniently.
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	var doc nfoDoc
	if err := dec.Decode(&doc); err != nil {
		return Metadata{}
	}

	var m Metadata
	m.Description = strings.TrimSpace(doc.Plot)
	m.ContentRating = strings.TrimSpace(doc.MPAA)
	for _, v := range []string{doc.Aired, doc.Premiered, doc.Year} {
		if s := strings.TrimSpace(v); s != "" {
			m.AirDate = s
			break
		}
	}
	var genres []string
	for _, g := range doc.Genres {
		if g = strings.TrimSpace(g); g != "" {
			genres = append(genres, g)
		}
	}
	if len(genres) > 0 {
		if b, err := json.Marshal(genres); err == nil {
			m.Genres = string(b)
		}
	}
	return m
}

func stripExt(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// rootDir returns the directory an item root refers to: the path itself
// when it is a directory (Series/Season rows store directory paths), else
// its parent.
func rootDir(path string) string {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return path
	}
	return filepath.Dir(path)
}

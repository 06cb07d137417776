package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindThumbnail returns the first existing artwork file for a media path by
// item kind, or "" when none exists:
//
//	Movie:   <dir>/folder.jpg, <basename>.jpg, <basename>-thumb.jpg
//	Series:  <seriesRoot>/folder.jpg, <seriesRoot>/poster.jpg
//	Season:  <seriesRoot>/seasonNN-poster.jpg, <seasonDir>/folder.jpg, <seriesRoot>/folder.jpg
//	Episode: <basename>-thumb.jpg, <basename>.jpg, <dir>/folder.jpg
func FindThumbnail(path, itemType string, seasonNumber *int) string {
	if path == "" {
		return ""
	}
	var candidates []string
	switch itemType {
	case "Movie":
		dir := filepath.Dir(path)
		base := stripExt(path)
		candidates = []string{
			filepath.Join(dir, "folder.jpg"),
			base + ".jpg",
			base + "-thumb.jpg",
		}
	case "Series":
		root := rootDir(path)
		candidates = []string{
			filepath.Join(root, "folder.jpg"),
			filepath.Join(root, "poster.jpg"),
		}
	case "Season":
		seasonDir := rootDir(path)
		seriesDir := filepath.Dir(seasonDir)
		if seasonNumber != nil {
			candidates = append(candidates,
				filepath.Join(seriesDir, fmt.Sprintf("season%02d-poster.jpg", *seasonNumber)))
		}
		candidates = append(candidates,
			filepath.Join(seasonDir, "folder.jpg"),
			filepath.Join(seriesDir, "folder.jpg"))
	case "Episode":
		dir := filepath.Dir(path)
		base := stripExt(path)
		candidates = []string{
			base + "-thumb.jpg",
			base + ".jpg",
			filepath.Join(dir, "folder.jpg"),
		}
	default:
		return ""
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c
		}
	}
	return ""
}

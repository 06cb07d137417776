// Package sidecar reads Kodi/Jellyfin sidecar files (.nfo metadata, .jpg
// artwork) from the media directories and rewrites server-reported paths to
// locally mounted ones.
package sidecar

import "strings"

// PathMap is a single prefix rewrite rule of form "serverPrefix:localPrefix".
// The zero value is the identity map.
type PathMap struct {
	from string
	to   string
}

// NewPathMap parses a MEDIA_PATH_MAP rule. The rule splits on the first
// colon so Windows-style local prefixes keep their drive letter. An empty
// or colon-free rule yields the identity map.
func NewPathMap(rule string) PathMap {
	idx := strings.Index(rule, ":")
	if idx < 0 {
		return PathMap{}
	}
	return PathMap{from: rule[:idx], to: rule[idx+1:]}
}

// Apply rewrites path when it starts with the server prefix, otherwise
// returns it unchanged.
func (m PathMap) Apply(path string) string {
	if path == "" || m.from == "" {
		return path
	}
	if strings.HasPrefix(path, m.from) {
		return m.to + path[len(m.from):]
	}
	return path
}

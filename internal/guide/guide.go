// Package guide renders the M3U playlist and XMLTV programme guide that
// live-TV clients consume.
package guide

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jellystream/jellystream/internal/store"
)

const (
	groupTitle    = "JellyStream"
	generatorName = "JellyStream"
	xmltvTime     = "20060102150405 -0700"
)

// ChannelNumber returns the channel's display number, synthesizing a
// stable 100.x number when none was assigned.
func ChannelNumber(c *store.Channel) string {
	if c.ChannelNumber != "" {
		return c.ChannelNumber
	}
	return fmt.Sprintf("100.%d", c.ID)
}

func displayName(c *store.Channel) string {
	return ChannelNumber(c) + " " + c.Name
}

// m3uAttr sanitizes a value for a double-quoted EXTINF attribute. The M3U
// dialect has no escape sequence, so embedded quotes become apostrophes.
func m3uAttr(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}

// WriteM3U renders an extended M3U playlist. publicBase is the externally
// reachable base URL, no trailing slash.
func WriteM3U(w io.Writer, channels []store.Channel, publicBase string) error {
	if _, err := fmt.Fprintln(w, "#EXTM3U"); err != nil {
		return err
	}
	for i := range channels {
		c := &channels[i]
		_, err := fmt.Fprintf(w, "#EXTINF:-1 tvg-id=\"%d\" tvg-name=\"%s\" tvg-chno=\"%s\" group-title=\"%s\",%s\n%s/api/livetv/stream/%d\n",
			c.ID, m3uAttr(c.Name), ChannelNumber(c), groupTitle, displayName(c), publicBase, c.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteXMLTV renders an XMLTV document for the given channels and their
// schedule entries. Times are emitted in UTC with an explicit offset so
// clients in any zone place programmes correctly.
func WriteXMLTV(w io.Writer, channels []store.Channel, entries map[int64][]store.ScheduleEntry, publicBase string) error {
	bw := &errWriter{w: w}
	bw.printf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	bw.printf("<!DOCTYPE tv SYSTEM \"xmltv.dtd\">\n")
	bw.printf("<tv generator-info-name=%q>\n", generatorName)

	for i := range channels {
		c := &channels[i]
		bw.printf("  <channel id=\"%d\">\n", c.ID)
		bw.printf("    <display-name>%s</display-name>\n", xmlEscape(displayName(c)))
		bw.printf("  </channel>\n")
	}
	for i := range channels {
		c := &channels[i]
		for j := range entries[c.ID] {
			writeProgramme(bw, c.ID, &entries[c.ID][j], publicBase)
		}
	}
	bw.printf("</tv>\n")
	return bw.err
}

func writeProgramme(bw *errWriter, channelID int64, e *store.ScheduleEntry, publicBase string) {
	bw.printf("  <programme start=%q stop=%q channel=\"%d\">\n",
		e.StartTime.UTC().Format(xmltvTime), e.EndTime.UTC().Format(xmltvTime), channelID)

	title := e.Title
	if e.SeriesName != "" {
		title = e.SeriesName
	}
	bw.printf("    <title lang=\"en\">%s</title>\n", xmlEscape(title))
	if e.ItemType == store.ItemEpisode && e.SeriesName != "" {
		bw.printf("    <sub-title lang=\"en\">%s</sub-title>\n", xmlEscape(e.Title))
	}
	if e.Description != "" {
		bw.printf("    <desc lang=\"en\">%s</desc>\n", xmlEscape(e.Description))
	}
	if e.AirDate != "" {
		bw.printf("    <date>%s</date>\n", strings.ReplaceAll(e.AirDate, "-", ""))
	}
	// xmltv_ns is zero-based and meaningless with only one of the parts.
	if e.SeasonNumber != nil && e.EpisodeNumber != nil {
		bw.printf("    <episode-num system=\"xmltv_ns\">%d.%d.</episode-num>\n",
			*e.SeasonNumber-1, *e.EpisodeNumber-1)
	}
	bw.printf("    <category lang=\"en\">%s</category>\n", xmlEscape(e.ItemType))
	for _, g := range parseGenres(e.Genres) {
		bw.printf("    <category lang=\"en\">%s</category>\n", xmlEscape(g))
	}
	if e.ContentRating != "" {
		bw.printf("    <rating system=\"MPAA\"><value>%s</value></rating>\n", xmlEscape(e.ContentRating))
	}
	if e.ThumbnailPath != "" {
		bw.printf("    <icon src=\"%s/api/livetv/thumbnail/%d\"/>\n", publicBase, e.ID)
	}
	bw.printf("  </programme>\n")
}

func parseGenres(raw string) []string {
	if raw == "" {
		return nil
	}
	var gs []string
	if err := json.Unmarshal([]byte(raw), &gs); err != nil {
		return nil
	}
	return gs
}

var xmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func xmlEscape(s string) string { return xmlReplacer.Replace(s) }

// errWriter sticks on the first write error so render helpers stay flat.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// Window is the guide horizon: a little history for catch-up UIs plus the
// full generated schedule ahead.
func Window(now time.Time) (from, to time.Time) {
	return now.Add(-3 * time.Hour), now.Add(7 * 24 * time.Hour)
}

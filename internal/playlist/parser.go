// Package playlist reads channel entries out of M3U/M3U8 text.
package playlist

import (
	"regexp"
	"strings"
)

const extInfPrefix = "#EXTINF"

var streamSchemes = []string{"http", "rtsp", "rtp"}

var (
	tvgIDPattern   = regexp.MustCompile(`tvg-id="([^"]*)"`)
	tvgNamePattern = regexp.MustCompile(`tvg-name="([^"]*)"`)
	tvgLogoPattern = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	groupPattern   = regexp.MustCompile(`group-title="([^"]*)"`)
)

// Entry is one playable item of a playlist.
type Entry struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	TvgID   string `json:"tvg_id,omitempty"`
	TvgName string `json:"tvg_name,omitempty"`
	TvgLogo string `json:"tvg_logo,omitempty"`
	Group   string `json:"group,omitempty"`
}

// Parse returns the entries of content in order. An #EXTINF line opens an
// entry which the next stream URL line completes; entries without a name
// are dropped.
func Parse(content string) []Entry {
	var (
		entries []Entry
		current *Entry
	)

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, extInfPrefix) {
			e := parseExtInf(line)
			current = &e
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		if current != nil && isStreamURL(line) {
			current.URL = line
			if current.Name != "" {
				entries = append(entries, *current)
			}
			current = nil
		}
	}

	return entries
}

func parseExtInf(line string) Entry {
	e := Entry{
		TvgID:   firstMatch(tvgIDPattern, line),
		TvgName: firstMatch(tvgNamePattern, line),
		TvgLogo: firstMatch(tvgLogoPattern, line),
		Group:   firstMatch(groupPattern, line),
	}
	if idx := strings.LastIndex(line, ","); idx != -1 {
		e.Name = strings.TrimSpace(line[idx+1:])
	}
	return e
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func isStreamURL(line string) bool {
	for _, scheme := range streamSchemes {
		if strings.HasPrefix(line, scheme) {
			return true
		}
	}
	return false
}

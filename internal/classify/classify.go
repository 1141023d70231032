// Package classify decides the FileType of an upload. It performs no I/O.
package classify

import (
	"strings"

	"github.com/bidev/playcast-ingest/internal/domain"
)

var playlistContentPrefixes = []string{"#EXTM3U", "#EXT-X-"}

var (
	playlistExts = []string{".m3u", ".m3u8"}
	videoExts    = []string{".mp4", ".mkv", ".avi", ".mov", ".flv", ".wmv", ".webm", ".ts"}
	audioExts    = []string{".mp3", ".aac", ".wav", ".flac", ".ogg", ".m4a", ".wma"}
)

// DetectFileType classifies by content tag first, then by filename suffix.
//
// For binary media the caller passes the storage path as content, so the
// content check only ever matches playlist text.
func DetectFileType(content, filename string) domain.FileType {
	if HasPlaylistTag(content) {
		return domain.FileTypePlaylist
	}

	lower := strings.ToLower(filename)
	switch {
	case hasAnySuffix(lower, playlistExts):
		return domain.FileTypePlaylist
	case hasAnySuffix(lower, videoExts):
		return domain.FileTypeVideo
	case hasAnySuffix(lower, audioExts):
		return domain.FileTypeAudio
	default:
		return domain.FileTypeUnknown
	}
}

// HasPlaylistTag reports whether text opens with an M3U or HLS tag.
func HasPlaylistTag(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range playlistContentPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// IsPlaylistName reports whether filename carries a playlist suffix.
func IsPlaylistName(filename string) bool {
	return hasAnySuffix(strings.ToLower(filename), playlistExts)
}

// AcceptExtensions lists every recognised suffix, in form-accept order.
func AcceptExtensions() []string {
	out := make([]string, 0, len(playlistExts)+len(videoExts)+len(audioExts))
	out = append(out, playlistExts...)
	out = append(out, videoExts...)
	return append(out, audioExts...)
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

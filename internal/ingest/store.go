package ingest

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/h2non/filetype"
)

const (
	mediaDirPerm = 0o755
	sniffBytes   = 512
)

// Store promotes transport temp files into the permanent media directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Promote copies src in full to <dir>/<unix-ms>_<name> and returns the
// absolute destination path. A partial destination may remain on error.
func (s *Store) Promote(src, name string) (string, error) {
	if err := os.MkdirAll(s.dir, mediaDirPerm); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = in.Close() }()

	dst := filepath.Join(s.dir, fmt.Sprintf("%d_%s", s.now().UnixMilli(), storageName(name)))
	if abs, err := filepath.Abs(dst); err == nil {
		dst = abs
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	return dst, nil
}

// storageName strips any directory part a client put in the name.
func storageName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return defaultFilename
	}
	return base
}

// readPlaylistText returns the file as UTF-8 text with every line
// terminated by "\n".
func readPlaylistText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read playlist: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}

	text := strings.ToValidUTF8(string(data), "�")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	return text + "\n", nil
}

// readHead skips leading whitespace in path and returns up to n bytes of
// what follows as text.
func readHead(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReader(f)
	for {
		r, _, err := br.ReadRune()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if !unicode.IsSpace(r) {
			if err := br.UnreadRune(); err != nil {
				return "", err
			}
			break
		}
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(br, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return string(buf[:read]), nil
}

// detectMIME reports the media type of a stored file for the host's
// player. It never feeds classification.
func detectMIME(path string) string {
	if kind, err := filetype.MatchFile(path); err == nil && kind != filetype.Unknown && kind.MIME.Value != "" {
		return kind.MIME.Value
	}
	if guessed := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); guessed != "" {
		return strings.TrimSpace(strings.Split(guessed, ";")[0])
	}
	return "application/octet-stream"
}

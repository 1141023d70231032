package ingest

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
)

const (
	// FileField carries the uploaded payload.
	FileField = "mediafile"
	// FilenameField is the hidden form field holding the client's file name.
	FilenameField = "filename"

	maxInlineFieldBytes = 1 << 20
)

var errFieldTooLong = fmt.Errorf("inline field exceeds %d bytes", maxInlineFieldBytes)

// Field is one multipart field. Exactly one of TempPath and Value is set
// for file and inline parts respectively.
type Field struct {
	TempPath string
	Value    string
}

// UploadRequest is the parsed form of one inbound request.
type UploadRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Fields map[string]Field
}

func newUploadRequest(r *http.Request) UploadRequest {
	query := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}
	return UploadRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  query,
		Fields: map[string]Field{},
	}
}

// tempFiles returns the spooled paths owned by the transport.
func (u UploadRequest) tempFiles() []string {
	var paths []string
	for _, f := range u.Fields {
		if f.TempPath != "" {
			paths = append(paths, f.TempPath)
		}
	}
	return paths
}

func (u UploadRequest) removeTempFiles() {
	for _, p := range u.tempFiles() {
		_ = os.Remove(p)
	}
}

// parseMultipartFields spools file parts under spoolDir and keeps the first
// occurrence of each field name. On error every file spooled so far is
// removed.
func parseMultipartFields(r *http.Request, spoolDir string, req *UploadRequest) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.EqualFold(mediaType, "multipart/form-data") {
		return nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return fmt.Errorf("bad multipart: %w", err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			req.removeTempFiles()
			return fmt.Errorf("bad multipart: %w", err)
		}

		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if _, seen := req.Fields[name]; seen {
			_ = part.Close()
			continue
		}

		if part.FileName() != "" {
			path, err := spoolPart(part, spoolDir)
			_ = part.Close()
			if err != nil {
				req.removeTempFiles()
				return err
			}
			req.Fields[name] = Field{TempPath: path}
			continue
		}

		value, err := io.ReadAll(io.LimitReader(part, maxInlineFieldBytes+1))
		_ = part.Close()
		if err != nil {
			req.removeTempFiles()
			return fmt.Errorf("read field %s: %w", name, err)
		}
		if len(value) > maxInlineFieldBytes {
			req.removeTempFiles()
			return fmt.Errorf("read field %s: %w", name, errFieldTooLong)
		}
		req.Fields[name] = Field{Value: string(value)}
	}
}

func spoolPart(src io.Reader, spoolDir string) (string, error) {
	f, err := os.CreateTemp(spoolDir, "upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("spool upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("spool upload: %w", err)
	}
	return f.Name(), nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

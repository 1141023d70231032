package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bidev/playcast-ingest/internal/classify"
	"github.com/bidev/playcast-ingest/internal/domain"
	"github.com/bidev/playcast-ingest/internal/playlist"
)

const (
	defaultFilename = "uploaded_file"
	noFileMessage   = "No file uploaded"
	successMessage  = "File uploaded successfully"
)

var ErrNoFileUploaded = errors.New("no file uploaded")

// Notifier hands a completed upload to the host. Implementations drop the
// event when no subscriber is attached.
type Notifier interface {
	Emit(event domain.NotificationEvent)
}

type uploadResp struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Type     domain.FileType `json:"type,omitempty"`
	Filename string          `json:"filename,omitempty"`
	Entries  int             `json:"entries,omitempty"`
	MimeType string          `json:"mime_type,omitempty"`
}

// HandleUpload turns a parsed upload into a classified, stored file and one
// notification.
func (s *Server) HandleUpload(ctx context.Context, req UploadRequest) Response {
	file, err := s.ingest(req)
	if err != nil {
		if errors.Is(err, ErrNoFileUploaded) {
			s.logEvent(ctx, slog.LevelWarn, "upload_rejected", slog.String("reason", err.Error()))
			return jsonResponse(http.StatusBadRequest, uploadResp{Success: false, Message: noFileMessage})
		}
		s.logEvent(ctx, slog.LevelError, "upload_failed", slog.String("error", err.Error()))
		return uploadFailed(err)
	}

	if s.notifier != nil {
		s.notifier.Emit(domain.NotificationEvent{
			Content:  file.Content(),
			Type:     file.DetectedType,
			Filename: file.DisplayName,
			Filepath: file.StoragePath,
		})
	}

	s.logEvent(
		ctx,
		slog.LevelInfo,
		"upload_ingested",
		slog.String("filename", file.DisplayName),
		slog.String("type", string(file.DetectedType)),
		slog.String("storage_path", file.StoragePath),
		slog.String("mime_type", file.MimeType),
		slog.Int("entries", file.Entries),
	)

	return jsonResponse(http.StatusOK, uploadResp{
		Success:  true,
		Message:  successMessage,
		Type:     file.DetectedType,
		Filename: file.DisplayName,
		Entries:  file.Entries,
		MimeType: file.MimeType,
	})
}

func (s *Server) ingest(req UploadRequest) (*domain.IngestedFile, error) {
	payload, ok := req.Fields[FileField]
	if !ok || payload.TempPath == "" {
		return nil, ErrNoFileUploaded
	}

	file := &domain.IngestedFile{
		DisplayName: uploadFilename(req),
		StoragePath: payload.TempPath,
	}

	var content string
	if classify.IsPlaylistName(file.DisplayName) {
		text, err := readPlaylistText(payload.TempPath)
		if err != nil {
			return nil, err
		}
		file.RawTextContent = text
		content = text
	} else {
		stored, err := s.store.Promote(payload.TempPath, file.DisplayName)
		if err != nil {
			return nil, err
		}
		file.StoragePath = stored
		file.MimeType = detectMIME(stored)
		content = stored

		// A playlist sent under a media name is still a playlist.
		head, err := readHead(stored, sniffBytes)
		if err != nil {
			return nil, fmt.Errorf("inspect upload: %w", err)
		}
		if classify.HasPlaylistTag(head) {
			text, err := readPlaylistText(stored)
			if err != nil {
				return nil, err
			}
			file.RawTextContent = text
			content = text
		}
	}

	file.DetectedType = classify.DetectFileType(content, file.DisplayName)
	if file.DetectedType != domain.FileTypePlaylist {
		file.RawTextContent = ""
	} else {
		file.Entries = len(playlist.Parse(file.RawTextContent))
	}
	return file, nil
}

// uploadFilename prefers the hidden form field, then the query string.
// The client's name is kept verbatim for display.
func uploadFilename(req UploadRequest) string {
	if f, ok := req.Fields[FilenameField]; ok && f.Value != "" {
		return f.Value
	}
	if name := req.Query[FilenameField]; name != "" {
		return name
	}
	return defaultFilename
}

func uploadFailed(err error) Response {
	return jsonResponse(http.StatusInternalServerError, uploadResp{Success: false, Message: "Upload failed: " + err.Error()})
}

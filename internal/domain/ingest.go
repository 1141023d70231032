package domain

// FileType is the classification assigned to an ingested upload.
type FileType string

const (
	FileTypePlaylist FileType = "m3u"
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
	FileTypeUnknown  FileType = "unknown"
)

// IngestedFile is the typed reference produced by a completed upload.
// StoragePath is the transport temp path for playlists and the permanent
// path for everything else.
type IngestedFile struct {
	DisplayName    string   `json:"display_name"`
	DetectedType   FileType `json:"detected_type"`
	StoragePath    string   `json:"storage_path"`
	RawTextContent string   `json:"raw_text_content,omitempty"`
	MimeType       string   `json:"mime_type,omitempty"`
	Entries        int      `json:"entries,omitempty"`
}

// Content is the value handed to the host: the playlist text, or the
// storage path for binary media.
func (f IngestedFile) Content() string {
	if f.DetectedType == FileTypePlaylist {
		return f.RawTextContent
	}
	return f.StoragePath
}

// NotificationEvent is emitted once per completed upload.
type NotificationEvent struct {
	Content  string   `json:"content"`
	Type     FileType `json:"type"`
	Filename string   `json:"filename"`
	Filepath string   `json:"filepath"`
}

type ServerStatus struct {
	IsRunning bool `json:"isRunning"`
	Port      int  `json:"port"`
}

type StartResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

type StopResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

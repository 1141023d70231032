package domain

// Device is a LAN renderer the host can cast ingested media to.
type Device struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Address     string       `json:"address"`
	IsAudioOnly bool         `json:"is_audio_only"`
	Protocol    string       `json:"protocol"`
	Accepts     []FileType   `json:"accepts"`
	Limitations []Limitation `json:"limitations"`
}

type Limitation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

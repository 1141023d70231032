package domain

const (
	CodeServerRunning = "SERVER_RUNNING"
	CodeStartError    = "START_ERROR"
	CodeNotRunning    = "NOT_RUNNING"
	CodeStopError     = "STOP_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
)

type ToolError struct {
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	Limitations    []Limitation   `json:"limitations,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

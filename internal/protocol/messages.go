package protocol

import "time"

// FileTranscribed is published after each file of a run completes.
type FileTranscribed struct {
	RunID           string    `json:"run_id"`
	Index           int       `json:"index"`
	Total           int       `json:"total"`
	File            string    `json:"file"`
	DurationSeconds float64   `json:"duration_seconds"`
	Segments        int       `json:"segments"`
	Characters      int       `json:"characters"`
	Timestamp       time.Time `json:"timestamp"`
}

// BatchCompleted is published once the output document has been written.
type BatchCompleted struct {
	RunID                string    `json:"run_id"`
	Input                string    `json:"input"`
	Output               string    `json:"output"`
	Mode                 string    `json:"mode"`
	Model                string    `json:"model"`
	Files                int       `json:"files"`
	TotalDurationSeconds float64   `json:"total_duration_seconds"`
	Timestamp            time.Time `json:"timestamp"`
}

// BatchFailed is published when a run aborts.
type BatchFailed struct {
	RunID     string    `json:"run_id"`
	Input     string    `json:"input"`
	File      string    `json:"file,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectFileTranscribed = "file.transcribed"
	SubjectBatchCompleted  = "batch.completed"
	SubjectBatchFailed     = "batch.failed"
)

// Subject joins the configured prefix and a subject suffix.
func Subject(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}

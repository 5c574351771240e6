package protocol

import "time"

// StateChange announces a coordinator state transition to presentation layers.
type StateChange struct {
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptDelivery carries the final post-processed text for a session.
type TranscriptDelivery struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	RawText   string    `json:"raw_text,omitempty"`
	ModelID   string    `json:"model_id"`
	Duration  float64   `json:"duration_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

// DownloadProgress reports fractional progress for a model download.
type DownloadProgress struct {
	ModelID   string    `json:"model_id"`
	Progress  float64   `json:"progress"`
	Done      bool      `json:"done"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UpgradeReady signals that a prewarmed quality model is waiting for an idle window.
type UpgradeReady struct {
	ModelID   string    `json:"model_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TextOutput is the insertion payload consumed by the platform text layer.
// It carries only what is needed to place text at the cursor.
type TextOutput struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Notice is a classified user-facing message (errors, warnings, performance hints).
type Notice struct {
	Severity  string    `json:"severity"` // info, warning, error
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectStateChange      = "scribe.state"
	SubjectTranscriptFinal  = "scribe.transcript.final"
	SubjectDownloadProgress = "scribe.model.download.progress"
	SubjectUpgradeReady     = "scribe.model.upgrade.ready"
	SubjectNotice           = "scribe.notice"
	SubjectOutputText       = "scribe.output.text"
	SubjectControlToggle    = "scribe.control.toggle"
	SubjectControlCancel    = "scribe.control.cancel"
	SubjectAudioFrames      = "scribe.audio.frames"
)

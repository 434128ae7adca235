// Package types provides shared type definitions used across soundgate.
package types

import "time"

// SessionState represents where the session controller is in its cycle.
type SessionState string

const (
	// StateIdle indicates no session is in progress.
	StateIdle SessionState = "idle"
	// StateWaiting indicates the gate is polling for a trigger.
	StateWaiting SessionState = "waiting"
	// StateCapturing indicates audio is being written into the capture buffer.
	StateCapturing SessionState = "capturing"
	// StateFinalizing indicates the captured range is being checked and uploaded.
	StateFinalizing SessionState = "finalizing"
)

// PCM format of every upload payload.
const (
	SampleFormat   = "s16le"
	Channels       = 1
	BytesPerSample = 2
)

// Payload is a read-only view over the samples captured in one session.
// Data aliases the shared capture buffer and is only valid until the
// session controller starts the next capture.
type Payload struct {
	DeviceID   string
	SessionID  string
	StartedAt  time.Time
	SampleRate int
	Samples    int
	Data       []byte
}

// Duration returns the audio duration covered by the payload.
func (p *Payload) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Samples) * time.Second / time.Duration(p.SampleRate)
}

// UploadResult holds the observable outcome of an upload call.
type UploadResult struct {
	StatusCode int   `json:"status_code"`
	BytesSent  int64 `json:"bytes_sent"`
}

// EventType identifies a session event.
type EventType string

// Session event types.
const (
	EventTriggered        EventType = "session_triggered"
	EventCaptured         EventType = "session_captured"
	EventDiscarded        EventType = "session_discarded"
	EventUploadCompleted  EventType = "upload_completed"
	EventUploadFailed     EventType = "upload_failed"
	EventStateChanged     EventType = "state_changed"
	EventIndicatorFailure EventType = "indicator_failed"
)

// SessionEvent describes something that happened during a session.
type SessionEvent struct {
	Timestamp  time.Time    `json:"ts"`
	Type       EventType    `json:"type"`
	SessionID  string       `json:"session_id,omitempty"`
	State      SessionState `json:"state,omitempty"`
	Level      uint16       `json:"level,omitempty"`
	Samples    int          `json:"samples,omitempty"`
	Target     int          `json:"target,omitempty"`
	StoppedBy  string       `json:"stopped_by,omitempty"`
	PeakDB     float64      `json:"peak_db,omitempty"`
	RMSDB      float64      `json:"rms_db,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
	BytesSent  int64        `json:"bytes_sent,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// VersionInfo contains version information for the status endpoint.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	UpdateAvail bool   `json:"update_available"`
	Commit      string `json:"commit,omitempty"`
	BuildTime   string `json:"build_time,omitempty"`
}

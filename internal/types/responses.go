package types

// SessionCounters holds running totals of session outcomes.
type SessionCounters struct {
	Sessions      int64 `json:"sessions"`
	Uploaded      int64 `json:"uploaded"`
	UploadsFailed int64 `json:"uploads_failed"`
	Discarded     int64 `json:"discarded"`
}

// StatusResponse is returned by /api/status and sent as the first WebSocket message.
type StatusResponse struct {
	Type     string          `json:"type"` // "status"
	DeviceID string          `json:"device_id"`
	State    SessionState    `json:"state"`
	Uptime   string          `json:"uptime"`
	Counters SessionCounters `json:"counters"`
	Last     *SessionEvent   `json:"last_event,omitempty"`
	Version  VersionInfo     `json:"version"`
}

// EventMessage wraps a session event for the WebSocket stream.
type EventMessage struct {
	Type  string       `json:"type"` // "event"
	Event SessionEvent `json:"event"`
}

package domain

import "time"

// SessionStatus is the session lifecycle state. Valid transitions are
// Active ↔ Suspended → Completed | Failed; anything else fails loudly.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionSuspended SessionStatus = "suspended"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

var validSessionTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionActive:    {SessionSuspended: true, SessionCompleted: true, SessionFailed: true},
	SessionSuspended: {SessionActive: true, SessionCompleted: true, SessionFailed: true},
	SessionCompleted: {},
	SessionFailed:    {},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// session status transition.
func CanTransition(from, to SessionStatus) bool {
	return validSessionTransitions[from][to]
}

// Session is a client's logical execution context.
type Session struct {
	ID        string            `json:"id"`
	Status    SessionStatus     `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	Owner     string            `json:"owner,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Artifacts map[string]bool   `json:"artifacts,omitempty"`
}

// Artifact is a content-addressed binary blob tied to a session; its ID
// is the content hash, so identical bytes always dedupe to one row.
type Artifact struct {
	ID                  string            `json:"id"`
	SessionID           string            `json:"session_id"`
	Type                string            `json:"type"`
	Name                string            `json:"name"`
	SizeBytes           int64             `json:"size_bytes"`
	CompressedSizeBytes int64             `json:"compressed_size_bytes"`
	CreatedAt           time.Time         `json:"created_at"`
	Tags                map[string]string `json:"tags,omitempty"`
	RefCount            int               `json:"ref_count"`
}

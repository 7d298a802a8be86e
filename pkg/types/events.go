package types

import "time"

// EventType identifies a progress bus event.
type EventType string

const (
	EventConnected EventType = "connected"
	EventPhase     EventType = "phase"
	EventProgress  EventType = "progress"
	EventStatus    EventType = "status"
	EventLog       EventType = "log"
	EventError     EventType = "error"
	EventPong      EventType = "pong"
)

// Phase names the stage lifecycle transitions carried by phase events.
type Phase string

const (
	PhaseStarted      Phase = "started"
	PhaseCompleted    Phase = "completed"
	PhaseRetrying     Phase = "retrying"
	PhaseRetrySuccess Phase = "retry-success"
	PhaseFailed       Phase = "failed"
)

// Event is one message on a build's progress topic. Seq is monotonically
// increasing within the build, starting at 1.
type Event struct {
	Type    EventType `json:"type"`
	BuildID string    `json:"buildId"`
	Seq     int64     `json:"seq"`
	TS      time.Time `json:"ts"`

	// Exactly one of the payloads below is set, matching Type.
	Phase    *PhasePayload    `json:"phase,omitempty"`
	Progress *ProgressPayload `json:"progress,omitempty"`
	Status   *StatusPayload   `json:"status,omitempty"`
	Log      *LogPayload      `json:"log,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
}

// PhasePayload marks entry/exit/retry of a stage.
type PhasePayload struct {
	Stage     string   `json:"stage"`
	StageKey  StageKey `json:"stageKey"`
	Phase     Phase    `json:"phase"`
	Attempt   int      `json:"attempt,omitempty"`
	BackoffMs int64    `json:"backoffMs,omitempty"`
}

// ProgressPayload carries a coarse completion percentage with a label.
type ProgressPayload struct {
	Percent int    `json:"percent"`
	Label   string `json:"label"`
}

// StatusPayload marks a build-level status transition.
type StatusPayload struct {
	Status BuildStatus `json:"status"`
}

// LogPayload is a free-form line attached to the build.
type LogPayload struct {
	Line string `json:"line"`
}

// ErrorPayload is the wire form of a structured failure.
type ErrorPayload struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
	Stage         string `json:"stage,omitempty"`
	Attempt       int    `json:"attempt,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

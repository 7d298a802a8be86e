package types

import (
	"strconv"
	"time"
)

// BuildStatus represents the lifecycle state of a build.
type BuildStatus string

const (
	BuildStatusQueued    BuildStatus = "queued"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildStatusCompleted, BuildStatusFailed, BuildStatusCancelled:
		return true
	}
	return false
}

// StageState represents the sub-state of a single stage within a build.
type StageState string

const (
	StageStatePending   StageState = "pending"
	StageStateRunning   StageState = "running"
	StageStateCompleted StageState = "completed"
	StageStateFailed    StageState = "failed"
	StageStateCancelled StageState = "cancelled"
)

// StageKey is a numeric stage identifier. Integer keys are main stages,
// fractional keys (1.5, 3.5) are sub-stages; ordering is natural order.
type StageKey float64

// String renders the key the way it appears in artifact maps and events
// ("1.5" not "1.500000", "3" not "3.000000").
func (k StageKey) String() string {
	return strconv.FormatFloat(float64(k), 'f', -1, 64)
}

// ParseStageKey parses the string form produced by StageKey.String.
func ParseStageKey(s string) (StageKey, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return StageKey(f), nil
}

// StageStatus tracks the execution state of one stage within one build.
type StageStatus struct {
	State       StageState `json:"state"`
	Attempts    int        `json:"attempts"`
	StartedAt   time.Time  `json:"startedAt,omitempty"`
	CompletedAt time.Time  `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ArtifactCategory is the bucket an artifact lands in under the build
// directory.
type ArtifactCategory string

const (
	CategorySpecs ArtifactCategory = "specs"
	CategoryDocs  ArtifactCategory = "docs"
	CategoryCode  ArtifactCategory = "code"
)

// ArtifactRef points at a persisted artifact of a build.
type ArtifactRef struct {
	Category  ArtifactCategory `json:"category"`
	Name      string           `json:"name"`
	Size      int64            `json:"size"`
	WrittenAt time.Time        `json:"writtenAt"`
}

// BuildError is one entry in a build's append-only error log.
type BuildError struct {
	Kind           string    `json:"kind"`
	Stage          string    `json:"stage,omitempty"`
	StageKey       StageKey  `json:"stageKey,omitempty"`
	Attempt        int       `json:"attempt,omitempty"`
	Message        string    `json:"message"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	IsFinalFailure bool      `json:"isFinalFailure"`
	Timestamp      time.Time `json:"timestamp"`
}

// Build is the root entity: one execution of the pipeline for one
// specification.
type Build struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`

	Status       BuildStatus `json:"status"`
	CurrentStage StageKey    `json:"currentStage"`

	// StageStatuses and Artifacts are keyed by StageKey.String().
	StageStatuses map[string]*StageStatus  `json:"stageStatuses"`
	Artifacts     map[string][]ArtifactRef `json:"artifacts"`

	Errors       []BuildError `json:"errors,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	FailedStage  string       `json:"failedStage,omitempty"`

	// CancelRequested is set when a cancel is accepted; the worker
	// observes it and settles the terminal status.
	CancelRequested bool `json:"cancelRequested,omitempty"`

	// Spec is the original project specification as submitted.
	Spec []byte `json:"spec"`

	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	FailedAt    time.Time `json:"failedAt,omitempty"`

	// RetriedFrom holds the id of the failed build this one was cloned
	// from via the retry operation.
	RetriedFrom string `json:"retriedFrom,omitempty"`
}

// StageDescriptor is the static configuration of one pipeline stage.
type StageDescriptor struct {
	Key     StageKey `json:"key" yaml:"key"`
	Name    string   `json:"name" yaml:"name"`
	Inputs  []string `json:"inputs" yaml:"inputs"`
	Outputs []string `json:"outputs" yaml:"outputs"`
	Handler string   `json:"handler" yaml:"handler"`

	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// Retries is the total attempt budget (initial attempt included).
	Retries    int                    `json:"retries" yaml:"retries"`
	RequiresAI bool                   `json:"requiresAi" yaml:"requires_ai"`
	Options    map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`

	// Disabled is set by the provider registry when the stage's role
	// cannot be resolved to a registered provider.
	Disabled bool `json:"disabled,omitempty" yaml:"-"`
}

// Message is one chat message sent to a model.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// CallOutcome classifies the terminal result of a model call.
type CallOutcome string

const (
	OutcomeSuccess        CallOutcome = "success"
	OutcomeRetryableError CallOutcome = "retryable_error"
	OutcomeFatalError     CallOutcome = "fatal_error"
)

// CallRecord is one row per outbound model call. Written once on call
// completion, never mutated.
type CallRecord struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId"`

	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Role      string `json:"role,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	BuildID   string `json:"buildId,omitempty"`

	InputTokens  int           `json:"inputTokens"`
	OutputTokens int           `json:"outputTokens"`
	CostUSD      float64       `json:"costUsd"`
	Latency      time.Duration `json:"latency"`

	Cached       bool        `json:"cached"`
	FallbackUsed bool        `json:"fallbackUsed"`
	Outcome      CallOutcome `json:"outcome"`

	Timestamp time.Time `json:"timestamp"`
}

// CallContext carries the principal dimensions a model call is billed
// against.
type CallContext struct {
	TenantID  string `json:"tenantId"`
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
	BuildID   string `json:"buildId"`
	Role      string `json:"role,omitempty"`
}

// ProviderState is the derived health of a provider.
type ProviderState string

const (
	ProviderStateUnknown   ProviderState = "unknown"
	ProviderStateHealthy   ProviderState = "healthy"
	ProviderStateDegraded  ProviderState = "degraded"
	ProviderStateUnhealthy ProviderState = "unhealthy"
)

// ProviderHealth is a snapshot derived from the sliding outcome window.
type ProviderHealth struct {
	Provider   string        `json:"provider"`
	State      ProviderState `json:"state"`
	ErrorRate  float64       `json:"errorRate"`
	AvgLatency time.Duration `json:"avgLatency"`
	Samples    int           `json:"samples"`
}

package bus

import (
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// Typed publish helpers. All of them swallow the drained-topic error;
// progress is best effort once a build has ended.

// PublishPhase emits a stage lifecycle transition.
func (b *Bus) PublishPhase(buildID string, key types.StageKey, stage string, phase types.Phase, attempt int, backoffMs int64) {
	b.Publish(buildID, &types.Event{
		Type: types.EventPhase,
		Phase: &types.PhasePayload{
			Stage:     stage,
			StageKey:  key,
			Phase:     phase,
			Attempt:   attempt,
			BackoffMs: backoffMs,
		},
	})
}

// PublishStatus emits a build status transition.
func (b *Bus) PublishStatus(buildID string, status types.BuildStatus) {
	b.Publish(buildID, &types.Event{
		Type:   types.EventStatus,
		Status: &types.StatusPayload{Status: status},
	})
}

// PublishProgress emits a coarse completion percentage.
func (b *Bus) PublishProgress(buildID string, percent int, label string) {
	b.Publish(buildID, &types.Event{
		Type:     types.EventProgress,
		Progress: &types.ProgressPayload{Percent: percent, Label: label},
	})
}

// PublishLog emits a free-form log line.
func (b *Bus) PublishLog(buildID, line string) {
	b.Publish(buildID, &types.Event{
		Type: types.EventLog,
		Log:  &types.LogPayload{Line: line},
	})
}

// PublishError emits a structured failure.
func (b *Bus) PublishError(buildID string, err error) {
	e := errdefs.AsError(err)
	b.Publish(buildID, &types.Event{
		Type: types.EventError,
		Error: &types.ErrorPayload{
			Kind:          string(e.Kind),
			Message:       e.Message,
			Retryable:     e.Retryable,
			Stage:         e.Stage,
			Attempt:       e.Attempt,
			CorrelationID: e.CorrelationID,
		},
	})
}

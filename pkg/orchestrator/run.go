package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/metrics"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/stage"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// runBuild executes one build from its current stage to a terminal
// status. Called from exactly one worker at a time for a given build.
func (o *Orchestrator) runBuild(buildID string) {
	b, err := o.store.GetBuild(buildID)
	if err != nil {
		log.WithBuildID(buildID).Error().Err(err).Msg("Failed to load queued build")
		return
	}
	if b.Status != types.BuildStatusQueued {
		// Cancelled while waiting in the queue.
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.running[b.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, b.ID)
		o.mu.Unlock()
		cancel()
	}()

	b.Status = types.BuildStatusRunning
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now().UTC()
	}
	metrics.BuildsTotal.WithLabelValues(string(types.BuildStatusQueued)).Dec()
	metrics.BuildsTotal.WithLabelValues(string(types.BuildStatusRunning)).Inc()
	if err := o.store.UpdateBuild(b); err != nil {
		log.WithBuildID(b.ID).Error().Err(err).Msg("Failed to persist build start")
		return
	}
	o.bus.PublishStatus(b.ID, types.BuildStatusRunning)

	for _, desc := range stage.Table() {
		if desc.Key < b.CurrentStage {
			continue
		}
		if st := b.StageStatuses[desc.Key.String()]; st != nil && st.State == types.StageStateCompleted {
			continue
		}
		if ctx.Err() != nil {
			o.finalizeCancelled(b)
			return
		}
		if o.disabledStages[desc.Key.String()] {
			err := errdefs.Newf(errdefs.KindProviderUnavailable,
				"stage %s is disabled, no provider serves its role", desc.Name)
			err.Retryable = false
			o.failBuild(b, desc, err)
			return
		}

		if err := o.executeStage(ctx, b, desc); err != nil {
			if errdefs.KindOf(err) == errdefs.KindCancelled || ctx.Err() != nil {
				o.finalizeCancelled(b)
				return
			}
			o.failBuild(b, desc, err)
			return
		}
	}

	o.finalizeCompleted(b)
}

// executeStage runs one stage through its attempt budget. Partial
// outputs written by a failed attempt stay on disk; the error log and
// stage status persist after every attempt.
func (o *Orchestrator) executeStage(ctx context.Context, b *types.Build, desc types.StageDescriptor) error {
	key := desc.Key.String()
	logger := log.WithBuildID(b.ID).With().Str("stage", desc.Name).Logger()

	b.CurrentStage = desc.Key
	st := b.StageStatuses[key]
	if st == nil {
		st = &types.StageStatus{}
		b.StageStatuses[key] = st
	}
	st.State = types.StageStateRunning
	st.StartedAt = time.Now().UTC()
	st.Error = ""
	if err := o.store.UpdateBuild(b); err != nil {
		return errdefs.Wrap(errdefs.KindInternal, "failed to persist stage start", err)
	}
	o.bus.PublishPhase(b.ID, desc.Key, desc.Name, types.PhaseStarted, 1, 0)

	// Preflight: a missing input is a pipeline wiring failure, not a
	// transient one. Fail without burning the attempt budget.
	for _, input := range desc.Inputs {
		if !o.env.Artifacts.Exists(b.ID, input) {
			e := errdefs.Newf(errdefs.KindMissingInputArtifact,
				"stage %s requires artifact %s which was never produced", desc.Name, input).WithStage(desc.Name)
			o.appendError(b, e, true)
			return e
		}
	}

	handler, ok := o.handlers[desc.Handler]
	if !ok {
		return errdefs.Newf(errdefs.KindInternal, "no handler registered for %s", desc.Handler).WithStage(desc.Name)
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = o.cfg.Stages.Timeout
	}
	budget := desc.Retries
	if budget <= 0 {
		budget = o.cfg.Stages.Retries
	}

	var lastErr *errdefs.Error
	for attempt := 1; attempt <= budget; attempt++ {
		if attempt > 1 {
			delay := o.backoff(attempt)
			metrics.StageRetries.WithLabelValues(desc.Name).Inc()
			o.bus.PublishPhase(b.ID, desc.Key, desc.Name, types.PhaseRetrying, attempt, delay.Milliseconds())
			logger.Warn().Int("attempt", attempt).Dur("backoff", delay).Msg("Retrying stage")
			select {
			case <-ctx.Done():
				return errdefs.Wrap(errdefs.KindCancelled, "build cancelled", ctx.Err())
			case <-time.After(delay):
			}
		}
		st.Attempts = attempt

		timer := metrics.NewTimer()
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, timeout)
		err := handler(attemptCtx, o.env, b)
		cancelAttempt()
		timer.ObserveDurationVec(metrics.StageDuration, desc.Name)

		if err == nil {
			metrics.StageAttempts.WithLabelValues(desc.Name, "success").Inc()
			st.State = types.StageStateCompleted
			st.CompletedAt = time.Now().UTC()
			o.recordOutputs(b, desc)

			phase := types.PhaseCompleted
			if attempt > 1 {
				phase = types.PhaseRetrySuccess
			}
			o.bus.PublishPhase(b.ID, desc.Key, desc.Name, phase, attempt, 0)
			o.bus.PublishProgress(b.ID, stage.Progress(desc.Key), desc.Name)

			if err := o.store.UpdateBuild(b); err != nil {
				return errdefs.Wrap(errdefs.KindInternal, "failed to persist stage completion", err)
			}
			logger.Info().Int("attempt", attempt).Msg("Stage completed")
			return nil
		}

		if ctx.Err() != nil {
			return errdefs.Wrap(errdefs.KindCancelled, "build cancelled", ctx.Err())
		}
		e := errdefs.AsError(err).WithStage(desc.Name).WithAttempt(attempt)
		if errors.Is(err, context.DeadlineExceeded) && errdefs.KindOf(err) == errdefs.KindInternal {
			e = errdefs.Wrap(errdefs.KindTimeout, "stage timed out", err).WithStage(desc.Name).WithAttempt(attempt)
		}

		metrics.StageAttempts.WithLabelValues(desc.Name, "error").Inc()
		lastErr = e
		retryable := e.Retryable && attempt < budget
		o.appendError(b, e, !retryable)
		o.bus.PublishError(b.ID, e)
		if err := o.store.UpdateBuild(b); err != nil {
			logger.Error().Err(err).Msg("Failed to persist attempt error")
		}
		logger.Warn().Err(e).Int("attempt", attempt).Bool("retryable", e.Retryable).Msg("Stage attempt failed")

		if !e.Retryable {
			break
		}
	}
	return lastErr
}

// backoff returns the pre-attempt delay for attempt n (n >= 2). The
// schedule is fixed; past its end the last entry repeats.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	schedule := o.cfg.Stages.Backoff
	idx := attempt - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// recordOutputs snapshots the stage's artifact references onto the
// build. Stages with no declared outputs produce code files.
func (o *Orchestrator) recordOutputs(b *types.Build, desc types.StageDescriptor) {
	refs, err := o.env.Artifacts.List(b.ID)
	if err != nil {
		log.WithBuildID(b.ID).Warn().Err(err).Msg("Failed to list artifacts after stage")
		return
	}

	var out []types.ArtifactRef
	if len(desc.Outputs) > 0 {
		declared := make(map[string]bool, len(desc.Outputs))
		for _, name := range desc.Outputs {
			declared[name] = true
		}
		for _, r := range refs {
			if declared[r.Name] {
				out = append(out, r)
			}
		}
	} else {
		for _, r := range refs {
			if r.Category == types.CategoryCode {
				out = append(out, r)
			}
		}
	}
	b.Artifacts[desc.Key.String()] = out
}

// appendError adds one entry to the build's append-only error log.
func (o *Orchestrator) appendError(b *types.Build, e *errdefs.Error, final bool) {
	b.Errors = append(b.Errors, types.BuildError{
		Kind:           string(e.Kind),
		Stage:          e.Stage,
		StageKey:       b.CurrentStage,
		Attempt:        e.Attempt,
		Message:        e.Message,
		CorrelationID:  e.CorrelationID,
		IsFinalFailure: final,
		Timestamp:      time.Now().UTC(),
	})
}

func (o *Orchestrator) finalizeCompleted(b *types.Build) {
	from := b.Status
	b.Status = types.BuildStatusCompleted
	b.CompletedAt = time.Now().UTC()
	o.finishMetrics(b, from)
	if err := o.store.UpdateBuild(b); err != nil {
		log.WithBuildID(b.ID).Error().Err(err).Msg("Failed to persist completed build")
	}
	o.bus.PublishProgress(b.ID, 100, "completed")
	o.bus.PublishStatus(b.ID, types.BuildStatusCompleted)
	o.bus.Drain(b.ID, drainGrace)
	log.WithBuildID(b.ID).Info().Dur("duration", b.CompletedAt.Sub(b.StartedAt)).Msg("Build completed")
}

func (o *Orchestrator) failBuild(b *types.Build, desc types.StageDescriptor, err error) {
	e := errdefs.AsError(err)
	key := desc.Key.String()
	if st := b.StageStatuses[key]; st != nil {
		st.State = types.StageStateFailed
		st.Error = e.Message
	}
	from := b.Status
	now := time.Now().UTC()
	b.Status = types.BuildStatusFailed
	b.FailedStage = desc.Name
	b.FailedAt = now
	b.CompletedAt = now
	b.ErrorMessage = e.Message
	o.finishMetrics(b, from)
	if err := o.store.UpdateBuild(b); err != nil {
		log.WithBuildID(b.ID).Error().Err(err).Msg("Failed to persist failed build")
	}
	o.bus.PublishPhase(b.ID, desc.Key, desc.Name, types.PhaseFailed, e.Attempt, 0)
	o.bus.PublishError(b.ID, e)
	o.bus.PublishStatus(b.ID, types.BuildStatusFailed)
	o.bus.Drain(b.ID, drainGrace)
	log.WithBuildID(b.ID).Error().Err(e).Str("stage", desc.Name).Msg("Build failed")
}

func (o *Orchestrator) finalizeCancelled(b *types.Build) error {
	key := b.CurrentStage.String()
	if st := b.StageStatuses[key]; st != nil && st.State == types.StageStateRunning {
		st.State = types.StageStateCancelled
	}
	from := b.Status
	b.Status = types.BuildStatusCancelled
	b.CompletedAt = time.Now().UTC()
	o.finishMetrics(b, from)
	if err := o.store.UpdateBuild(b); err != nil {
		log.WithBuildID(b.ID).Error().Err(err).Msg("Failed to persist cancelled build")
		return err
	}
	o.bus.PublishStatus(b.ID, types.BuildStatusCancelled)
	o.bus.Drain(b.ID, drainGrace)
	log.WithBuildID(b.ID).Info().Msg("Build cancelled")
	return nil
}

// finishMetrics records the terminal transition of a build.
func (o *Orchestrator) finishMetrics(b *types.Build, from types.BuildStatus) {
	metrics.BuildsTotal.WithLabelValues(string(from)).Dec()
	metrics.BuildsTotal.WithLabelValues(string(b.Status)).Inc()
	metrics.BuildsFinished.WithLabelValues(string(b.Status)).Inc()
	if !b.StartedAt.IsZero() {
		metrics.BuildDuration.Observe(time.Since(b.StartedAt).Seconds())
	}
}

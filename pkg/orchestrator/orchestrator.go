package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/bus"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/cost"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/metrics"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/stage"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/store"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// drainGrace is how long a finished build's progress topic stays open
// for subscribers to catch up.
const drainGrace = 2 * time.Second

// Orchestrator owns the build queue and the worker pool. One worker
// runs one build at a time, start to finish.
type Orchestrator struct {
	cfg        *config.Config
	store      store.Store
	bus        *bus.Bus
	env        *stage.Env
	handlers   map[string]stage.HandlerFunc
	controller *cost.Controller

	// disabledStages holds stage keys whose AI roles did not resolve at
	// boot.
	disabledStages map[string]bool

	queue  chan string
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates an orchestrator. disabledRoles lists roles the provider
// registry could not resolve; stages needing them are skipped.
func New(cfg *config.Config, st store.Store, b *bus.Bus, env *stage.Env, controller *cost.Controller, disabledRoles []string) *Orchestrator {
	bad := make(map[string]bool, len(disabledRoles))
	for _, role := range disabledRoles {
		bad[role] = true
	}

	disabled := make(map[string]bool)
	for _, desc := range stage.Table() {
		for _, role := range stage.RolesFor(desc.Handler) {
			if bad[role] {
				disabled[desc.Key.String()] = true
				log.WithComponent("orchestrator").Warn().
					Str("stage", desc.Name).
					Str("role", role).
					Msg("Stage disabled, role has no usable provider")
			}
		}
	}

	return &Orchestrator{
		cfg:            cfg,
		store:          st,
		bus:            b,
		env:            env,
		handlers:       stage.Handlers(),
		controller:     controller,
		disabledStages: disabled,
		queue:          make(chan string, 1024),
		stopCh:         make(chan struct{}),
		running:        make(map[string]context.CancelFunc),
	}
}

// Start recovers interrupted builds and launches the worker pool.
func (o *Orchestrator) Start() error {
	if err := o.recover(); err != nil {
		return err
	}

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	log.WithComponent("orchestrator").Info().Int("workers", o.cfg.Workers).Msg("Orchestrator started")
	return nil
}

// Stop cancels running builds and waits for the workers to exit.
func (o *Orchestrator) Stop() {
	close(o.stopCh)

	o.mu.Lock()
	for _, cancel := range o.running {
		cancel()
	}
	o.mu.Unlock()

	o.wg.Wait()
	log.WithComponent("orchestrator").Info().Msg("Orchestrator stopped")
}

// recover re-enqueues builds that were queued or running when the
// process last exited. Running builds restart at their current stage;
// completed stage artifacts are already on disk.
func (o *Orchestrator) recover() error {
	builds, err := o.store.ListBuilds()
	if err != nil {
		return err
	}
	for _, b := range builds {
		switch b.Status {
		case types.BuildStatusQueued:
			o.enqueue(b.ID)
		case types.BuildStatusRunning:
			b.Status = types.BuildStatusQueued
			if err := o.store.UpdateBuild(b); err != nil {
				return err
			}
			o.enqueue(b.ID)
			log.WithBuildID(b.ID).Info().
				Str("stage", b.CurrentStage.String()).
				Msg("Recovered interrupted build")
		}
	}
	return nil
}

func (o *Orchestrator) enqueue(buildID string) {
	select {
	case o.queue <- buildID:
	default:
		// Queue full; the build stays queued in the store and recovery
		// or the next Submit drains it. Extremely unlikely at depth 1024.
		log.WithBuildID(buildID).Error().Msg("Build queue full")
	}
}

// SubmitRequest carries a new build submission.
type SubmitRequest struct {
	TenantID  string
	ProjectID string
	UserID    string
	Spec      []byte
}

// Submit validates, persists and enqueues a new build.
func (o *Orchestrator) Submit(req SubmitRequest) (*types.Build, error) {
	if len(req.Spec) == 0 {
		return nil, errdefs.New(errdefs.KindValidation, "spec is required")
	}
	if !json.Valid(req.Spec) {
		return nil, errdefs.New(errdefs.KindValidation, "spec must be valid JSON")
	}
	if req.TenantID == "" || req.UserID == "" {
		return nil, errdefs.New(errdefs.KindValidation, "tenant and user are required")
	}

	if o.controller != nil {
		if err := o.controller.AdmitBuild(types.CallContext{
			TenantID: req.TenantID, UserID: req.UserID, ProjectID: req.ProjectID,
		}); err != nil {
			return nil, err
		}
	}

	b := &types.Build{
		ID:            uuid.New().String(),
		TenantID:      req.TenantID,
		ProjectID:     req.ProjectID,
		UserID:        req.UserID,
		Status:        types.BuildStatusQueued,
		StageStatuses: make(map[string]*types.StageStatus),
		Artifacts:     make(map[string][]types.ArtifactRef),
		Spec:          req.Spec,
		CreatedAt:     time.Now().UTC(),
	}
	for _, desc := range stage.Table() {
		b.StageStatuses[desc.Key.String()] = &types.StageStatus{State: types.StageStatePending}
	}
	b.CurrentStage = stage.Table()[0].Key

	if err := o.store.CreateBuild(b); err != nil {
		return nil, err
	}

	metrics.BuildsStarted.Inc()
	metrics.BuildsTotal.WithLabelValues(string(types.BuildStatusQueued)).Inc()
	o.bus.PublishStatus(b.ID, types.BuildStatusQueued)
	o.enqueue(b.ID)

	log.WithBuildID(b.ID).Info().Str("tenant", b.TenantID).Msg("Build submitted")
	return b, nil
}

// Cancel stops a queued or running build. Terminal builds cannot be
// cancelled.
func (o *Orchestrator) Cancel(buildID string) error {
	b, err := o.store.GetBuild(buildID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return errdefs.Newf(errdefs.KindValidation, "build %s is already %s", buildID, b.Status)
	}

	b.CancelRequested = true
	if err := o.store.UpdateBuild(b); err != nil {
		return err
	}

	o.mu.Lock()
	cancel, isRunning := o.running[buildID]
	o.mu.Unlock()

	if isRunning {
		// The worker observes the cancellation and finalizes the build.
		cancel()
		return nil
	}

	// Still queued: finalize directly.
	return o.finalizeCancelled(b)
}

// Retry clones a failed or cancelled build into a fresh one that runs
// the whole pipeline again.
func (o *Orchestrator) Retry(buildID string) (*types.Build, error) {
	prev, err := o.store.GetBuild(buildID)
	if err != nil {
		return nil, err
	}
	if prev.Status != types.BuildStatusFailed && prev.Status != types.BuildStatusCancelled {
		return nil, errdefs.Newf(errdefs.KindValidation, "build %s is %s, only failed or cancelled builds can be retried", buildID, prev.Status)
	}

	b, err := o.Submit(SubmitRequest{
		TenantID:  prev.TenantID,
		ProjectID: prev.ProjectID,
		UserID:    prev.UserID,
		Spec:      prev.Spec,
	})
	if err != nil {
		return nil, err
	}
	b.RetriedFrom = prev.ID
	if err := o.store.UpdateBuild(b); err != nil {
		return nil, err
	}
	return b, nil
}

// RetryStage re-enqueues a failed build starting at the stage that
// failed. Artifacts from earlier stages are reused; the chosen stage
// and everything after it reset to pending.
func (o *Orchestrator) RetryStage(buildID string, key types.StageKey) (*types.Build, error) {
	b, err := o.store.GetBuild(buildID)
	if err != nil {
		return nil, err
	}
	if b.Status != types.BuildStatusFailed {
		return nil, errdefs.Newf(errdefs.KindValidation, "build %s is %s, only failed builds can be resumed", buildID, b.Status)
	}
	if _, ok := stage.Find(key); !ok {
		return nil, errdefs.Newf(errdefs.KindValidation, "unknown stage %s", key)
	}
	if st := b.StageStatuses[key.String()]; st == nil || st.State != types.StageStateFailed {
		return nil, errdefs.Newf(errdefs.KindValidation, "stage %s of build %s did not fail", key, buildID)
	}

	for _, desc := range stage.Table() {
		if desc.Key >= key {
			b.StageStatuses[desc.Key.String()] = &types.StageStatus{State: types.StageStatePending}
		}
	}
	metrics.BuildsTotal.WithLabelValues(string(b.Status)).Dec()
	b.Status = types.BuildStatusQueued
	b.CurrentStage = key
	b.ErrorMessage = ""
	b.FailedStage = ""
	b.FailedAt = time.Time{}
	b.CompletedAt = time.Time{}

	if err := o.store.UpdateBuild(b); err != nil {
		return nil, err
	}

	metrics.BuildsTotal.WithLabelValues(string(types.BuildStatusQueued)).Inc()
	o.bus.PublishStatus(b.ID, types.BuildStatusQueued)
	o.enqueue(b.ID)
	log.WithBuildID(b.ID).Info().Str("stage", key.String()).Msg("Build re-enqueued from stage")
	return b, nil
}

// Get returns one build.
func (o *Orchestrator) Get(buildID string) (*types.Build, error) {
	return o.store.GetBuild(buildID)
}

// List returns builds, optionally filtered by tenant.
func (o *Orchestrator) List(tenantID string) ([]*types.Build, error) {
	if tenantID != "" {
		return o.store.ListBuildsByTenant(tenantID)
	}
	return o.store.ListBuilds()
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	logger := log.WithComponent("orchestrator").With().Int("worker", id).Logger()

	for {
		select {
		case <-o.stopCh:
			return
		case buildID := <-o.queue:
			logger.Debug().Str("build_id", buildID).Msg("Worker picked up build")
			o.runBuild(buildID)
		}
	}
}

package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/artifact"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/bus"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/provider"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/publish"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/ratelimit"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/router"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/stage"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/store"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

type fixture struct {
	orch *Orchestrator
	st   store.Store
	mock *provider.MockAdapter
	bus  *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Workers = 1
	// No sleeping between stage attempts in tests.
	cfg.Stages.Backoff = []time.Duration{0}
	cfg.Stages.Timeout = 10 * time.Second

	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	artifacts, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	pricing := map[string]config.ModelPricing{"large": {InputPerMTok: 1, OutputPerMTok: 1}}
	mock := provider.NewMockAdapter("mock", pricing)

	roles := map[string]config.RoleConfig{}
	for _, desc := range stage.Table() {
		for _, role := range stage.RolesFor(desc.Handler) {
			roles[role] = config.RoleConfig{Provider: "mock", Model: "large"}
		}
	}
	registry := provider.NewRegistry(roles)
	registry.Register(mock)
	registry.Validate()

	limits := ratelimit.NewManager(map[string]ratelimit.Settings{
		"mock": {MaxConcurrent: 4, BreakerThreshold: 1000},
	})

	b := bus.NewBus(64, 256)

	env := &stage.Env{
		Artifacts: artifacts,
		Router:    router.NewRouter(registry, limits, nil, nil, nil),
		Bus:       b,
		Hoster:    publish.NewLocalHoster(""),
		Deployer:  publish.NewLocalDeployer("", ""),
	}

	return &fixture{
		orch: New(cfg, st, b, env, nil, nil),
		st:   st,
		mock: mock,
		bus:  b,
	}
}

func (f *fixture) submit(t *testing.T) *types.Build {
	t.Helper()
	b, err := f.orch.Submit(SubmitRequest{
		TenantID:  "t1",
		ProjectID: "p1",
		UserID:    "u1",
		Spec:      []byte(`{"app":"todo","description":"a todo app"}`),
	})
	require.NoError(t, err)
	return b
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"empty spec", SubmitRequest{TenantID: "t1", UserID: "u1"}},
		{"invalid json", SubmitRequest{TenantID: "t1", UserID: "u1", Spec: []byte("not json")}},
		{"missing principal", SubmitRequest{Spec: []byte("{}")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Submit(tt.req)
			require.Error(t, err)
			assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
		})
	}
}

func TestSubmitQueuesBuild(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	stored, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusQueued, stored.Status)
	assert.Len(t, stored.StageStatuses, 12)
	for key, st := range stored.StageStatuses {
		assert.Equal(t, types.StageStatePending, st.State, "stage %s", key)
	}
}

func TestFullPipelineCompletes(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	// The unscripted mock answers every role deterministically; the
	// lenient parsers turn that into the baseline application layout.
	f.orch.runBuild(b.ID)

	done, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusCompleted, done.Status)
	assert.False(t, done.CompletedAt.IsZero())
	assert.Empty(t, done.ErrorMessage)

	for key, st := range done.StageStatuses {
		assert.Equal(t, types.StageStateCompleted, st.State, "stage %s", key)
	}

	// Declared outputs were snapshotted per stage.
	require.NotEmpty(t, done.Artifacts["0"])
	assert.Equal(t, "specs.json", done.Artifacts["0"][0].Name)

	// The scaffold and generation stages recorded code files.
	assert.NotEmpty(t, done.Artifacts["5"])
	assert.NotEmpty(t, done.Artifacts["7"])

	// The tail stages produced the publication artifacts.
	var repo publish.Repository
	require.NoError(t, f.orch.env.Artifacts.GetJSON(b.ID, "repository.json", &repo))
	assert.NotEmpty(t, repo.URL)

	var dep publish.Deployment
	require.NoError(t, f.orch.env.Artifacts.GetJSON(b.ID, "deployment.json", &dep))
	assert.Equal(t, "live", dep.Status)
}

func TestStageRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	// Three transient failures exhaust the router's per-target attempts,
	// surfacing one retryable stage failure; the next stage attempt hits
	// the unscripted default and succeeds.
	for i := 0; i < 3; i++ {
		f.mock.Enqueue("", errdefs.New(errdefs.KindProviderTransient, "upstream hiccup"))
	}

	f.orch.runBuild(b.ID)

	done, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusCompleted, done.Status)
	assert.Equal(t, 2, done.StageStatuses["0"].Attempts)

	require.NotEmpty(t, done.Errors)
	assert.False(t, done.Errors[0].IsFinalFailure)
	assert.Equal(t, "clarification", done.Errors[0].Stage)
}

func TestPermanentErrorFailsBuild(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	f.mock.Enqueue("", errdefs.New(errdefs.KindProviderPermanent, "invalid api key"))

	f.orch.runBuild(b.ID)

	done, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusFailed, done.Status)
	assert.Equal(t, "clarification", done.FailedStage)
	assert.False(t, done.FailedAt.IsZero())
	// Failed is terminal, so the completion timestamp lands too.
	assert.Equal(t, done.FailedAt, done.CompletedAt)
	assert.Contains(t, done.ErrorMessage, "invalid api key")
	assert.Equal(t, types.StageStateFailed, done.StageStatuses["0"].State)

	// No retry burned on a permanent error.
	assert.Equal(t, 1, done.StageStatuses["0"].Attempts)
	require.NotEmpty(t, done.Errors)
	assert.True(t, done.Errors[len(done.Errors)-1].IsFinalFailure)
}

func TestRetryableExhaustionFailsBuild(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	// Stage budget 3 x router attempts 3.
	for i := 0; i < 9; i++ {
		f.mock.Enqueue("", errdefs.New(errdefs.KindProviderTransient, "upstream hiccup"))
	}

	f.orch.runBuild(b.ID)

	done, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusFailed, done.Status)
	assert.Equal(t, 3, done.StageStatuses["0"].Attempts)
	require.Len(t, done.Errors, 3)
	assert.False(t, done.Errors[0].IsFinalFailure)
	assert.False(t, done.Errors[1].IsFinalFailure)
	assert.True(t, done.Errors[2].IsFinalFailure)
}

func TestMissingInputFailsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	// Pretend clarification completed without leaving its output behind.
	b.StageStatuses["0"].State = types.StageStateCompleted
	b.CurrentStage = 1
	require.NoError(t, f.st.UpdateBuild(b))

	f.orch.runBuild(b.ID)

	done, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusFailed, done.Status)
	assert.Equal(t, "normalization", done.FailedStage)
	assert.Zero(t, done.StageStatuses["1"].Attempts)
	require.Len(t, done.Errors, 1)
	assert.Equal(t, string(errdefs.KindMissingInputArtifact), done.Errors[0].Kind)
	assert.True(t, done.Errors[0].IsFinalFailure)

	// The model was never consulted.
	assert.Empty(t, f.mock.Calls())
}

func TestCancelQueuedBuild(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	require.NoError(t, f.orch.Cancel(b.ID))

	done, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusCancelled, done.Status)

	// Terminal builds cannot be cancelled again.
	err = f.orch.Cancel(b.ID)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))

	// A cancelled-in-queue build is skipped when a worker reaches it.
	f.orch.runBuild(b.ID)
	done, err = f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusCancelled, done.Status)
}

func TestCancelRunningBuild(t *testing.T) {
	f := newFixture(t)
	// A long second backoff parks the worker between stage attempts.
	f.orch.cfg.Stages.Backoff = []time.Duration{0, time.Minute}
	b := f.submit(t)

	// Burn the router's budget so the first clarification attempt fails.
	for i := 0; i < 3; i++ {
		f.mock.Enqueue("", errdefs.New(errdefs.KindProviderTransient, "upstream hiccup"))
	}

	done := make(chan struct{})
	go func() {
		f.orch.runBuild(b.ID)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := f.st.GetBuild(b.ID)
		return err == nil && len(got.Errors) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.orch.Cancel(b.ID))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not observe the cancellation")
	}

	got, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusCancelled, got.Status)
	assert.False(t, got.CompletedAt.IsZero())
	assert.Equal(t, types.StageStateCancelled, got.StageStatuses["0"].State)
}

func TestRetryEventsCarryBackoffSchedule(t *testing.T) {
	f := newFixture(t)
	f.orch.cfg.Stages.Backoff = []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond}
	b := f.submit(t)

	// Two failed clarification attempts, then the unscripted default.
	for i := 0; i < 6; i++ {
		f.mock.Enqueue("", errdefs.New(errdefs.KindProviderTransient, "upstream hiccup"))
	}

	ch, cancel := f.bus.Subscribe(b.ID)
	defer cancel()

	f.orch.runBuild(b.ID)

	var retries []types.PhasePayload
	for ev := range ch {
		if ev.Type == types.EventPhase && ev.Phase.Phase == types.PhaseRetrying {
			retries = append(retries, *ev.Phase)
		}
	}

	// Each retry announcement carries its slot from the schedule.
	require.Len(t, retries, 2)
	assert.Equal(t, 2, retries[0].Attempt)
	assert.Equal(t, int64(500), retries[0].BackoffMs)
	assert.Equal(t, 3, retries[1].Attempt)
	assert.Equal(t, int64(1500), retries[1].BackoffMs)
}

func TestRetryClonesFailedBuild(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	f.mock.Enqueue("", errdefs.New(errdefs.KindProviderPermanent, "nope"))
	f.orch.runBuild(b.ID)

	clone, err := f.orch.Retry(b.ID)
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, clone.ID)
	assert.Equal(t, b.ID, clone.RetriedFrom)
	assert.Equal(t, types.BuildStatusQueued, clone.Status)
	assert.JSONEq(t, string(b.Spec), string(clone.Spec))

	// Only terminal failures are retryable.
	_, err = f.orch.Retry(clone.ID)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
}

func TestRetryStageResumesFromFailure(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	// Fail at normalization; clarification's output stays on disk.
	f.mock.Enqueue(`{"name":"todo"}`, nil)
	for i := 0; i < 9; i++ {
		f.mock.Enqueue("", errdefs.New(errdefs.KindProviderTransient, "upstream hiccup"))
	}
	f.orch.runBuild(b.ID)

	done, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	require.Equal(t, types.BuildStatusFailed, done.Status)
	require.Equal(t, "normalization", done.FailedStage)

	resumed, err := f.orch.RetryStage(b.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusQueued, resumed.Status)
	assert.Equal(t, types.StageStateCompleted, resumed.StageStatuses["0"].State)
	assert.Equal(t, types.StageStatePending, resumed.StageStatuses["1"].State)

	f.orch.runBuild(b.ID)

	done, err = f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusCompleted, done.Status)

	// Clarification did not run again.
	assert.Equal(t, 1, done.StageStatuses["0"].Attempts)
}

func TestRetryStageValidation(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	_, err := f.orch.RetryStage(b.ID, 1)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))

	f.mock.Enqueue("", errdefs.New(errdefs.KindProviderPermanent, "nope"))
	f.orch.runBuild(b.ID)

	_, err = f.orch.RetryStage(b.ID, types.StageKey(42))
	require.Error(t, err)
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))

	// Only the stage that actually failed can be re-executed.
	_, err = f.orch.RetryStage(b.ID, types.StageKey(1))
	require.Error(t, err)
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
}

func TestRetryStageRejectsCancelledBuild(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	require.NoError(t, f.orch.Cancel(b.ID))

	// A cancelled build has no failed stage to resume; the full retry
	// clone is the way back.
	_, err := f.orch.RetryStage(b.ID, types.StageKey(0))
	require.Error(t, err)
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))

	clone, err := f.orch.Retry(b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, clone.RetriedFrom)
}

func TestWorkerPoolRunsSubmittedBuilds(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.Start())
	defer f.orch.Stop()

	b := f.submit(t)

	require.Eventually(t, func() bool {
		got, err := f.st.GetBuild(b.ID)
		return err == nil && got.Status == types.BuildStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)
}

func TestRecoverRequeuesInterruptedBuilds(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	// Simulate a crash mid-run.
	b.Status = types.BuildStatusRunning
	b.StartedAt = time.Now().UTC()
	require.NoError(t, f.st.UpdateBuild(b))

	require.NoError(t, f.orch.Start())
	defer f.orch.Stop()

	require.Eventually(t, func() bool {
		got, err := f.st.GetBuild(b.ID)
		return err == nil && got.Status == types.BuildStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)
}

func TestDisabledStageFailsBuild(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	f.orch.disabledStages["1"] = true
	f.orch.runBuild(b.ID)

	done, err := f.st.GetBuild(b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.BuildStatusFailed, done.Status)
	assert.Equal(t, "normalization", done.FailedStage)
	assert.Contains(t, done.ErrorMessage, "disabled")
}

func TestProgressEventsReachSubscribers(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t)

	ch, cancel := f.bus.Subscribe(b.ID)
	defer cancel()

	f.orch.runBuild(b.ID)

	var phases, statuses int
	var sawComplete bool
	deadline := time.After(5 * time.Second)
	for !sawComplete {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed before terminal status")
			}
			switch ev.Type {
			case types.EventPhase:
				phases++
			case types.EventStatus:
				statuses++
				sawComplete = ev.Status.Status == types.BuildStatusCompleted
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal status event")
		}
	}

	// Twelve stages, at least started+completed each.
	assert.GreaterOrEqual(t, phases, 24)
	assert.GreaterOrEqual(t, statuses, 2)
}

package stage

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/artifact"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/provider"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/publish"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/ratelimit"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/router"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

func TestTableOrderingAndKeys(t *testing.T) {
	stages := Table()
	require.Len(t, stages, 12)

	// Strictly increasing keys with the sub-stages in between.
	for i := 1; i < len(stages); i++ {
		assert.Less(t, float64(stages[i-1].Key), float64(stages[i].Key))
	}

	keys := make([]string, 0, len(stages))
	for _, s := range stages {
		keys = append(keys, s.Key.String())
	}
	assert.Equal(t, []string{"0", "1", "1.5", "2", "3", "3.5", "4", "5", "6", "7", "8", "9"}, keys)
}

func TestTableWiring(t *testing.T) {
	handlers := Handlers()
	produced := map[string]bool{}

	for _, s := range Table() {
		// Every stage has a registered handler.
		_, ok := handlers[s.Handler]
		assert.True(t, ok, "stage %s has no handler", s.Name)

		// Every declared input was produced by an earlier stage.
		for _, in := range s.Inputs {
			assert.True(t, produced[in], "stage %s input %s not produced upstream", s.Name, in)
		}
		for _, out := range s.Outputs {
			produced[out] = true
		}

		// AI stages declare their roles; mechanical stages none.
		if s.RequiresAI {
			assert.NotEmpty(t, RolesFor(s.Handler), "AI stage %s has no roles", s.Name)
		} else {
			assert.Empty(t, RolesFor(s.Handler), "mechanical stage %s declares roles", s.Name)
		}
	}
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 8, Progress(0))
	assert.Equal(t, 100, Progress(9))
	assert.Equal(t, 0, Progress(types.StageKey(99)))

	prev := 0
	for _, s := range Table() {
		p := Progress(s.Key)
		assert.Greater(t, p, prev)
		prev = p
	}
}

func TestFind(t *testing.T) {
	s, ok := Find(types.StageKey(3.5))
	require.True(t, ok)
	assert.Equal(t, "structure_planning", s.Name)

	_, ok = Find(types.StageKey(42))
	assert.False(t, ok)
}

func TestRender(t *testing.T) {
	out := Render(RoleClarifier, map[string]string{"spec": "a todo app"})
	assert.Contains(t, out, "a todo app")
	assert.NotContains(t, out, "{{spec}}")

	// Unknown placeholders are left alone rather than erased.
	out = Render(RoleCodeGenerator, nil)
	assert.Contains(t, out, "{{instructions}}")
}

func TestParseStructure(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		expected []string
	}{
		{
			name:     "object entries",
			data:     `{"files":[{"path":"src/a.js","purpose":"x"},{"path":"src/b.js"}]}`,
			expected: []string{"src/a.js", "src/b.js"},
		},
		{
			name:     "plain path list",
			data:     `{"files":["src/a.js","src/b.js"]}`,
			expected: []string{"src/a.js", "src/b.js"},
		},
		{
			name:     "duplicates and empties dropped",
			data:     `{"files":[{"path":"a.js"},{"path":"a.js"},{"path":""}]}`,
			expected: []string{"a.js"},
		},
		{
			name:     "garbage falls back to baseline",
			data:     `not json at all`,
			expected: []string{"package.json", "src/index.js", "src/routes.js", "src/db.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseStructure([]byte(tt.data))
			var paths []string
			for _, f := range doc.Files {
				paths = append(paths, f.Path)
			}
			assert.Equal(t, tt.expected, paths)
		})
	}
}

// testEnv wires a full handler environment over the mock provider.
type testEnv struct {
	env  *Env
	mock *provider.MockAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	pricing := map[string]config.ModelPricing{"large": {InputPerMTok: 1, OutputPerMTok: 1}}
	mock := provider.NewMockAdapter("mock", pricing)

	roles := map[string]config.RoleConfig{}
	for _, handlerRoles := range rolesByHandler {
		for _, role := range handlerRoles {
			roles[role] = config.RoleConfig{Provider: "mock", Model: "large"}
		}
	}
	registry := provider.NewRegistry(roles)
	registry.Register(mock)
	registry.Validate()

	limits := ratelimit.NewManager(map[string]ratelimit.Settings{
		"mock": {MaxConcurrent: 4, BreakerThreshold: 100},
	})

	r := router.NewRouter(registry, limits, nil, nil, nil)

	return &testEnv{
		env: &Env{
			Artifacts: store,
			Router:    r,
			Hoster:    publish.NewLocalHoster(""),
			Deployer:  publish.NewLocalDeployer("", ""),
		},
		mock: mock,
	}
}

func testBuild() *types.Build {
	return &types.Build{
		ID:        "b1",
		TenantID:  "t1",
		ProjectID: "p1",
		UserID:    "u1",
		Spec:      []byte(`{"app":"todo","description":"a todo app"}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestClarificationWritesSpecs(t *testing.T) {
	te := newTestEnv(t)
	b := testBuild()
	te.mock.Enqueue(`{"name":"todo","features":["tasks"]}`, nil)

	require.NoError(t, clarification(context.Background(), te.env, b))

	var doc map[string]interface{}
	require.NoError(t, te.env.Artifacts.GetJSON(b.ID, ArtifactSpecs, &doc))
	assert.Equal(t, "todo", doc["name"])

	// The submitted spec reached the model.
	calls := te.mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Messages[0].Content, "a todo app")
}

func TestNormalizationRequiresInput(t *testing.T) {
	te := newTestEnv(t)
	b := testBuild()

	err := normalization(context.Background(), te.env, b)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindMissingInputArtifact, errdefs.KindOf(err))
}

func TestWriteJSONWrapsNonJSON(t *testing.T) {
	te := newTestEnv(t)

	require.NoError(t, te.env.writeJSON("b1", ArtifactSpecs, "plain prose answer"))

	var doc map[string]string
	require.NoError(t, te.env.Artifacts.GetJSON("b1", ArtifactSpecs, &doc))
	assert.Equal(t, "plain prose answer", doc["raw"])
}

func TestStructurePipeline(t *testing.T) {
	te := newTestEnv(t)
	b := testBuild()

	_, err := te.env.Artifacts.Put(b.ID, ArtifactClean, []byte(`{"name":"todo"}`))
	require.NoError(t, err)
	_, err = te.env.Artifacts.Put(b.ID, ArtifactSchema, []byte(`{"entities":{}}`))
	require.NoError(t, err)

	te.mock.Enqueue(`{"files":[{"path":"src/app.js","purpose":"entry"},{"path":"package.json"}]}`, nil)
	require.NoError(t, structurePlanning(context.Background(), te.env, b))

	var planned StructureDoc
	require.NoError(t, te.env.Artifacts.GetJSON(b.ID, ArtifactStructure, &planned))
	require.Len(t, planned.Files, 2)
	assert.False(t, planned.Validated)

	te.mock.Enqueue(`{"files":[{"path":"src/app.js"},{"path":"package.json"}],"validated":true}`, nil)
	require.NoError(t, structureValidation(context.Background(), te.env, b))

	var validated StructureDoc
	require.NoError(t, te.env.Artifacts.GetJSON(b.ID, ArtifactValidated, &validated))
	assert.True(t, validated.Validated)
	require.Len(t, validated.Files, 2)
}

func TestScaffoldingCreatesEmptyFiles(t *testing.T) {
	te := newTestEnv(t)
	b := testBuild()

	_, err := te.env.Artifacts.PutJSON(b.ID, ArtifactValidated, StructureDoc{
		Files:     []FileEntry{{Path: "src/app.js"}, {Path: "package.json"}},
		Validated: true,
	})
	require.NoError(t, err)

	require.NoError(t, scaffolding(context.Background(), te.env, b))

	assert.True(t, te.env.Artifacts.ExistsIn(types.CategoryCode, b.ID, "src/app.js"))
	assert.True(t, te.env.Artifacts.ExistsIn(types.CategoryCode, b.ID, "package.json"))

	// No model calls for the mechanical stage.
	assert.Empty(t, te.mock.Calls())
}

func TestCodePlanningFallsBackToStructure(t *testing.T) {
	te := newTestEnv(t)
	b := testBuild()

	_, err := te.env.Artifacts.Put(b.ID, ArtifactDocs, []byte("# Todo"))
	require.NoError(t, err)
	_, err = te.env.Artifacts.Put(b.ID, ArtifactSchema, []byte(`{"entities":{}}`))
	require.NoError(t, err)
	_, err = te.env.Artifacts.PutJSON(b.ID, ArtifactValidated, StructureDoc{
		Files: []FileEntry{{Path: "src/app.js", Purpose: "entry"}},
	})
	require.NoError(t, err)

	// Planner answers something unusable.
	te.mock.Enqueue(`{"mock":true}`, nil)
	require.NoError(t, codePlanning(context.Background(), te.env, b))

	var plan PlanDoc
	require.NoError(t, te.env.Artifacts.GetJSON(b.ID, ArtifactCodePlan, &plan))
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "src/app.js", plan.Units[0].Path)
	assert.Equal(t, "entry", plan.Units[0].Instructions)
}

func TestCodeGenerationWritesFiles(t *testing.T) {
	te := newTestEnv(t)
	b := testBuild()

	_, err := te.env.Artifacts.Put(b.ID, ArtifactClean, []byte(`{"name":"todo"}`))
	require.NoError(t, err)
	_, err = te.env.Artifacts.PutJSON(b.ID, ArtifactCodePlan, PlanDoc{
		Units: []PlanUnit{
			{Path: "src/app.js", Instructions: "entrypoint"},
			{Path: "src/db.js", Instructions: "storage"},
		},
	})
	require.NoError(t, err)
	_, err = te.env.Artifacts.PutJSON(b.ID, ArtifactValidated, StructureDoc{Validated: true,
		Files: []FileEntry{{Path: "src/app.js"}, {Path: "src/db.js"}}})
	require.NoError(t, err)

	require.NoError(t, codeGeneration(context.Background(), te.env, b))

	// Two units, two roles each: the brief and the file content are
	// requested independently per unit.
	calls := te.mock.Calls()
	assert.Len(t, calls, 4)

	var builders, generators int
	for _, c := range calls {
		prompt := c.Messages[len(c.Messages)-1].Content
		switch {
		case strings.Contains(prompt, "Compose a precise code generation instruction"):
			builders++
		case strings.Contains(prompt, "Generate the complete content"):
			generators++
		}
	}
	assert.Equal(t, 2, builders)
	assert.Equal(t, 2, generators)

	data, err := te.env.Artifacts.GetFrom(types.CategoryCode, b.ID, "src/app.js")
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// The builders' briefs compose into the generation notes.
	notes, err := te.env.Artifacts.Get(b.ID, ArtifactGenNotes)
	require.NoError(t, err)
	assert.Contains(t, string(notes), "## src/app.js")
	assert.Contains(t, string(notes), "## src/db.js")
}

func TestCodeGenerationPropagatesFailure(t *testing.T) {
	te := newTestEnv(t)
	b := testBuild()

	_, err := te.env.Artifacts.Put(b.ID, ArtifactClean, []byte(`{}`))
	require.NoError(t, err)
	_, err = te.env.Artifacts.PutJSON(b.ID, ArtifactCodePlan, PlanDoc{
		Units: []PlanUnit{{Path: "src/app.js"}},
	})
	require.NoError(t, err)
	_, err = te.env.Artifacts.PutJSON(b.ID, ArtifactValidated, StructureDoc{Validated: true,
		Files: []FileEntry{{Path: "src/app.js"}}})
	require.NoError(t, err)

	te.mock.Enqueue("", errdefs.New(errdefs.KindProviderPermanent, "401"))

	err = codeGeneration(context.Background(), te.env, b)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindProviderPermanent, errdefs.KindOf(err))
}

func TestPublicationAndDeployment(t *testing.T) {
	te := newTestEnv(t)
	b := testBuild()

	_, err := te.env.Artifacts.Put(b.ID, ArtifactClean, []byte(`{"name":"Todo App"}`))
	require.NoError(t, err)
	_, err = te.env.Artifacts.PutIn(types.CategoryCode, b.ID, "src/app.js", []byte("code"))
	require.NoError(t, err)
	_, err = te.env.Artifacts.PutIn(types.CategoryCode, b.ID, "package.json", []byte("{}"))
	require.NoError(t, err)

	require.NoError(t, repositoryPublication(context.Background(), te.env, b))

	var repo publish.Repository
	require.NoError(t, te.env.Artifacts.GetJSON(b.ID, ArtifactRepository, &repo))
	assert.Equal(t, "todo-app", repo.Name)
	assert.Equal(t, 2, repo.Files)

	require.NoError(t, cloudDeployment(context.Background(), te.env, b))

	var dep publish.Deployment
	require.NoError(t, te.env.Artifacts.GetJSON(b.ID, ArtifactDeployment, &dep))
	assert.Equal(t, "live", dep.Status)
	assert.Contains(t, dep.URL, "todo-app")
}

func TestPublicationWithoutCodeFails(t *testing.T) {
	te := newTestEnv(t)
	b := testBuild()

	_, err := te.env.Artifacts.Put(b.ID, ArtifactClean, []byte(`{"name":"todo"}`))
	require.NoError(t, err)

	err = repositoryPublication(context.Background(), te.env, b)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindValidation, errdefs.KindOf(err))
}

func TestStructureDocRoundTrip(t *testing.T) {
	doc := StructureDoc{Files: []FileEntry{{Path: "a.js", Purpose: "x"}}, Validated: true}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	parsed := parseStructure(data)
	assert.Equal(t, doc.Files, parsed.Files)
	assert.True(t, parsed.Validated)
}

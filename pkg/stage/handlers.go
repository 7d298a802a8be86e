package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/artifact"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/publish"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/router"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// codeGenParallelism bounds concurrent generation units in stage 7.
const codeGenParallelism = 2

const defaultTemperature = 0.2

// Env carries the shared services stage handlers run against.
type Env struct {
	Artifacts *artifact.Store
	Router    *router.Router
	Bus       busPublisher
	Hoster    publish.RepoHoster
	Deployer  publish.CloudDeployer
}

// busPublisher is the slice of the progress bus handlers use.
type busPublisher interface {
	PublishLog(buildID, line string)
}

// HandlerFunc executes one stage attempt for one build. Inputs have
// already passed preflight; outputs are written through Env.Artifacts.
type HandlerFunc func(ctx context.Context, env *Env, b *types.Build) error

// Handlers returns the handler table keyed by the names the stage table
// references.
func Handlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		HandlerClarification:   clarification,
		HandlerNormalization:   normalization,
		HandlerRefinement:      refinement,
		HandlerDocumentation:   documentation,
		HandlerSchema:          schemaGeneration,
		HandlerStructurePlan:   structurePlanning,
		HandlerStructureVerify: structureValidation,
		HandlerScaffolding:     scaffolding,
		HandlerCodePlan:        codePlanning,
		HandlerCodeGen:         codeGeneration,
		HandlerRepoPublish:     repositoryPublication,
		HandlerCloudDeploy:     cloudDeployment,
	}
}

// call routes one model call for a role on behalf of a build.
func (e *Env) call(ctx context.Context, b *types.Build, role, prompt string) (string, error) {
	res, err := e.Router.Call(ctx, router.Request{
		Role:        role,
		Messages:    []types.Message{{Role: "user", Content: prompt}},
		Temperature: defaultTemperature,
		Context: types.CallContext{
			TenantID:  b.TenantID,
			UserID:    b.UserID,
			ProjectID: b.ProjectID,
			BuildID:   b.ID,
			Role:      role,
		},
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (e *Env) logLine(buildID, line string) {
	if e.Bus != nil {
		e.Bus.PublishLog(buildID, line)
	}
}

// writeJSON persists model output under name, wrapping non-JSON output
// so downstream stages always read valid JSON.
func (e *Env) writeJSON(buildID, name, content string) error {
	data := []byte(content)
	if !json.Valid(data) {
		wrapped, err := json.Marshal(map[string]string{"raw": content})
		if err != nil {
			return errdefs.Wrap(errdefs.KindInternal, "failed to wrap model output", err)
		}
		data = wrapped
	}
	_, err := e.Artifacts.Put(buildID, name, data)
	return err
}

func clarification(ctx context.Context, env *Env, b *types.Build) error {
	prompt := Render(RoleClarifier, map[string]string{"spec": string(b.Spec)})
	content, err := env.call(ctx, b, RoleClarifier, prompt)
	if err != nil {
		return err
	}
	return env.writeJSON(b.ID, ArtifactSpecs, content)
}

func normalization(ctx context.Context, env *Env, b *types.Build) error {
	specs, err := env.Artifacts.Get(b.ID, ArtifactSpecs)
	if err != nil {
		return err
	}
	content, err := env.call(ctx, b, RoleNormalizer, Render(RoleNormalizer, map[string]string{"specs": string(specs)}))
	if err != nil {
		return err
	}
	return env.writeJSON(b.ID, ArtifactRefined, content)
}

func refinement(ctx context.Context, env *Env, b *types.Build) error {
	specs, err := env.Artifacts.Get(b.ID, ArtifactRefined)
	if err != nil {
		return err
	}
	content, err := env.call(ctx, b, RoleRefiner, Render(RoleRefiner, map[string]string{"specs": string(specs)}))
	if err != nil {
		return err
	}
	return env.writeJSON(b.ID, ArtifactClean, content)
}

func documentation(ctx context.Context, env *Env, b *types.Build) error {
	specs, err := env.Artifacts.Get(b.ID, ArtifactClean)
	if err != nil {
		return err
	}
	content, err := env.call(ctx, b, RoleDocumenter, Render(RoleDocumenter, map[string]string{"specs": string(specs)}))
	if err != nil {
		return err
	}
	_, err = env.Artifacts.Put(b.ID, ArtifactDocs, []byte(content))
	return err
}

func schemaGeneration(ctx context.Context, env *Env, b *types.Build) error {
	specs, err := env.Artifacts.Get(b.ID, ArtifactClean)
	if err != nil {
		return err
	}
	content, err := env.call(ctx, b, RoleSchemaDesigner, Render(RoleSchemaDesigner, map[string]string{"specs": string(specs)}))
	if err != nil {
		return err
	}
	return env.writeJSON(b.ID, ArtifactSchema, content)
}

// FileEntry is one planned file in the application layout.
type FileEntry struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose,omitempty"`
}

// StructureDoc is the canonical shape of the layout artifacts.
type StructureDoc struct {
	Files     []FileEntry `json:"files"`
	Validated bool        `json:"validated,omitempty"`
}

// baselineFiles is the layout used when the model output cannot be
// parsed into one. Keeps unscripted providers producing a runnable
// pipeline.
func baselineFiles() []FileEntry {
	return []FileEntry{
		{Path: "package.json", Purpose: "project manifest"},
		{Path: "src/index.js", Purpose: "application entrypoint"},
		{Path: "src/routes.js", Purpose: "http routes"},
		{Path: "src/db.js", Purpose: "storage layer"},
	}
}

// parseStructure accepts {"files":[{"path":...},...]} or a plain path
// list. An unparsable document yields the baseline layout.
func parseStructure(data []byte) StructureDoc {
	var doc StructureDoc
	if err := json.Unmarshal(data, &doc); err == nil && len(doc.Files) > 0 {
		return normalizeStructure(doc)
	}

	var alt struct {
		Files     []string `json:"files"`
		Validated bool     `json:"validated"`
	}
	if err := json.Unmarshal(data, &alt); err == nil && len(alt.Files) > 0 {
		doc = StructureDoc{Validated: alt.Validated}
		for _, p := range alt.Files {
			doc.Files = append(doc.Files, FileEntry{Path: p})
		}
		return normalizeStructure(doc)
	}

	return StructureDoc{Files: baselineFiles()}
}

// normalizeStructure drops duplicates and empty paths, keeping first
// occurrence order.
func normalizeStructure(doc StructureDoc) StructureDoc {
	seen := make(map[string]bool, len(doc.Files))
	out := doc.Files[:0]
	for _, f := range doc.Files {
		if f.Path == "" || seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		out = append(out, f)
	}
	doc.Files = out
	return doc
}

func structurePlanning(ctx context.Context, env *Env, b *types.Build) error {
	specs, err := env.Artifacts.Get(b.ID, ArtifactClean)
	if err != nil {
		return err
	}
	schema, err := env.Artifacts.Get(b.ID, ArtifactSchema)
	if err != nil {
		return err
	}

	content, err := env.call(ctx, b, RoleStructurePlanner, Render(RoleStructurePlanner, map[string]string{
		"specs":  string(specs),
		"schema": string(schema),
	}))
	if err != nil {
		return err
	}

	doc := parseStructure([]byte(content))
	doc.Validated = false
	_, err = env.Artifacts.PutJSON(b.ID, ArtifactStructure, doc)
	return err
}

func structureValidation(ctx context.Context, env *Env, b *types.Build) error {
	planned, err := env.Artifacts.Get(b.ID, ArtifactStructure)
	if err != nil {
		return err
	}
	schema, err := env.Artifacts.Get(b.ID, ArtifactSchema)
	if err != nil {
		return err
	}

	content, err := env.call(ctx, b, RoleStructureValidator, Render(RoleStructureValidator, map[string]string{
		"structure": string(planned),
		"schema":    string(schema),
	}))
	if err != nil {
		return err
	}

	doc := parseStructure([]byte(content))
	if len(doc.Files) == 0 {
		// Validator produced nothing usable; the planned layout stands.
		doc = parseStructure(planned)
	}
	doc.Validated = true
	_, err = env.Artifacts.PutJSON(b.ID, ArtifactValidated, doc)
	return err
}

// scaffolding creates an empty placeholder for every validated path so
// partial generation failures leave a coherent tree. No model calls.
func scaffolding(ctx context.Context, env *Env, b *types.Build) error {
	var doc StructureDoc
	if err := env.Artifacts.GetJSON(b.ID, ArtifactValidated, &doc); err != nil {
		return err
	}
	if len(doc.Files) == 0 {
		return errdefs.New(errdefs.KindValidation, "validated structure lists no files")
	}

	for _, f := range doc.Files {
		if err := ctx.Err(); err != nil {
			return errdefs.Wrap(errdefs.KindCancelled, "scaffolding cancelled", err)
		}
		if _, err := env.Artifacts.PutIn(types.CategoryCode, b.ID, f.Path, nil); err != nil {
			return err
		}
	}
	env.logLine(b.ID, fmt.Sprintf("scaffolded %d files", len(doc.Files)))
	return nil
}

// PlanUnit is one code generation unit.
type PlanUnit struct {
	Path         string `json:"path"`
	Instructions string `json:"instructions,omitempty"`
}

// PlanDoc is the canonical shape of the code plan artifact.
type PlanDoc struct {
	Units []PlanUnit `json:"units"`
}

func codePlanning(ctx context.Context, env *Env, b *types.Build) error {
	docs, err := env.Artifacts.Get(b.ID, ArtifactDocs)
	if err != nil {
		return err
	}
	schema, err := env.Artifacts.Get(b.ID, ArtifactSchema)
	if err != nil {
		return err
	}
	validated, err := env.Artifacts.Get(b.ID, ArtifactValidated)
	if err != nil {
		return err
	}

	content, err := env.call(ctx, b, RoleCodePlanner, Render(RoleCodePlanner, map[string]string{
		"docs":      string(docs),
		"schema":    string(schema),
		"structure": string(validated),
	}))
	if err != nil {
		return err
	}

	var plan PlanDoc
	if err := json.Unmarshal([]byte(content), &plan); err != nil || len(plan.Units) == 0 {
		// Fall back to one unit per validated file.
		structure := parseStructure(validated)
		plan.Units = plan.Units[:0]
		for _, f := range structure.Files {
			plan.Units = append(plan.Units, PlanUnit{Path: f.Path, Instructions: f.Purpose})
		}
	}

	_, err = env.Artifacts.PutJSON(b.ID, ArtifactCodePlan, plan)
	return err
}

// codeGeneration runs the plan's units through the prompt-builder and
// code-generator roles, a bounded number of units in flight at once.
// Per unit the two roles run in parallel and their results compose:
// the generator's output becomes the file, the builder's brief lands in
// the generation notes. Both calls must succeed for the unit to count.
// Completed files are persisted as they finish, so a failed attempt
// keeps its partial output.
func codeGeneration(ctx context.Context, env *Env, b *types.Build) error {
	var plan PlanDoc
	if err := env.Artifacts.GetJSON(b.ID, ArtifactCodePlan, &plan); err != nil {
		return err
	}
	if len(plan.Units) == 0 {
		return errdefs.New(errdefs.KindValidation, "code plan lists no units")
	}

	specs, err := env.Artifacts.Get(b.ID, ArtifactClean)
	if err != nil {
		return err
	}

	briefs := make([]string, len(plan.Units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(codeGenParallelism)

	for i, unit := range plan.Units {
		i, unit := i, unit
		g.Go(func() error {
			var brief, content string

			ug, uctx := errgroup.WithContext(gctx)
			ug.Go(func() error {
				out, err := env.call(uctx, b, RolePromptBuilder, Render(RolePromptBuilder, map[string]string{
					"file":    unit.Path,
					"purpose": unit.Instructions,
					"specs":   string(specs),
				}))
				if err != nil {
					return err
				}
				brief = out
				return nil
			})
			ug.Go(func() error {
				out, err := env.call(uctx, b, RoleCodeGenerator, Render(RoleCodeGenerator, map[string]string{
					"file":         unit.Path,
					"instructions": unit.Instructions,
				}))
				if err != nil {
					return err
				}
				content = out
				return nil
			})
			if err := ug.Wait(); err != nil {
				return err
			}

			if _, err := env.Artifacts.PutIn(types.CategoryCode, b.ID, unit.Path, []byte(content)); err != nil {
				return err
			}
			briefs[i] = "## " + unit.Path + "\n\n" + brief + "\n"
			env.logLine(b.ID, "generated "+unit.Path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	notes := "# Generation notes\n\n" + strings.Join(briefs, "\n")
	_, err = env.Artifacts.Put(b.ID, ArtifactGenNotes, []byte(notes))
	return err
}

// projectName extracts the refined spec's name, falling back to the
// build id.
func projectName(env *Env, b *types.Build) string {
	var doc struct {
		Name string `json:"name"`
	}
	if err := env.Artifacts.GetJSON(b.ID, ArtifactClean, &doc); err == nil && doc.Name != "" {
		return doc.Name
	}
	return "app-" + b.ID
}

func repositoryPublication(ctx context.Context, env *Env, b *types.Build) error {
	if env.Hoster == nil {
		return errdefs.New(errdefs.KindInternal, "no repository hoster configured")
	}

	refs, err := env.Artifacts.List(b.ID)
	if err != nil {
		return err
	}

	files := make(map[string][]byte)
	var paths []string
	for _, ref := range refs {
		if ref.Category != types.CategoryCode {
			continue
		}
		data, err := env.Artifacts.GetFrom(types.CategoryCode, b.ID, ref.Name)
		if err != nil {
			return err
		}
		files[ref.Name] = data
		paths = append(paths, ref.Name)
	}
	if len(files) == 0 {
		return errdefs.New(errdefs.KindValidation, "no generated code to publish")
	}
	sort.Strings(paths)

	repo, err := env.Hoster.Publish(ctx, publish.SlugifyRepoName(projectName(env, b)), files)
	if err != nil {
		return err
	}

	env.logLine(b.ID, "published "+repo.URL)
	_, err = env.Artifacts.PutJSON(b.ID, ArtifactRepository, repo)
	return err
}

func cloudDeployment(ctx context.Context, env *Env, b *types.Build) error {
	if env.Deployer == nil {
		return errdefs.New(errdefs.KindInternal, "no cloud deployer configured")
	}

	var repo publish.Repository
	if err := env.Artifacts.GetJSON(b.ID, ArtifactRepository, &repo); err != nil {
		return err
	}

	dep, err := env.Deployer.Deploy(ctx, &repo)
	if err != nil {
		return err
	}

	env.logLine(b.ID, "deployed "+dep.URL)
	_, err = env.Artifacts.PutJSON(b.ID, ArtifactDeployment, dep)
	return err
}

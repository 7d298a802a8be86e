/*
Package stage defines the pipeline's stage table and stage handlers.

A build moves through twelve ordered stages, from clarifying the raw
specification to deploying the generated application. This package owns
the declarative table describing each stage and the handler functions
that execute them against the model router, the artifact store and the
publish collaborators.

# Stage Table

	Key   Name                    Role(s)                Output
	0     clarification           clarifier              specs.json
	1     normalization           normalizer             specs_refined.json
	1.5   refinement              refiner                specs_clean.json
	2     documentation           documenter             docs.md
	3     schema_generation       schema-designer        schema.json
	3.5   structure_planning      structure-planner      file_structure.json
	4     structure_validation    structure-validator    validated_structure.json
	5     scaffolding             (none)                 empty code files
	6     code_planning           code-planner           code_plan.json
	7     code_generation         prompt-builder,        code files
	                              code-generator
	8     repository_publication  (none)                 repository.json
	9     cloud_deployment        (none)                 deployment.json

Keys are fractional so stages inserted later keep the historical numbering
of their neighbors. Each descriptor declares its input artifacts, output
artifacts, model roles and optional timeout and attempt overrides; the
orchestrator reads the table and never hardcodes stage order.

# Handlers

Handlers receive an Env carrying the artifact store, the model router, the
progress bus and the publish collaborators. AI-backed handlers render a
prompt template with the stage's input artifacts, route the call by role,
and write the response as the declared output. Code generation fans out
over the planned units with a bounded errgroup, two units in flight; per
unit it calls the prompt-builder and code-generator roles in parallel
and composes the pair, the generated content as the file and the brief
as generation notes.

Model output parsing is lenient: a response that is not the expected JSON
shape degrades to a documented fallback (a baseline file layout, a
one-unit plan) rather than failing the build on formatting.

# Progress

Handlers publish fine-grained phase events through Env.Bus so subscribers
see per-unit progress during long stages. The orchestrator publishes the
coarse stage transitions; handlers only add detail within a stage.
*/
package stage

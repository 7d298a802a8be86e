package stage

import "strings"

// Prompt templates per role. Placeholders use {{name}} and are filled
// by Render. System prompts pin the output contract; user prompts carry
// the upstream artifacts.

const (
	promptClarifier = `Analyze the following application specification and produce a
structured JSON document with keys "name", "description", "features",
"entities" and "open_questions". Resolve what you can; list genuine
ambiguities under open_questions. Respond with JSON only.

Specification:
{{spec}}`

	promptNormalizer = `Normalize the following clarified specification: deduplicate
features, give every entity a singular lower_snake_case name, and fill
in implied CRUD operations. Keep the same top-level keys. Respond with
JSON only.

{{specs}}`

	promptRefiner = `Refine the normalized specification for code generation: remove
open_questions by choosing sensible defaults, and add a "stack" key
describing the runtime, framework and storage choices. Respond with
JSON only.

{{specs}}`

	promptDocumenter = `Write developer documentation in Markdown for the application
described below: overview, feature list, data model and API surface.

{{specs}}`

	promptSchemaDesigner = `Design a JSON schema for the persistent entities of the
application below. Produce one top-level "entities" object mapping
entity names to their field definitions. Respond with JSON only.

{{specs}}`

	promptStructurePlanner = `Plan the file layout for the application below. Respond with
JSON only, shaped {"files": [{"path": "...", "purpose": "..."}]}.
Paths are relative, forward-slash separated.

Specification:
{{specs}}

Schema:
{{schema}}`

	promptStructureValidator = `Validate and correct the planned file layout below: drop
duplicates, fix path conventions, and add any file the specification
clearly needs. Respond with JSON only, shaped
{"files": [{"path": "...", "purpose": "..."}], "validated": true}.

Layout:
{{structure}}

Schema:
{{schema}}`

	promptCodePlanner = `Break the application below into code generation units. Respond
with JSON only, shaped {"units": [{"path": "...", "instructions": "..."}]},
one unit per file in the validated layout.

Documentation:
{{docs}}

Schema:
{{schema}}

Layout:
{{structure}}`

	promptPromptBuilder = `Compose a precise code generation instruction for the file below.
Include the relevant entities, routes and conventions. Respond with the
instruction text only.

File: {{file}}
Purpose: {{purpose}}

Specification:
{{specs}}`

	promptCodeGenerator = `Generate the complete content of the file described below.
Respond with the file content only, no fences and no commentary.

File: {{file}}

{{instructions}}`
)

// templates maps role to its prompt template.
var templates = map[string]string{
	RoleClarifier:          promptClarifier,
	RoleNormalizer:         promptNormalizer,
	RoleRefiner:            promptRefiner,
	RoleDocumenter:         promptDocumenter,
	RoleSchemaDesigner:     promptSchemaDesigner,
	RoleStructurePlanner:   promptStructurePlanner,
	RoleStructureValidator: promptStructureValidator,
	RoleCodePlanner:        promptCodePlanner,
	RolePromptBuilder:      promptPromptBuilder,
	RoleCodeGenerator:      promptCodeGenerator,
}

// Render fills {{name}} placeholders in the role's template.
func Render(role string, vars map[string]string) string {
	t := templates[role]
	for k, v := range vars {
		t = strings.ReplaceAll(t, "{{"+k+"}}", v)
	}
	return t
}

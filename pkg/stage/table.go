package stage

import (
	"sort"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// Artifact names produced along the pipeline. Categories are derived
// from the extension by the artifact store.
const (
	ArtifactSpecs      = "specs.json"
	ArtifactRefined    = "specs_refined.json"
	ArtifactClean      = "specs_clean.json"
	ArtifactDocs       = "docs.md"
	ArtifactSchema     = "schema.json"
	ArtifactStructure  = "file_structure.json"
	ArtifactValidated  = "validated_structure.json"
	ArtifactCodePlan   = "code_plan.json"
	ArtifactGenNotes   = "generation_notes.md"
	ArtifactRepository = "repository.json"
	ArtifactDeployment = "deployment.json"
)

// Handler names referenced by the stage table.
const (
	HandlerClarification   = "clarification"
	HandlerNormalization   = "normalization"
	HandlerRefinement      = "refinement"
	HandlerDocumentation   = "documentation"
	HandlerSchema          = "schema_generation"
	HandlerStructurePlan   = "structure_planning"
	HandlerStructureVerify = "structure_validation"
	HandlerScaffolding     = "scaffolding"
	HandlerCodePlan        = "code_planning"
	HandlerCodeGen         = "code_generation"
	HandlerRepoPublish     = "repository_publication"
	HandlerCloudDeploy     = "cloud_deployment"
)

// Roles used by the AI stages.
const (
	RoleClarifier          = "clarifier"
	RoleNormalizer         = "normalizer"
	RoleRefiner            = "refiner"
	RoleDocumenter         = "documenter"
	RoleSchemaDesigner     = "schema-designer"
	RoleStructurePlanner   = "structure-planner"
	RoleStructureValidator = "structure-validator"
	RoleCodePlanner        = "code-planner"
	RolePromptBuilder      = "prompt-builder"
	RoleCodeGenerator      = "code-generator"
)

// rolesByHandler maps each handler to the roles it calls. Used to
// disable stages whose roles cannot be resolved.
var rolesByHandler = map[string][]string{
	HandlerClarification:   {RoleClarifier},
	HandlerNormalization:   {RoleNormalizer},
	HandlerRefinement:      {RoleRefiner},
	HandlerDocumentation:   {RoleDocumenter},
	HandlerSchema:          {RoleSchemaDesigner},
	HandlerStructurePlan:   {RoleStructurePlanner},
	HandlerStructureVerify: {RoleStructureValidator},
	HandlerCodePlan:        {RoleCodePlanner},
	HandlerCodeGen:         {RolePromptBuilder, RoleCodeGenerator},
}

// RolesFor returns the AI roles a handler depends on.
func RolesFor(handler string) []string {
	return rolesByHandler[handler]
}

// Table returns the pipeline stage descriptors in execution order.
// Fractional keys are sub-stages inserted between their neighbours.
func Table() []types.StageDescriptor {
	stages := []types.StageDescriptor{
		{
			Key:        0,
			Name:       "clarification",
			Inputs:     nil, // works from the submitted spec
			Outputs:    []string{ArtifactSpecs},
			Handler:    HandlerClarification,
			RequiresAI: true,
		},
		{
			Key:        1,
			Name:       "normalization",
			Inputs:     []string{ArtifactSpecs},
			Outputs:    []string{ArtifactRefined},
			Handler:    HandlerNormalization,
			RequiresAI: true,
		},
		{
			Key:        1.5,
			Name:       "refinement",
			Inputs:     []string{ArtifactRefined},
			Outputs:    []string{ArtifactClean},
			Handler:    HandlerRefinement,
			RequiresAI: true,
		},
		{
			Key:        2,
			Name:       "documentation",
			Inputs:     []string{ArtifactClean},
			Outputs:    []string{ArtifactDocs},
			Handler:    HandlerDocumentation,
			RequiresAI: true,
		},
		{
			Key:        3,
			Name:       "schema_generation",
			Inputs:     []string{ArtifactClean},
			Outputs:    []string{ArtifactSchema},
			Handler:    HandlerSchema,
			RequiresAI: true,
		},
		{
			Key:        3.5,
			Name:       "structure_planning",
			Inputs:     []string{ArtifactClean, ArtifactSchema},
			Outputs:    []string{ArtifactStructure},
			Handler:    HandlerStructurePlan,
			RequiresAI: true,
		},
		{
			Key:        4,
			Name:       "structure_validation",
			Inputs:     []string{ArtifactStructure, ArtifactSchema},
			Outputs:    []string{ArtifactValidated},
			Handler:    HandlerStructureVerify,
			RequiresAI: true,
		},
		{
			Key:        5,
			Name:       "scaffolding",
			Inputs:     []string{ArtifactValidated},
			Outputs:    nil, // one empty file per planned path
			Handler:    HandlerScaffolding,
			RequiresAI: false,
		},
		{
			Key:        6,
			Name:       "code_planning",
			Inputs:     []string{ArtifactDocs, ArtifactSchema, ArtifactValidated},
			Outputs:    []string{ArtifactCodePlan},
			Handler:    HandlerCodePlan,
			RequiresAI: true,
		},
		{
			Key:        7,
			Name:       "code_generation",
			Inputs:     []string{ArtifactCodePlan, ArtifactValidated},
			Outputs:    nil, // generated code files
			Handler:    HandlerCodeGen,
			RequiresAI: true,
		},
		{
			Key:        8,
			Name:       "repository_publication",
			Inputs:     []string{ArtifactClean},
			Outputs:    []string{ArtifactRepository},
			Handler:    HandlerRepoPublish,
			RequiresAI: false,
		},
		{
			Key:        9,
			Name:       "cloud_deployment",
			Inputs:     []string{ArtifactRepository},
			Outputs:    []string{ArtifactDeployment},
			Handler:    HandlerCloudDeploy,
			RequiresAI: false,
		},
	}

	sort.Slice(stages, func(i, j int) bool { return stages[i].Key < stages[j].Key })
	return stages
}

// Progress maps a stage's position to a coarse completion percentage.
func Progress(key types.StageKey) int {
	stages := Table()
	for i, s := range stages {
		if s.Key == key {
			return (i + 1) * 100 / len(stages)
		}
	}
	return 0
}

// Find returns the descriptor for a stage key.
func Find(key types.StageKey) (types.StageDescriptor, bool) {
	for _, s := range Table() {
		if s.Key == key {
			return s, true
		}
	}
	return types.StageDescriptor{}, false
}

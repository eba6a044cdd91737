// Package plan decomposes a request into an ordered step plan and revises the
// unexecuted tail of that plan after every completed step.
package plan

// Step is one unit of work in a plan.
type Step struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	ExpectedOutput       string   `json:"expectedOutput"`
	ToolIDs              []string `json:"toolIds"`
	RequiresExternalData bool     `json:"requiresExternalData"`
	DependsOn            []string `json:"dependsOn"`
}

// StepPlan is an ordered, dependency-annotated decomposition of a request.
type StepPlan struct {
	Approach     string `json:"approach"`
	IsSimpleTask bool   `json:"isSimpleTask"`
	Steps        []Step `json:"steps"`
}

// StepResult is what the execution loop reports for a finished step.
type StepResult struct {
	Step             Step   `json:"step"`
	Success          bool   `json:"success"`
	Output           string `json:"output"`
	Escalated        bool   `json:"escalated"`
	EscalationReason string `json:"escalationReason,omitempty"`
}

// ReplanResult is the re-planner's verdict. When Changed is false the caller
// keeps the remaining steps it already has.
type ReplanResult struct {
	Changed        bool   `json:"changed"`
	Reasoning      string `json:"reasoning"`
	RemainingSteps []Step `json:"remainingSteps"`
}

// Tool is one catalog entry offered to the planner.
type Tool struct {
	ID             string   `json:"id" yaml:"id"`
	Description    string   `json:"description" yaml:"description"`
	RequiredParams []string `json:"requiredParams,omitempty" yaml:"required_params"`
}

// Skill is pre-fetched content describing a known workflow.
type Skill struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Intake is the upstream classification that precedes planning.
type Intake struct {
	DeviceID string
	// RecruitedToolIDs are tools suggested by the recruiter, best first.
	RecruitedToolIDs []string
	Skills           []Skill
}

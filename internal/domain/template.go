package domain

// Template is a resolved template document: a name, a set of declared
// input fields, and an ordered set of deployment steps. The core only
// consumes already-resolved templates; how they are authored is out of
// scope (they arrive as the seed package's built-ins for this repository).
type Template struct {
	ID          string
	Version     string
	Name        string
	Description string

	RequiredInputs []TemplateInputField
	Steps          []StepDefinition
}

// TemplateInputField describes one user-supplied input the template
// substitution step validates against.
type TemplateInputField struct {
	Name         string
	Required     bool
	DefaultValue string
}

// StepDefinition is one entry in a template's deployment DAG.
type StepDefinition struct {
	StepID      string
	StepName    string
	StepType    string // "container", "volume", "database"
	Order       int
	DependsOn   []string
	SpecTemplate map[string]any
	HealthCheck  *HealthCheckSpec
}

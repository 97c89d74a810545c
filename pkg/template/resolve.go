// Package template resolves a deployment template's step definitions
// against user-supplied inputs by flat string substitution over the
// serialized steps, the same ordering the original config resolver uses:
// substitute first, parse back to a struct second.
package template

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/domain"
)

// stepsDoc mirrors the shape serialized for substitution: only the steps,
// since {{...}} variables never appear outside spec_template bodies.
type stepsDoc struct {
	Steps []domain.StepDefinition `json:"steps"`
}

// Resolve validates userInputs against the template's required fields, then
// substitutes every {{name}} placeholder across the serialized step list
// with the matching user input or a synthetic application_id /
// application_id_short value, and parses the result back into step
// definitions.
func Resolve(tpl *domain.Template, userInputs map[string]any, applicationID uuid.UUID) ([]domain.StepDefinition, error) {
	if err := validateInputs(tpl, userInputs); err != nil {
		return nil, err
	}

	variables := make(map[string]string, len(userInputs)+2)
	variables["application_id"] = applicationID.String()
	variables["application_id_short"] = applicationID.String()[:8]
	for k, v := range userInputs {
		variables[k] = fmt.Sprintf("%v", v)
	}

	raw, err := json.Marshal(stepsDoc{Steps: tpl.Steps})
	if err != nil {
		return nil, fmt.Errorf("marshaling template steps: %w", err)
	}

	configStr := string(raw)
	for key, value := range variables {
		configStr = strings.ReplaceAll(configStr, "{{"+key+"}}", value)
	}

	var resolved stepsDoc
	if err := json.Unmarshal([]byte(configStr), &resolved); err != nil {
		return nil, fmt.Errorf("parsing resolved template: %w", err)
	}

	return resolved.Steps, nil
}

// validateInputs checks every required field is present, applying declared
// defaults for fields that are missing but not required.
func validateInputs(tpl *domain.Template, userInputs map[string]any) error {
	for _, field := range tpl.RequiredInputs {
		_, present := userInputs[field.Name]
		if present {
			continue
		}
		if field.Required {
			return apperrors.NewValidation("missing required template input %q", field.Name)
		}
		if field.DefaultValue != "" {
			userInputs[field.Name] = field.DefaultValue
		}
	}
	return nil
}

package template

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/domain"
)

func testTemplate() *domain.Template {
	return &domain.Template{
		ID:      "nginx",
		Version: "1",
		RequiredInputs: []domain.TemplateInputField{
			{Name: "domain", Required: true},
			{Name: "replicas", Required: false, DefaultValue: "1"},
		},
		Steps: []domain.StepDefinition{
			{
				StepID:   "deploy-nginx",
				StepType: "container",
				Order:    1,
				SpecTemplate: map[string]any{
					"name":           "nginx-{{application_id_short}}",
					"image":          "nginx:latest",
					"server_name":    "{{domain}}",
					"replica_count":  "{{replicas}}",
				},
			},
		},
	}
}

func TestResolveSubstitutesUserInputsAndAppID(t *testing.T) {
	appID := uuid.New()
	steps, err := Resolve(testTemplate(), map[string]any{"domain": "example.com"}, appID)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	spec := steps[0].SpecTemplate
	assert.Equal(t, "nginx-"+appID.String()[:8], spec["name"])
	assert.Equal(t, "example.com", spec["server_name"])
	assert.Equal(t, "1", spec["replica_count"]) // default applied
}

func TestResolveMissingRequiredInputIsValidationError(t *testing.T) {
	_, err := Resolve(testTemplate(), map[string]any{}, uuid.New())
	require.Error(t, err)
	var verr *apperrors.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestResolvePreservesStepOrderingMetadata(t *testing.T) {
	tpl := testTemplate()
	tpl.Steps = append(tpl.Steps, domain.StepDefinition{
		StepID: "create-volume", StepType: "volume", Order: 0, DependsOn: nil,
		SpecTemplate: map[string]any{"size_gb": 10},
	})
	steps, err := Resolve(tpl, map[string]any{"domain": "example.com"}, uuid.New())
	require.NoError(t, err)
	require.Len(t, steps, 2)

	byID := map[string]domain.StepDefinition{}
	for _, s := range steps {
		byID[s.StepID] = s
	}
	assert.Equal(t, 0, byID["create-volume"].Order)
	assert.Equal(t, 1, byID["deploy-nginx"].Order)
}

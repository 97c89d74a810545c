package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinsCoversNginxAndWordpress(t *testing.T) {
	templates := builtins()
	require.Len(t, templates, 2)

	ids := []string{templates[0].ID, templates[1].ID}
	assert.Contains(t, ids, "nginx")
	assert.Contains(t, ids, "wordpress")
}

func TestNginxTemplateHasSingleContainerStepWithHTTPProbe(t *testing.T) {
	tpl := nginxTemplate()
	require.Len(t, tpl.Steps, 1)

	step := tpl.Steps[0]
	assert.Equal(t, "container", step.StepType)
	require.NotNil(t, step.HealthCheck)
	assert.Equal(t, "http", step.HealthCheck.Type)
	assert.Equal(t, 80, step.HealthCheck.Port)
}

func TestWordpressTemplateStepOrderingAndDependencies(t *testing.T) {
	tpl := wordpressTemplate()
	require.Len(t, tpl.Steps, 3)

	byID := map[string]int{}
	for _, s := range tpl.Steps {
		byID[s.StepID] = s.Order
	}
	assert.Equal(t, 1, byID["create-volume"])
	assert.Equal(t, 2, byID["provision-database"])
	assert.Equal(t, 3, byID["deploy-wordpress"])

	var deployStep = tpl.Steps[2]
	assert.Equal(t, "deploy-wordpress", deployStep.StepID)
	assert.ElementsMatch(t, []string{"create-volume", "provision-database"}, deployStep.DependsOn)
}

func TestWordpressDatabaseStepHasTCPProbe(t *testing.T) {
	tpl := wordpressTemplate()
	var dbStep = tpl.Steps[1]
	require.NotNil(t, dbStep.HealthCheck)
	assert.Equal(t, "tcp", dbStep.HealthCheck.Type)
	assert.Equal(t, 3306, dbStep.HealthCheck.Port)
}

func TestWordpressRequiresDomainAndDBPassword(t *testing.T) {
	tpl := wordpressTemplate()
	required := map[string]bool{}
	for _, f := range tpl.RequiredInputs {
		required[f.Name] = f.Required
	}
	assert.True(t, required["domain"])
	assert.True(t, required["db_password"])
}

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fluxdeploy/dispatch/internal/domain"
)

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"512Mi", 512},
		{"1Gi", 1024},
		{"2Gi", 2048},
		{"1G", 1024},
		{"512M", 512},
		{"256", 256},
		{"not-a-quantity", 777}, // falls back
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseMemory(tc.in, 777), tc.in)
	}
}

func TestParseResourceRequestDefaults(t *testing.T) {
	cpu, memMB := parseResourceRequest(map[string]any{})
	assert.Equal(t, 0.5, cpu)
	assert.Equal(t, 512, memMB)
}

func TestParseResourceRequestOverrides(t *testing.T) {
	spec := map[string]any{
		"resources": map[string]any{
			"cpu":    float64(2),
			"memory": "1Gi",
		},
	}
	cpu, memMB := parseResourceRequest(spec)
	assert.Equal(t, 2.0, cpu)
	assert.Equal(t, 1024, memMB)
}

func TestResourceSpecFoldsInHealthCheck(t *testing.T) {
	step := domain.StepDefinition{
		SpecTemplate: map[string]any{"name": "web", "image": "nginx"},
		HealthCheck: &domain.HealthCheckSpec{
			Type: "http", Path: "/", Port: 80,
		},
	}
	spec := resourceSpec(step)
	assert.Equal(t, "web", spec["name"])
	assert.Equal(t, "nginx", spec["image"])

	hc, ok := spec["health_check"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "http", hc["type"])
	assert.Equal(t, "/", hc["path"])
	assert.Equal(t, 80, hc["port"])
}

func TestResourceSpecWithoutHealthCheck(t *testing.T) {
	step := domain.StepDefinition{SpecTemplate: map[string]any{"name": "db"}}
	spec := resourceSpec(step)
	_, hasHealthCheck := spec["health_check"]
	assert.False(t, hasHealthCheck)
}

func TestSortStepsByOrder(t *testing.T) {
	steps := []domain.StepDefinition{
		{StepID: "c", Order: 2},
		{StepID: "a", Order: 0},
		{StepID: "b", Order: 1},
	}
	sortStepsByOrder(steps)
	assert.Equal(t, []string{"a", "b", "c"}, []string{steps[0].StepID, steps[1].StepID, steps[2].StepID})
}

func TestContainerStepSpecValidation(t *testing.T) {
	valid := containerStepSpec{Name: "web", Image: "nginx", Runtime: "docker", CPU: 0.5, MemMB: 512}
	assert.NoError(t, validate.Struct(valid))

	missingImage := containerStepSpec{Name: "web", Runtime: "docker", CPU: 0.5, MemMB: 512}
	assert.Error(t, validate.Struct(missingImage))

	zeroCPU := containerStepSpec{Name: "web", Image: "nginx", Runtime: "docker", CPU: 0, MemMB: 512}
	assert.Error(t, validate.Struct(zeroCPU))

	badRuntime := containerStepSpec{Name: "web", Image: "nginx", Runtime: "firecracker", CPU: 0.5, MemMB: 512}
	assert.Error(t, validate.Struct(badRuntime))
}

// Package orchestrator turns a resolved deployment template into queued
// executions: it walks the step list in order, selects a placement node for
// every container step, and creates the execution and deployed-resource
// rows that let the executor and status updater take it from there. It
// never waits for an execution to finish; that loop belongs to the status
// updater.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/domain"
	"github.com/fluxdeploy/dispatch/pkg/deployments"
	"github.com/fluxdeploy/dispatch/pkg/execstore"
	"github.com/fluxdeploy/dispatch/pkg/nodes"
	"github.com/fluxdeploy/dispatch/pkg/resources"
	"github.com/fluxdeploy/dispatch/pkg/template"
)

const claimNudgeChannel = "dispatch:execution:queued"

// validate is a package-level, concurrency-safe validator instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// containerStepSpec is the subset of a resolved container step's spec the
// orchestrator requires to be well-formed before it ever selects a node or
// creates an execution row.
type containerStepSpec struct {
	Name    string  `validate:"required"`
	Image   string  `validate:"required"`
	Runtime string  `validate:"required,oneof=docker"`
	CPU     float64 `validate:"gt=0"`
	MemMB   int     `validate:"gt=0"`
}

// Orchestrator coordinates multi-step application deployments.
type Orchestrator struct {
	templates   *template.Store
	deployments *deployments.DeploymentStore
	apps        *deployments.ApplicationStore
	executions  *execstore.Store
	resources   *resources.Store
	selector    *nodes.Selector
	nodes       *nodes.Store
	rdb         *redis.Client
}

// New creates an Orchestrator. rdb may be nil; the claim nudge then becomes
// a no-op and executors fall back to their own poll interval.
func New(
	templates *template.Store,
	deploymentStore *deployments.DeploymentStore,
	appStore *deployments.ApplicationStore,
	executions *execstore.Store,
	resourceStore *resources.Store,
	selector *nodes.Selector,
	nodeStore *nodes.Store,
	rdb *redis.Client,
) *Orchestrator {
	return &Orchestrator{
		templates:   templates,
		deployments: deploymentStore,
		apps:        appStore,
		executions:  executions,
		resources:   resourceStore,
		selector:    selector,
		nodes:       nodeStore,
		rdb:         rdb,
	}
}

// CreateApplication validates user inputs against the template and creates
// an application row. The caller is expected to call StartDeployment next.
func (o *Orchestrator) CreateApplication(ctx context.Context, tenantID uuid.UUID, templateID string, userInputs map[string]any) (*domain.Application, error) {
	tpl, err := o.templates.GetLatest(ctx, templateID)
	if err != nil {
		return nil, apperrors.NewValidation("template %q not found: %v", templateID, err)
	}
	if _, err := template.Resolve(tpl, userInputs, uuid.Nil); err != nil {
		return nil, err
	}
	return o.apps.Create(ctx, deployments.ApplicationCreateParams{
		TenantID:   tenantID,
		TemplateID: tpl.ID,
		UserInputs: userInputs,
	})
}

// StartDeployment resolves the application's template against its inputs,
// creates a deployment row, walks the step DAG to create executions, and
// returns immediately: it never blocks on execution completion.
func (o *Orchestrator) StartDeployment(ctx context.Context, applicationID uuid.UUID) (*domain.Deployment, error) {
	app, err := o.apps.Get(ctx, applicationID)
	if err != nil {
		return nil, apperrors.NewValidation("application %s not found: %v", applicationID, err)
	}

	tpl, err := o.templates.GetLatest(ctx, app.TemplateID)
	if err != nil {
		return nil, apperrors.NewValidation("template %q not found: %v", app.TemplateID, err)
	}

	steps, err := template.Resolve(tpl, app.UserInputs, app.ID)
	if err != nil {
		return nil, err
	}

	dep, err := o.deployments.Create(ctx, deployments.DeploymentCreateParams{
		ApplicationID:   app.ID,
		TenantID:        app.TenantID,
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		ResolvedConfig:  map[string]any{"steps": stepsToAny(steps)},
		TotalSteps:      len(steps),
	})
	if err != nil {
		return nil, fmt.Errorf("creating deployment: %w", err)
	}

	if err := o.apps.SetCurrentDeployment(ctx, app.ID, dep.ID); err != nil {
		return nil, fmt.Errorf("setting current deployment: %w", err)
	}
	if err := o.deployments.MarkDeploying(ctx, dep.ID); err != nil {
		return nil, fmt.Errorf("marking deployment deploying: %w", err)
	}

	if err := o.runSteps(ctx, dep, steps); err != nil {
		_ = o.deployments.Fail(ctx, dep.ID, fmt.Sprintf("orchestration error: %v", err))
		return nil, err
	}

	return dep, nil
}

// runSteps walks the template's steps in declared order. A step_type of
// "volume" or "database" is provisioned synchronously and stubbed (no
// runtime agent call exists for either yet); "container" steps create a
// queued execution and a pending deployed-resource row.
func (o *Orchestrator) runSteps(ctx context.Context, dep *domain.Deployment, steps []domain.StepDefinition) error {
	ordered := make([]domain.StepDefinition, len(steps))
	copy(ordered, steps)
	sortStepsByOrder(ordered)

	for _, step := range ordered {
		switch step.StepType {
		case "volume", "database":
			// Provisioning stub: no runtime agent call is defined for either
			// kind yet, so the step is considered complete on creation.
			continue
		case "container":
			if err := o.runContainerStep(ctx, dep, step); err != nil {
				return fmt.Errorf("step %s: %w", step.StepID, err)
			}
		default:
			return apperrors.NewValidation("unknown step type %q", step.StepType)
		}
	}
	return nil
}

func (o *Orchestrator) runContainerStep(ctx context.Context, dep *domain.Deployment, step domain.StepDefinition) error {
	name, _ := step.SpecTemplate["name"].(string)
	image, _ := step.SpecTemplate["image"].(string)
	cpu, memMB := parseResourceRequest(step.SpecTemplate)

	spec := containerStepSpec{Name: name, Image: image, Runtime: "docker", CPU: cpu, MemMB: memMB}
	if err := validate.Struct(spec); err != nil {
		return apperrors.NewValidation("container step %q: %v", step.StepID, err)
	}

	node, err := o.selector.Select(ctx, "docker", cpu, memMB, 1024)
	if err != nil {
		return err
	}

	resource, err := o.resources.Create(ctx, resources.CreateParams{
		DeploymentID: dep.ID,
		Type:         domain.ResourceContainer,
		NodeID:       node.ID,
		Name:         name,
		Spec:         resourceSpec(step),
	})
	if err != nil {
		return fmt.Errorf("creating deployed resource: %w", err)
	}

	execSpec := map[string]any{
		"node_agent_url": node.RuntimeAgentURL,
		"container_name": name,
		"image":          image,
		"cpu_limit":      cpu,
		"memory_mb_limit": memMB,
	}
	for k, v := range step.SpecTemplate {
		if _, exists := execSpec[k]; !exists {
			execSpec[k] = v
		}
	}

	exec, err := o.executions.Create(ctx, execstore.CreateParams{
		TenantID:         dep.TenantID,
		ApplicationID:    dep.ApplicationID,
		DeploymentID:     uuid.NullUUID{UUID: dep.ID, Valid: true},
		StepID:           step.StepID,
		ExecutionType:    "deploy",
		TargetResourceID: uuid.NullUUID{UUID: resource.ID, Valid: true},
		RuntimeType:      "docker",
		Spec:             execSpec,
	})
	if err != nil {
		return fmt.Errorf("creating execution: %w", err)
	}

	if err := o.executions.Enqueue(ctx, exec.ID); err != nil {
		return fmt.Errorf("enqueuing execution: %w", err)
	}

	if err := o.nodes.ReserveCapacity(ctx, node.ID, cpu, memMB, 1024); err != nil {
		return fmt.Errorf("reserving node capacity: %w", err)
	}

	if o.rdb != nil {
		o.rdb.Publish(ctx, claimNudgeChannel, exec.ID.String())
	}

	return nil
}

// resourceSpec carries the step's template spec onto the deployed-resource
// row, with the step's health_check definition folded in under the
// "health_check" key so the health monitor's probe builder can read it back
// off the resource without needing the originating template.
func resourceSpec(step domain.StepDefinition) map[string]any {
	spec := make(map[string]any, len(step.SpecTemplate)+1)
	for k, v := range step.SpecTemplate {
		spec[k] = v
	}
	if step.HealthCheck != nil {
		spec["health_check"] = map[string]any{
			"type":    step.HealthCheck.Type,
			"path":    step.HealthCheck.Path,
			"port":    step.HealthCheck.Port,
			"command": step.HealthCheck.Command,
		}
	}
	return spec
}

// parseResourceRequest extracts cpu (float, default 0.5) and memory (MB,
// default 512) from a step's resources sub-object.
func parseResourceRequest(spec map[string]any) (cpu float64, memMB int) {
	cpu = 0.5
	memMB = 512

	res, _ := spec["resources"].(map[string]any)
	if res == nil {
		return cpu, memMB
	}
	if v, ok := res["cpu"]; ok {
		cpu = toFloat(v, cpu)
	}
	if v, ok := res["memory"]; ok {
		if s, ok := v.(string); ok {
			memMB = parseMemory(s, memMB)
		}
	}
	return cpu, memMB
}

func toFloat(v any, fallback float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return fallback
		}
		return f
	default:
		return fallback
	}
}

// parseMemory converts a Kubernetes-style quantity ("512Mi", "1Gi", "1G",
// "512M", or a bare number) to megabytes.
func parseMemory(s string, fallback int) int {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "Gi"):
		return quantityToInt(s, "Gi", 1024, fallback)
	case strings.HasSuffix(s, "Mi"):
		return quantityToInt(s, "Mi", 1, fallback)
	case strings.HasSuffix(s, "G"):
		return quantityToInt(s, "G", 1024, fallback)
	case strings.HasSuffix(s, "M"):
		return quantityToInt(s, "M", 1, fallback)
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return fallback
		}
		return n
	}
}

func quantityToInt(s, suffix string, multiplier int, fallback int) int {
	n, err := strconv.ParseFloat(strings.TrimSuffix(s, suffix), 64)
	if err != nil {
		return fallback
	}
	return int(n * float64(multiplier))
}

func sortStepsByOrder(steps []domain.StepDefinition) {
	for i := 1; i < len(steps); i++ {
		for j := i; j > 0 && steps[j].Order < steps[j-1].Order; j-- {
			steps[j], steps[j-1] = steps[j-1], steps[j]
		}
	}
}

func stepsToAny(steps []domain.StepDefinition) []map[string]any {
	out := make([]map[string]any, len(steps))
	for i, s := range steps {
		out[i] = map[string]any{
			"step_id":       s.StepID,
			"step_name":     s.StepName,
			"step_type":     s.StepType,
			"order":         s.Order,
			"depends_on":    s.DependsOn,
			"spec_template": s.SpecTemplate,
		}
	}
	return out
}

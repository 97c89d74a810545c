// Package seed installs the built-in application templates this core ships
// with: nginx and wordpress. Seeding is idempotent — it upserts by
// (template_id, version) so re-running it on every process start is safe.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fluxdeploy/dispatch/internal/domain"
	"github.com/fluxdeploy/dispatch/pkg/template"
)

// Run upserts every built-in template into store.
func Run(ctx context.Context, store *template.Store, logger *slog.Logger) error {
	for _, t := range builtins() {
		if err := store.Upsert(ctx, t); err != nil {
			return fmt.Errorf("seeding template %s@%s: %w", t.ID, t.Version, err)
		}
		logger.Info("seeded template", "template_id", t.ID, "version", t.Version)
	}
	return nil
}

func builtins() []*domain.Template {
	return []*domain.Template{nginxTemplate(), wordpressTemplate()}
}

func nginxTemplate() *domain.Template {
	return &domain.Template{
		ID:          "nginx",
		Version:     "1.0",
		Name:        "Nginx Web Server",
		Description: "Lightweight web server for serving static content",
		RequiredInputs: []domain.TemplateInputField{
			{Name: "nginx_version", Required: false, DefaultValue: "alpine"},
			{Name: "exposed_port", Required: false, DefaultValue: "8080"},
			{Name: "cpu_limit", Required: false, DefaultValue: "0.5"},
			{Name: "memory_limit", Required: false, DefaultValue: "512Mi"},
		},
		Steps: []domain.StepDefinition{
			{
				StepID:    "deploy-nginx",
				StepName:  "Deploy Nginx Container",
				StepType:  "container",
				Order:     1,
				DependsOn: []string{},
				SpecTemplate: map[string]any{
					"image": "nginx:{{nginx_version}}",
					"name":  "nginx-{{application_id_short}}",
					"ports": map[string]any{"80/tcp": "{{exposed_port}}"},
					"env":   map[string]any{},
					"resources": map[string]any{
						"cpu":    "{{cpu_limit}}",
						"memory": "{{memory_limit}}",
					},
					"restart_policy": "always",
					"labels": map[string]any{
						"app":            "nginx",
						"application_id": "{{application_id}}",
					},
				},
				HealthCheck: &domain.HealthCheckSpec{
					Type:                "http",
					Path:                "/",
					Port:                80,
					IntervalSeconds:     10,
					TimeoutSeconds:      5,
					Retries:             3,
					InitialDelaySeconds: 5,
				},
			},
		},
	}
}

func wordpressTemplate() *domain.Template {
	return &domain.Template{
		ID:          "wordpress",
		Version:     "6.4",
		Name:        "WordPress",
		Description: "The world's most popular CMS platform for blogs and websites",
		RequiredInputs: []domain.TemplateInputField{
			{Name: "domain", Required: true},
			{Name: "db_host", Required: true, DefaultValue: "mysql-server.local"},
			{Name: "db_password", Required: true},
			{Name: "db_storage_size", Required: false, DefaultValue: "10"},
			{Name: "wordpress_version", Required: false, DefaultValue: "latest"},
			{Name: "cpu_limit", Required: false, DefaultValue: "1"},
			{Name: "memory_limit", Required: false, DefaultValue: "1Gi"},
			{Name: "exposed_port", Required: false, DefaultValue: "8080"},
		},
		Steps: []domain.StepDefinition{
			{
				StepID:    "create-volume",
				StepName:  "Create Persistent Volume",
				StepType:  "volume",
				Order:     1,
				DependsOn: []string{},
				SpecTemplate: map[string]any{
					"volume_name": "wp-data-{{application_id_short}}",
					"driver":      "local",
					"labels": map[string]any{
						"application_id": "{{application_id}}",
						"app":            "wordpress",
					},
				},
			},
			{
				StepID:    "provision-database",
				StepName:  "Provision MySQL Database",
				StepType:  "database",
				Order:     2,
				DependsOn: []string{},
				SpecTemplate: map[string]any{
					"db_type":      "mysql",
					"db_name":      "wp_{{application_id_short}}",
					"db_user":      "wp_user_{{application_id_short}}",
					"storage_size": "{{db_storage_size}}",
				},
				HealthCheck: &domain.HealthCheckSpec{
					Type:                "tcp",
					Port:                3306,
					IntervalSeconds:     5,
					TimeoutSeconds:      3,
					Retries:             10,
					InitialDelaySeconds: 10,
				},
			},
			{
				StepID:    "deploy-wordpress",
				StepName:  "Deploy WordPress Container",
				StepType:  "container",
				Order:     3,
				DependsOn: []string{"create-volume", "provision-database"},
				SpecTemplate: map[string]any{
					"image": "wordpress:{{wordpress_version}}",
					"name":  "wordpress-{{application_id_short}}",
					"ports": map[string]any{"80/tcp": "{{exposed_port}}"},
					"env": map[string]any{
						"WORDPRESS_DB_HOST":     "{{db_host}}:3306",
						"WORDPRESS_DB_NAME":     "wp_{{application_id_short}}",
						"WORDPRESS_DB_USER":     "wp_user_{{application_id_short}}",
						"WORDPRESS_DB_PASSWORD": "{{db_password}}",
					},
					"volumes": []any{"wp-data-{{application_id_short}}:/var/www/html"},
					"resources": map[string]any{
						"cpu":    "{{cpu_limit}}",
						"memory": "{{memory_limit}}",
					},
					"restart_policy": "always",
				},
				HealthCheck: &domain.HealthCheckSpec{
					Type:                "http",
					Path:                "/wp-admin/install.php",
					Port:                80,
					IntervalSeconds:     10,
					TimeoutSeconds:      5,
					Retries:             10,
					InitialDelaySeconds: 30,
				},
			},
		},
	}
}

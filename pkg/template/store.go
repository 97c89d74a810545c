package template

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fluxdeploy/dispatch/internal/db"
	"github.com/fluxdeploy/dispatch/internal/domain"
)

// Store provides database operations for templates.
type Store struct {
	q    *db.Queries
	dbtx db.DBTX
}

// NewStore creates a template Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{q: db.New(dbtx), dbtx: dbtx}
}

const templateColumns = `template_id, version, name, description, required_inputs, steps`

func scanTemplate(row pgx.Row) (*domain.Template, error) {
	var t domain.Template
	var inputs, steps []byte
	err := row.Scan(&t.ID, &t.Version, &t.Name, &t.Description, &inputs, &steps)
	if err != nil {
		return nil, err
	}
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &t.RequiredInputs); err != nil {
			return nil, fmt.Errorf("unmarshaling required inputs: %w", err)
		}
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &t.Steps); err != nil {
			return nil, fmt.Errorf("unmarshaling steps: %w", err)
		}
	}
	return &t, nil
}

// Upsert inserts or replaces a template version, used by the seed package to
// install built-in templates idempotently.
func (s *Store) Upsert(ctx context.Context, t *domain.Template) error {
	inputsJSON, err := json.Marshal(t.RequiredInputs)
	if err != nil {
		return fmt.Errorf("marshaling required inputs: %w", err)
	}
	stepsJSON, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("marshaling steps: %w", err)
	}
	query := `INSERT INTO templates (template_id, version, name, description, required_inputs, steps)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (template_id, version) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			required_inputs = EXCLUDED.required_inputs,
			steps = EXCLUDED.steps`
	_, err = s.dbtx.Exec(ctx, query, t.ID, t.Version, t.Name, t.Description, inputsJSON, stepsJSON)
	if err != nil {
		return fmt.Errorf("upserting template: %w", err)
	}
	return nil
}

// GetLatest returns the most recently created version of templateID.
func (s *Store) GetLatest(ctx context.Context, templateID string) (*domain.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates
		WHERE template_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanTemplate(s.dbtx.QueryRow(ctx, query, templateID))
}

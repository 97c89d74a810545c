package nodes

import (
	"context"

	"github.com/fluxdeploy/dispatch/internal/apperrors"
	"github.com/fluxdeploy/dispatch/internal/domain"
)

// Selector chooses a placement target for a container step.
type Selector struct {
	store *Store
}

// NewSelector creates a Selector backed by store.
func NewSelector(store *Store) *Selector {
	return &Selector{store: store}
}

// Select returns the least-loaded node (by active container count, since
// ListAvailable is already ordered that way) that supports runtime and has
// room for the requested resources. The first candidate that fits wins.
func (sel *Selector) Select(ctx context.Context, runtime string, cpu float64, memMB, storageMB int) (*domain.InfrastructureNode, error) {
	candidates, err := sel.store.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range candidates {
		if !n.SupportsRuntime(runtime) {
			continue
		}
		if !n.CanAccommodate(cpu, memMB, storageMB) {
			continue
		}
		return n, nil
	}
	return nil, apperrors.NewTransient("no suitable node", nil)
}

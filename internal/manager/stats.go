package manager

import (
	"context"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// Stats is the operator snapshot of the tree population.
type Stats struct {
	StateCounts []tree.TreeStateCount        `json:"state_counts"`
	Trees       []tree.TreeMessageCountStats `json:"trees"`
}

// TreeManagerStats reports tree counts per state and a per-tree summary of
// the active population.
func (m *TreeManager) TreeManagerStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := m.runner.View(ctx, func(s tree.Store) error {
		counts, err := s.TreeStates().CountsByState(ctx)
		if err != nil {
			return err
		}
		trees, err := s.Queries().TreeMessageStats(ctx)
		if err != nil {
			return err
		}
		stats.StateCounts = counts
		stats.Trees = trees
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

package manager

import (
	"context"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/log"
)

// EnsureTreeStates repairs trees that lost their state row and replays the
// advancement checks over every tree that may have stalled. Safe to run at
// startup and periodically.
func (m *TreeManager) EnsureTreeStates(ctx context.Context) error {
	return m.runner.InTx(ctx, func(s tree.Store) error {
		missing, err := s.TreeStates().MissingTreeStates(ctx)
		if err != nil {
			return err
		}
		for _, treeID := range missing {
			msgs, err := s.Messages().TreeMessages(ctx, treeID, false)
			if err != nil {
				return err
			}
			state := tree.StateInitialPromptReview
			if len(msgs) > 1 {
				state = tree.StateGrowing
			}
			ts := m.defaultTreeState(treeID, state)
			if err := s.TreeStates().Insert(ctx, ts); err != nil {
				return err
			}
			log.Warn(log.CatManager, "Restored missing tree state",
				"tree_id", treeID, "state", state, "messages", len(msgs))
		}

		reviewTrees, err := s.TreeStates().TreesByState(ctx, []tree.State{tree.StateInitialPromptReview}, true)
		if err != nil {
			return err
		}
		for _, treeID := range reviewTrees {
			if err := m.checkGrowing(ctx, s, treeID); err != nil {
				return err
			}
		}

		growingTrees, err := s.TreeStates().TreesByState(ctx, []tree.State{tree.StateGrowing}, true)
		if err != nil {
			return err
		}
		for _, treeID := range growingTrees {
			if err := m.checkRanking(ctx, s, treeID); err != nil {
				return err
			}
		}

		rankingTrees, err := s.TreeStates().TreesByState(ctx,
			[]tree.State{tree.StateRanking, tree.StateReadyForScoring}, true)
		if err != nil {
			return err
		}
		for _, treeID := range rankingTrees {
			if err := m.checkScoring(ctx, s, treeID); err != nil {
				return err
			}
		}
		return nil
	})
}

// RetryScoringFailed gives trees parked in scoring_failed another consensus
// attempt. Trees that still fail return to active ranking so more rankings
// can come in.
func (m *TreeManager) RetryScoringFailed(ctx context.Context) error {
	return m.runner.InTx(ctx, func(s tree.Store) error {
		failed, err := s.TreeStates().TreesByState(ctx, []tree.State{tree.StateScoringFailed}, false)
		if err != nil {
			return err
		}
		for _, treeID := range failed {
			ts, err := s.TreeStates().ByTreeID(ctx, treeID)
			if err != nil {
				return err
			}
			if err := m.enterState(ctx, s, ts, tree.StateReadyForScoring); err != nil {
				return err
			}
			if err := m.checkScoring(ctx, s, treeID); err != nil {
				return err
			}
			ts, err = s.TreeStates().ByTreeID(ctx, treeID)
			if err != nil {
				return err
			}
			if ts.State == tree.StateScoringFailed || ts.State == tree.StateReadyForScoring {
				log.Warn(log.CatState, "Scoring retry failed, returning tree to ranking", "tree_id", treeID)
				if err := s.TreeStates().SetState(ctx, treeID, tree.StateRanking, true); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

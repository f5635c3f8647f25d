package manager

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/log"
	"github.com/arborworks/arbor/internal/ranking"
	"github.com/arborworks/arbor/internal/tracing"
)

// enterState moves the tree to target and records the transition. Terminal
// targets deactivate the tree and may promote a backlog tree in the same
// language.
func (m *TreeManager) enterState(ctx context.Context, s tree.Store, ts *tree.TreeState, target tree.State) error {
	_, span := m.tracer.Start(ctx, tracing.SpanPrefixState+"enter",
		trace.WithAttributes(
			attribute.String(tracing.AttrTreeID, ts.MessageTreeID.String()),
			attribute.String(tracing.AttrTreeStateFrom, ts.State.String()),
			attribute.String(tracing.AttrTreeStateTo, target.String()),
		))
	defer span.End()

	wasActive := ts.Active
	active := ts.Active
	if target.IsTerminal() {
		active = false
	}
	if err := s.TreeStates().SetState(ctx, ts.MessageTreeID, target, active); err != nil {
		return err
	}
	treeID := ts.MessageTreeID
	if err := s.Journal().Record(ctx, "state_change", &treeID, nil, nil,
		ts.State.String()+" -> "+target.String()); err != nil {
		return err
	}
	log.Info(log.CatState, "Tree state changed",
		"tree_id", ts.MessageTreeID, "from", ts.State, "to", target, "active", active)
	span.AddEvent(tracing.EventStateChanged)

	prev := ts.State
	ts.State = target
	ts.Active = active

	if target.IsTerminal() && wasActive && prev != target {
		root, err := s.Messages().Root(ctx, ts.MessageTreeID)
		if err != nil && !errors.Is(err, tree.ErrMessageNotFound) {
			return err
		}
		if root != nil {
			return m.maybeActivateBacklog(ctx, s, root.Lang)
		}
	}
	return nil
}

// checkGrowing advances a tree out of initial prompt review once the root
// passed its quality gate. Idempotent.
func (m *TreeManager) checkGrowing(ctx context.Context, s tree.Store, treeID uuid.UUID) error {
	ts, err := s.TreeStates().ByTreeID(ctx, treeID)
	if err != nil {
		return err
	}
	if ts.State != tree.StateInitialPromptReview {
		return nil
	}
	root, err := s.Messages().Root(ctx, treeID)
	if err != nil {
		return err
	}
	if !root.ReviewResult {
		return nil
	}
	return m.enterState(ctx, s, ts, tree.StateGrowing)
}

// checkRanking advances a growing tree into ranking once it reached its goal
// size with no messages still under review. Idempotent.
func (m *TreeManager) checkRanking(ctx context.Context, s tree.Store, treeID uuid.UUID) error {
	ts, err := s.TreeStates().ByTreeID(ctx, treeID)
	if err != nil {
		return err
	}
	if ts.State != tree.StateGrowing {
		return nil
	}
	size, err := s.Queries().TreeSize(ctx, treeID)
	if err != nil {
		return err
	}
	if size.RemainingMessages() > 0 || size.AwaitingReview > 0 {
		return nil
	}
	return m.enterState(ctx, s, ts, tree.StateRanking)
}

// checkScoring advances a ranking tree once every reply group has its ranking
// quorum, then computes and applies consensus. A tree with no rankable groups
// (for example a linear chain) passes the quorum check vacuously and exports
// without ranks. A consensus failure parks the tree in scoring_failed instead
// of surfacing the error. Idempotent.
func (m *TreeManager) checkScoring(ctx context.Context, s tree.Store, treeID uuid.UUID) error {
	ts, err := s.TreeStates().ByTreeID(ctx, treeID)
	if err != nil {
		return err
	}
	if ts.State != tree.StateRanking && ts.State != tree.StateReadyForScoring {
		return nil
	}

	groups, err := m.rankableGroups(ctx, s, treeID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.ChildMinRankingCount < m.cfg.NumRequiredRankings {
			return nil
		}
	}

	if ts.State == tree.StateRanking {
		if err := m.enterState(ctx, s, ts, tree.StateReadyForScoring); err != nil {
			return err
		}
	}
	return m.scoreTree(ctx, s, ts, groups)
}

// rankableGroups lists the reply groups consensus runs on: assistant groups
// always, prompter groups when the feature is enabled.
func (m *TreeManager) rankableGroups(ctx context.Context, s tree.Store, treeID uuid.UUID) ([]tree.IncompleteRanking, error) {
	groups, err := s.Queries().RankingGroups(ctx, treeID, tree.RoleAssistant)
	if err != nil {
		return nil, err
	}
	if m.cfg.RankPrompterReplies {
		prompter, err := s.Queries().RankingGroups(ctx, treeID, tree.RolePrompter)
		if err != nil {
			return nil, err
		}
		groups = append(groups, prompter...)
	}
	return groups, nil
}

// scoreTree computes ranked-pairs consensus for every group and assigns the
// resulting ranks. Any consensus error moves the tree to scoring_failed.
func (m *TreeManager) scoreTree(ctx context.Context, s tree.Store, ts *tree.TreeState, groups []tree.IncompleteRanking) error {
	for _, g := range groups {
		if err := m.scoreGroup(ctx, s, g.ParentID); err != nil {
			if errors.Is(err, ranking.ErrMalformedBallot) || errors.Is(err, ranking.ErrNoBallots) {
				log.ErrorErr(log.CatState, "Consensus failed", err,
					"tree_id", ts.MessageTreeID, "parent_id", g.ParentID)
				return m.enterState(ctx, s, ts, tree.StateScoringFailed)
			}
			return err
		}
	}
	return m.enterState(ctx, s, ts, tree.StateReadyForExport)
}

// scoreGroup applies consensus below one parent: null every sibling rank,
// then write the consensus positions over the common candidate set.
func (m *TreeManager) scoreGroup(ctx context.Context, s tree.Store, parentID uuid.UUID) error {
	reactions, err := s.Reactions().RankingsByParent(ctx, parentID)
	if err != nil {
		return err
	}
	ballots := make([][]uuid.UUID, len(reactions))
	for i, r := range reactions {
		ballots[i] = r.RankedMessageIDs
	}
	if len(ballots) == 0 {
		return ranking.ErrNoBallots
	}

	common := ranking.Common(ballots)
	if len(common) < 2 {
		return nil
	}
	consensus, err := ranking.RankedPairs(ranking.Restrict(ballots, common))
	if err != nil {
		return err
	}

	if err := s.Messages().ClearRanks(ctx, parentID); err != nil {
		return err
	}
	for i, id := range consensus {
		if err := s.Messages().SetRank(ctx, id, i); err != nil {
			return err
		}
	}
	return s.Journal().Record(ctx, "consensus_computed", nil, &parentID, nil, "")
}

// enterLowGrade aborts a tree whose root failed review.
func (m *TreeManager) enterLowGrade(ctx context.Context, s tree.Store, treeID uuid.UUID) error {
	ts, err := s.TreeStates().ByTreeID(ctx, treeID)
	if err != nil {
		return err
	}
	if ts.State.IsTerminal() {
		return nil
	}
	return m.enterState(ctx, s, ts, tree.StateAbortedLowGrade)
}

// HaltTree stops a tree on moderator request. Terminal trees are left alone.
func (m *TreeManager) HaltTree(ctx context.Context, treeID uuid.UUID) error {
	return m.runner.InTx(ctx, func(s tree.Store) error {
		ts, err := s.TreeStates().ByTreeID(ctx, treeID)
		if err != nil {
			return err
		}
		if ts.State.IsTerminal() {
			return tree.ErrTreeTerminal
		}
		return m.enterState(ctx, s, ts, tree.StateHaltedByModerator)
	})
}

// maybeActivateBacklog promotes parked trees when an active slot frees up:
// with p_activate_backlog_tree one tree, plus another while the language's
// incomplete-ranking supply sits below min_active_rankings_per_lang.
func (m *TreeManager) maybeActivateBacklog(ctx context.Context, s tree.Store, lang string) error {
	if m.float64() < m.cfg.PActivateBacklogTree {
		if err := m.activateBacklogTree(ctx, s, lang); err != nil {
			return err
		}
	}
	if m.cfg.MinActiveRankingsPerLang > 0 {
		incomplete, err := s.Queries().IncompleteRankingCount(ctx, tree.RoleAssistant, lang, m.cfg.NumRequiredRankings)
		if err != nil {
			return err
		}
		if m.cfg.RankPrompterReplies {
			prompter, err := s.Queries().IncompleteRankingCount(ctx, tree.RolePrompter, lang, m.cfg.NumRequiredRankings)
			if err != nil {
				return err
			}
			incomplete += prompter
		}
		if incomplete < m.cfg.MinActiveRankingsPerLang {
			return m.activateBacklogTree(ctx, s, lang)
		}
	}
	return nil
}

// activateBacklogTree moves one parked tree of the language into ranking.
// Trees with nothing rankable are aborted instead and the next candidate is
// tried.
func (m *TreeManager) activateBacklogTree(ctx context.Context, s tree.Store, lang string) error {
	candidates, err := s.TreeStates().TreesByState(ctx, []tree.State{tree.StateBacklogRanking}, false)
	if err != nil {
		return err
	}
	for _, treeID := range candidates {
		root, err := s.Messages().Root(ctx, treeID)
		if err != nil {
			return err
		}
		if root.Lang != lang {
			continue
		}
		ts, err := s.TreeStates().ByTreeID(ctx, treeID)
		if err != nil {
			return err
		}
		groups, err := m.rankableGroups(ctx, s, treeID)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			if err := m.enterState(ctx, s, ts, tree.StateAbortedLowGrade); err != nil {
				return err
			}
			continue
		}
		ts.Active = true
		if err := m.enterState(ctx, s, ts, tree.StateRanking); err != nil {
			return err
		}
		tid := treeID
		if err := s.Journal().Record(ctx, "backlog_activated", &tid, nil, nil, lang); err != nil {
			return err
		}
		log.Info(log.CatState, "Backlog tree activated", "tree_id", treeID, "lang", lang)
		return nil
	}
	return nil
}

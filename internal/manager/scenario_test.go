package manager

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arborworks/arbor/internal/config"
	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/testutil"
)

// TestTreeLifecycle drives one tree from the initial prompt all the way to
// export using only the public dispatch and interaction API.
func TestTreeLifecycle(t *testing.T) {
	m, db := newTestManager(t, func(cfg *config.TreeManagerConfig) {
		cfg.GoalTreeSize = 3
		cfg.MaxTreeDepth = 2
		cfg.MaxChildrenCount = 2
		cfg.NumReviewsInitialPrompt = 1
		cfg.NumReviewsReply = 1
		cfg.NumRequiredRankings = 2
	})
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")
	bob := testutil.NewUser(t, db, "bob")

	// Alice seeds a prompt.
	d, err := m.NextTask(ctx, alice, tree.TaskInitialPrompt, "en")
	require.NoError(t, err)
	root, err := m.HandleTextReply(ctx, tree.TextReply{
		TaskID: d.ID, UserID: alice, Text: "explain goroutines", Lang: "en",
	})
	require.NoError(t, err)
	treeID := root.MessageTreeID
	require.Equal(t, tree.StateInitialPromptReview, treeState(t, db, treeID).State)

	// Bob approves it.
	d, err = m.NextTask(ctx, bob, tree.TaskLabelInitialPrompt, "en")
	require.NoError(t, err)
	require.Equal(t, root.ID, *d.MessageID)
	require.NoError(t, m.HandleTextLabels(ctx, tree.TextLabels{
		TaskID: d.ID, UserID: bob, MessageID: root.ID, Labels: cleanLabels(),
	}))
	require.Equal(t, tree.StateGrowing, treeState(t, db, treeID).State)

	// Two reviewed assistant answers fill the tree to its goal size.
	grow := func(author, reviewer uuid.UUID, text string) uuid.UUID {
		d, err := m.NextTask(ctx, author, tree.TaskAssistantReply, "en")
		require.NoError(t, err)
		require.Equal(t, root.ID, *d.ReplyParentID)
		msg, err := m.HandleTextReply(ctx, tree.TextReply{
			TaskID: d.ID, UserID: author, ParentID: d.ReplyParentID, Text: text, Lang: "en",
		})
		require.NoError(t, err)

		d, err = m.NextTask(ctx, reviewer, tree.TaskLabelAssistantReply, "en")
		require.NoError(t, err)
		require.Equal(t, msg.ID, *d.MessageID)
		require.NoError(t, m.HandleTextLabels(ctx, tree.TextLabels{
			TaskID: d.ID, UserID: reviewer, MessageID: msg.ID, Labels: cleanLabels(),
		}))
		return msg.ID
	}
	first := grow(bob, alice, "use the go keyword")
	require.Equal(t, tree.StateGrowing, treeState(t, db, treeID).State)
	second := grow(alice, bob, "they are green threads")
	require.Equal(t, tree.StateRanking, treeState(t, db, treeID).State)

	// Two rankings reach the quorum and trigger scoring.
	for _, ranker := range []uuid.UUID{alice, bob} {
		d, err = m.NextTask(ctx, ranker, tree.TaskRankAssistantReplies, "en")
		require.NoError(t, err)
		require.Equal(t, root.ID, *d.RankingParentID)
		require.ElementsMatch(t, []uuid.UUID{first, second}, d.ReplyMessageIDs)
		require.NoError(t, m.HandleRanking(ctx, tree.Ranking{
			TaskID: d.ID, UserID: ranker, RankedMessageIDs: []uuid.UUID{second, first},
		}))
	}

	ts := treeState(t, db, treeID)
	require.Equal(t, tree.StateReadyForExport, ts.State)
	require.False(t, ts.Active)

	require.NotNil(t, message(t, db, second).Rank)
	require.NotNil(t, message(t, db, first).Rank)
	require.Equal(t, 0, *message(t, db, second).Rank)
	require.Equal(t, 1, *message(t, db, first).Rank)
}

// TestBacklogActivation checks that finishing a tree promotes a parked
// backlog tree of the same language into active ranking.
func TestBacklogActivation(t *testing.T) {
	m, db := newTestManager(t, func(cfg *config.TreeManagerConfig) {
		cfg.NumRequiredRankings = 1
		cfg.PActivateBacklogTree = 1
	})
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")
	ranker := testutil.NewUser(t, db, "ranker")

	parked := testutil.NewTree(t, db, alice, testutil.WithState(tree.StateBacklogRanking, false))
	parked.Reply(parked.RootID, "parked a")
	parked.Reply(parked.RootID, "parked b")

	active := testutil.NewTree(t, db, alice, testutil.WithState(tree.StateRanking, true))
	c1 := active.Reply(active.RootID, "a")
	c2 := active.Reply(active.RootID, "b")

	rootID := active.RootID
	activeTreeID := active.TreeID
	taskID := testutil.NewTask(t, db, ranker, string(tree.TaskRankAssistantReplies), &rootID, &activeTreeID)
	require.NoError(t, m.HandleRanking(ctx, tree.Ranking{
		TaskID: taskID, UserID: ranker, RankedMessageIDs: []uuid.UUID{c1, c2},
	}))

	require.Equal(t, tree.StateReadyForExport, treeState(t, db, active.TreeID).State)

	promoted := treeState(t, db, parked.TreeID)
	require.Equal(t, tree.StateRanking, promoted.State)
	require.True(t, promoted.Active)
}

// TestBacklogActivation_AbortsEmptyTrees checks that a parked tree with
// nothing to rank is aborted and the next candidate promoted instead.
func TestBacklogActivation_AbortsEmptyTrees(t *testing.T) {
	m, db := newTestManager(t, func(cfg *config.TreeManagerConfig) {
		cfg.NumRequiredRankings = 1
		cfg.PActivateBacklogTree = 1
	})
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")

	// One parked tree has only a single reply, so there is no sibling group
	// to rank.
	empty := testutil.NewTree(t, db, alice, testutil.WithState(tree.StateBacklogRanking, false))
	empty.Reply(empty.RootID, "only answer")

	rankable := testutil.NewTree(t, db, alice, testutil.WithState(tree.StateBacklogRanking, false))
	rankable.Reply(rankable.RootID, "a")
	rankable.Reply(rankable.RootID, "b")

	doomed := testutil.NewTree(t, db, alice)
	require.NoError(t, m.HaltTree(ctx, doomed.TreeID))

	// Whichever candidate order the store yields, the tree without a sibling
	// group can never be the one promoted.
	rankableState := treeState(t, db, rankable.TreeID)
	require.Equal(t, tree.StateRanking, rankableState.State)
	require.True(t, rankableState.Active)

	emptyState := treeState(t, db, empty.TreeID)
	require.Contains(t,
		[]tree.State{tree.StateBacklogRanking, tree.StateAbortedLowGrade}, emptyState.State)
	require.False(t, emptyState.Active)
}

// TestBacklogTopUp_LowRankingSupply checks that a language running low on
// incomplete rankings pulls a parked tree in even when the probabilistic
// promotion stays cold.
func TestBacklogTopUp_LowRankingSupply(t *testing.T) {
	m, db := newTestManager(t, func(cfg *config.TreeManagerConfig) {
		cfg.NumRequiredRankings = 1
		cfg.PActivateBacklogTree = 0
		cfg.MinActiveRankingsPerLang = 1
	})
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")

	parked := testutil.NewTree(t, db, alice, testutil.WithState(tree.StateBacklogRanking, false))
	parked.Reply(parked.RootID, "parked a")
	parked.Reply(parked.RootID, "parked b")

	doomed := testutil.NewTree(t, db, alice)
	require.NoError(t, m.HaltTree(ctx, doomed.TreeID))

	promoted := treeState(t, db, parked.TreeID)
	require.Equal(t, tree.StateRanking, promoted.State)
	require.True(t, promoted.Active)
}

// TestBacklogTopUp_SufficientSupply is the counterpart: with enough rankings
// still incomplete, the parked tree stays parked.
func TestBacklogTopUp_SufficientSupply(t *testing.T) {
	m, db := newTestManager(t, func(cfg *config.TreeManagerConfig) {
		cfg.NumRequiredRankings = 1
		cfg.PActivateBacklogTree = 0
		cfg.MinActiveRankingsPerLang = 1
	})
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")

	busy := testutil.NewTree(t, db, alice, testutil.WithState(tree.StateRanking, true))
	busy.Reply(busy.RootID, "a")
	busy.Reply(busy.RootID, "b")

	parked := testutil.NewTree(t, db, alice, testutil.WithState(tree.StateBacklogRanking, false))
	parked.Reply(parked.RootID, "parked a")
	parked.Reply(parked.RootID, "parked b")

	doomed := testutil.NewTree(t, db, alice)
	require.NoError(t, m.HaltTree(ctx, doomed.TreeID))

	ts := treeState(t, db, parked.TreeID)
	require.Equal(t, tree.StateBacklogRanking, ts.State)
	require.False(t, ts.Active)
}

// TestScoringFailureAndRecovery covers a malformed ballot parking the tree in
// scoring_failed, the retry returning it to ranking, and moderation purging
// the offending ballot so the next maintenance pass exports it.
func TestScoringFailureAndRecovery(t *testing.T) {
	m, db := newTestManager(t, func(cfg *config.TreeManagerConfig) {
		cfg.NumRequiredRankings = 2
	})
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")
	bob := testutil.NewUser(t, db, "bob")
	carol := testutil.NewUser(t, db, "carol")

	b := testutil.NewTree(t, db, alice, testutil.WithState(tree.StateRanking, true))
	c1 := b.Reply(b.RootID, "a")
	c2 := b.Reply(b.RootID, "b")
	rootID := b.RootID
	treeID := b.TreeID

	bobTask := testutil.NewTask(t, db, bob, string(tree.TaskRankAssistantReplies), &rootID, &treeID)
	require.NoError(t, m.HandleRanking(ctx, tree.Ranking{
		TaskID: bobTask, UserID: bob, RankedMessageIDs: []uuid.UUID{c1, c2},
	}))
	require.Equal(t, tree.StateRanking, treeState(t, db, treeID).State)

	// Carol's ballot lists a reply twice; consensus cannot run.
	carolTask := testutil.NewTask(t, db, carol, string(tree.TaskRankAssistantReplies), &rootID, &treeID)
	require.NoError(t, m.HandleRanking(ctx, tree.Ranking{
		TaskID: carolTask, UserID: carol, RankedMessageIDs: []uuid.UUID{c1, c2, c2},
	}))
	require.Equal(t, tree.StateScoringFailed, treeState(t, db, treeID).State)

	// The retry cannot do better with the same ballots and reopens ranking.
	require.NoError(t, m.RetryScoringFailed(ctx))
	ts := treeState(t, db, treeID)
	require.Equal(t, tree.StateRanking, ts.State)
	require.True(t, ts.Active)

	// Purging the offender removes the bad ballot; the maintenance pass then
	// scores the tree from the remaining one.
	require.NoError(t, m.PurgeUser(ctx, carol, false))
	require.NoError(t, m.EnsureTreeStates(ctx))

	ts = treeState(t, db, treeID)
	require.Equal(t, tree.StateReadyForExport, ts.State)
	require.Equal(t, 0, *message(t, db, c1).Rank)
	require.Equal(t, 1, *message(t, db, c2).Rank)

	_, err := m.TaskAvailability(ctx, carol, "en")
	require.ErrorIs(t, err, tree.ErrUserDisabled)
}

// TestAuthorsNeverReviewThemselves asserts the dispatcher refuses labeling
// tasks on a worker's own messages.
func TestAuthorsNeverReviewThemselves(t *testing.T) {
	m, db := newTestManager(t, nil)
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")

	testutil.NewTree(t, db, alice,
		testutil.WithState(tree.StateInitialPromptReview, true), testutil.WithPendingRoot())

	_, err := m.NextTask(ctx, alice, tree.TaskLabelInitialPrompt, "en")
	require.ErrorIs(t, err, tree.ErrTaskUnavailable)
}

// TestSelfLabelingDebugOverride asserts the debug switch lifts the
// self-review exclusion.
func TestSelfLabelingDebugOverride(t *testing.T) {
	m, db := newTestManager(t, nil, WithDebug(config.DebugConfig{AllowSelfLabeling: true}))
	ctx := context.Background()
	alice := testutil.NewUser(t, db, "alice")

	b := testutil.NewTree(t, db, alice,
		testutil.WithState(tree.StateInitialPromptReview, true), testutil.WithPendingRoot())

	task, err := m.NextTask(ctx, alice, tree.TaskLabelInitialPrompt, "en")
	require.NoError(t, err)
	require.NotNil(t, task.MessageID)
	require.Equal(t, b.RootID, *task.MessageID)
}

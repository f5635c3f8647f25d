package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// setupStore opens an in-memory database and returns its store.
func setupStore(t *testing.T) tree.Store {
	t.Helper()
	db, err := NewMemoryDB()
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })
	return db.Store()
}

// seedTree inserts a state row plus an accepted root prompt and returns the
// root. The tree id doubles as the root's message id.
func seedTree(t *testing.T, s tree.Store, state tree.State, active bool, lang string) *tree.Message {
	t.Helper()
	ctx := context.Background()
	treeID := uuid.New()
	require.NoError(t, s.TreeStates().Insert(ctx, &tree.TreeState{
		MessageTreeID:    treeID,
		State:            state,
		Active:           active,
		GoalTreeSize:     12,
		MaxDepth:         3,
		MaxChildrenCount: 3,
	}))
	root := &tree.Message{
		ID:            treeID,
		MessageTreeID: treeID,
		UserID:        uuid.New(),
		Role:          tree.RolePrompter,
		Text:          "root prompt",
		Lang:          lang,
		ReviewResult:  state != tree.StateInitialPromptReview,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, s.Messages().Insert(ctx, root))
	return root
}

// seedReply inserts an accepted reply below the parent.
func seedReply(t *testing.T, s tree.Store, parent *tree.Message, role tree.Role, userID uuid.UUID) *tree.Message {
	t.Helper()
	parentID := parent.ID
	reply := &tree.Message{
		ID:            uuid.New(),
		ParentID:      &parentID,
		MessageTreeID: parent.MessageTreeID,
		UserID:        userID,
		Role:          role,
		Text:          "reply text",
		Lang:          parent.Lang,
		Depth:         parent.Depth + 1,
		ReviewResult:  true,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, s.Messages().Insert(context.Background(), reply))
	return reply
}

func TestMessageRepository_InsertAndByID(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateGrowing, true, "en")
	found, err := s.Messages().ByID(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, found.ID)
	require.Equal(t, tree.RolePrompter, found.Role)
	require.True(t, found.IsRoot())
	require.WithinDuration(t, root.CreatedAt, found.CreatedAt, time.Second)
}

func TestMessageRepository_ByID_NotFound(t *testing.T) {
	s := setupStore(t)

	_, err := s.Messages().ByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, tree.ErrMessageNotFound)
}

func TestMessageRepository_Thread(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateGrowing, true, "en")
	reply := seedReply(t, s, root, tree.RoleAssistant, uuid.New())
	leaf := seedReply(t, s, reply, tree.RolePrompter, uuid.New())
	// A sibling branch must not appear in the thread.
	seedReply(t, s, root, tree.RoleAssistant, uuid.New())

	thread, err := s.Messages().Thread(ctx, leaf.ID)
	require.NoError(t, err)
	require.Len(t, thread, 3)
	require.Equal(t, root.ID, thread[0].ID, "thread should start at the root")
	require.Equal(t, reply.ID, thread[1].ID)
	require.Equal(t, leaf.ID, thread[2].ID)
}

func TestMessageRepository_Children_ReviewedOnly(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateGrowing, true, "en")
	accepted := seedReply(t, s, root, tree.RoleAssistant, uuid.New())
	pending := seedReply(t, s, root, tree.RoleAssistant, uuid.New())
	require.NoError(t, s.Messages().ApplyReview(ctx, pending.ID, 1, false))
	require.NoError(t, s.Messages().SetDeleted(ctx, pending.ID, true))

	all, err := s.Messages().Children(ctx, root.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	reviewed, err := s.Messages().Children(ctx, root.ID, true)
	require.NoError(t, err)
	require.Len(t, reviewed, 1)
	require.Equal(t, accepted.ID, reviewed[0].ID)
}

func TestMessageRepository_RankUpdates(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateRanking, true, "en")
	a := seedReply(t, s, root, tree.RoleAssistant, uuid.New())
	b := seedReply(t, s, root, tree.RoleAssistant, uuid.New())

	require.NoError(t, s.Messages().SetRank(ctx, a.ID, 0))
	require.NoError(t, s.Messages().SetRank(ctx, b.ID, 1))

	found, err := s.Messages().ByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Rank)
	require.Equal(t, 1, *found.Rank)

	require.NoError(t, s.Messages().ClearRanks(ctx, root.ID))
	found, err = s.Messages().ByID(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, found.Rank, "rank should be cleared")
}

func TestTreeStateRepository_SetStateAndCounts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateGrowing, true, "en")
	seedTree(t, s, tree.StateGrowing, true, "en")
	seedTree(t, s, tree.StateRanking, true, "en")

	require.NoError(t, s.TreeStates().SetState(ctx, root.MessageTreeID, tree.StateRanking, true))

	found, err := s.TreeStates().ByTreeID(ctx, root.MessageTreeID)
	require.NoError(t, err)
	require.Equal(t, tree.StateRanking, found.State)
	require.True(t, found.Active)

	counts, err := s.TreeStates().CountsByState(ctx)
	require.NoError(t, err)
	byState := make(map[tree.State]int)
	for _, c := range counts {
		byState[c.State] = c.Count
	}
	require.Equal(t, 1, byState[tree.StateGrowing])
	require.Equal(t, 2, byState[tree.StateRanking])
}

func TestTreeStateRepository_ActiveCountByLang(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	seedTree(t, s, tree.StateGrowing, true, "en")
	seedTree(t, s, tree.StateGrowing, true, "de")
	seedTree(t, s, tree.StateGrowing, false, "en")
	seedTree(t, s, tree.StateReadyForExport, true, "en")

	count, err := s.TreeStates().ActiveCountByLang(ctx, "en",
		[]tree.State{tree.StateInitialPromptReview, tree.StateGrowing, tree.StateRanking})
	require.NoError(t, err)
	require.Equal(t, 1, count, "inactive trees, other langs and other states do not count")
}

func TestTreeStateRepository_MissingTreeStates(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	seedTree(t, s, tree.StateGrowing, true, "en")
	orphanID := uuid.New()
	require.NoError(t, s.Messages().Insert(ctx, &tree.Message{
		ID:            orphanID,
		MessageTreeID: orphanID,
		UserID:        uuid.New(),
		Role:          tree.RolePrompter,
		Text:          "orphan prompt",
		Lang:          "en",
		CreatedAt:     time.Now(),
	}))

	missing, err := s.TreeStates().MissingTreeStates(ctx)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{orphanID}, missing)
}

func TestTaskRepository_Lifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateGrowing, true, "en")
	rootID := root.ID
	treeID := root.MessageTreeID
	task := &tree.Task{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		PayloadType:     "assistant_reply",
		ParentMessageID: &rootID,
		MessageTreeID:   &treeID,
		Lang:            "en",
		CreatedAt:       time.Now(),
	}
	require.NoError(t, s.Tasks().Insert(ctx, task))

	found, err := s.Tasks().ByID(ctx, task.ID)
	require.NoError(t, err)
	require.False(t, found.Done)
	require.Equal(t, rootID, *found.ParentMessageID)

	require.NoError(t, s.Tasks().MarkDone(ctx, task.ID))
	found, err = s.Tasks().ByID(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, found.Done)

	require.ErrorIs(t, s.Tasks().MarkSkipped(ctx, uuid.New()), tree.ErrTaskNotFound)
}

func TestTaskRepository_RecentTargets(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateGrowing, true, "en")
	rootID := root.ID

	open := &tree.Task{
		ID: uuid.New(), UserID: uuid.New(), PayloadType: "assistant_reply",
		ParentMessageID: &rootID, Lang: "en", CreatedAt: time.Now(),
	}
	stale := &tree.Task{
		ID: uuid.New(), UserID: uuid.New(), PayloadType: "assistant_reply",
		ParentMessageID: &rootID, Lang: "en", CreatedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, s.Tasks().Insert(ctx, open))
	require.NoError(t, s.Tasks().Insert(ctx, stale))

	cutoff := time.Now().Add(-5 * time.Minute)

	// Open reply tasks suppress their parent regardless of which worker
	// holds them.
	targets, err := s.Tasks().RecentTargets(ctx, cutoff)
	require.NoError(t, err)
	require.True(t, targets[rootID])

	// Completed tasks release the parent.
	require.NoError(t, s.Tasks().MarkDone(ctx, open.ID))
	targets, err = s.Tasks().RecentTargets(ctx, cutoff)
	require.NoError(t, err)
	require.Empty(t, targets)
}

func TestTaskRepository_RecentTargets_OnlyReplyTasks(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateGrowing, true, "en")
	rootID := root.ID
	reply := seedReply(t, s, root, tree.RoleAssistant, uuid.New())
	replyID := reply.ID

	// Label tasks record the subject message in parent_message_id; a fresh
	// label on a message must not block reply extension under it.
	label := &tree.Task{
		ID: uuid.New(), UserID: uuid.New(), PayloadType: "label_assistant_reply",
		ParentMessageID: &replyID, Lang: "en", CreatedAt: time.Now(),
	}
	skipped := &tree.Task{
		ID: uuid.New(), UserID: uuid.New(), PayloadType: "prompter_reply",
		ParentMessageID: &rootID, Lang: "en", CreatedAt: time.Now(),
	}
	require.NoError(t, s.Tasks().Insert(ctx, label))
	require.NoError(t, s.Tasks().Insert(ctx, skipped))
	require.NoError(t, s.Tasks().MarkSkipped(ctx, skipped.ID))

	targets, err := s.Tasks().RecentTargets(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Empty(t, targets, "label tasks and skipped tasks never suppress")
}

func TestReactionRepository_RoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateRanking, true, "en")
	a := seedReply(t, s, root, tree.RoleAssistant, uuid.New())
	b := seedReply(t, s, root, tree.RoleAssistant, uuid.New())

	reaction := &tree.RankingReaction{
		TaskID:           uuid.New(),
		UserID:           uuid.New(),
		RankedMessageIDs: []uuid.UUID{b.ID, a.ID},
	}
	require.NoError(t, s.Reactions().InsertRanking(ctx, root.ID, reaction))

	rankings, err := s.Reactions().RankingsByParent(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	require.Equal(t, []uuid.UUID{b.ID, a.ID}, rankings[0].RankedMessageIDs)
	require.Equal(t, reaction.UserID, rankings[0].UserID)
}

func TestTextLabelsRepository_RoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateInitialPromptReview, true, "en")
	record := &tree.TextLabelsRecord{
		MessageID: root.ID,
		UserID:    uuid.New(),
		Labels:    map[tree.Label]float64{"spam": 0.0, "quality": 0.8},
	}
	require.NoError(t, s.TextLabels().Insert(ctx, record))

	records, err := s.TextLabels().ByMessage(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotEqual(t, uuid.Nil, records[0].ID, "id should be generated on insert")
	require.InDelta(t, 0.8, records[0].Labels["quality"], 1e-9)
	require.Nil(t, records[0].TaskID)
}

func TestTextLabelsRepository_ReviewsForMessage(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateInitialPromptReview, true, "en")
	taskID := uuid.New()
	require.NoError(t, s.TextLabels().Insert(ctx, &tree.TextLabelsRecord{
		MessageID: root.ID,
		TaskID:    &taskID,
		UserID:    uuid.New(),
		Labels:    map[tree.Label]float64{"spam": 0.0, "quality": 0.9},
	}))
	require.NoError(t, s.TextLabels().Insert(ctx, &tree.TextLabelsRecord{
		MessageID: root.ID,
		UserID:    uuid.New(),
		Labels:    map[tree.Label]float64{"quality": 0.2},
	}))

	all, err := s.TextLabels().ByMessage(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)

	reviews, err := s.TextLabels().ReviewsForMessage(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1, "free-floating labels are feedback, not reviews")
	require.NotNil(t, reviews[0].TaskID)
	require.Equal(t, taskID, *reviews[0].TaskID)
}

func TestUserRepository_UpsertAndDisable(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	user := &tree.User{ID: uuid.New(), DisplayName: "grace", Enabled: true, CreatedAt: time.Now()}
	require.NoError(t, s.Users().Upsert(ctx, user))

	user.DisplayName = "grace h"
	require.NoError(t, s.Users().Upsert(ctx, user), "second upsert updates in place")

	found, err := s.Users().ByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "grace h", found.DisplayName)

	require.NoError(t, s.Users().SetEnabled(ctx, user.ID, false, true))
	found, err = s.Users().ByID(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, found.Enabled)
	require.True(t, found.Deleted)

	require.ErrorIs(t, s.Users().SetEnabled(ctx, uuid.New(), false, false), tree.ErrUserNotFound)
}

func TestEnrichmentRepository_Upserts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateGrowing, true, "en")
	require.NoError(t, s.Enrichment().SaveEmbedding(ctx, root.ID, "minilm", []float64{0.1, 0.2}))
	require.NoError(t, s.Enrichment().SaveEmbedding(ctx, root.ID, "minilm-v2", []float64{0.3}))
	require.NoError(t, s.Enrichment().SaveToxicity(ctx, root.ID, "toxic-roberta", "non-toxic", 0.02))
	require.NoError(t, s.Enrichment().SaveToxicity(ctx, root.ID, "toxic-roberta", "toxic", 0.91))
}

func TestPurgeRepository_PurgeTree(t *testing.T) {
	db, err := NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := db.Store()
	ctx := context.Background()

	root := seedTree(t, s, tree.StateRanking, true, "en")
	reply := seedReply(t, s, root, tree.RoleAssistant, uuid.New())
	seedReply(t, s, reply, tree.RolePrompter, uuid.New())
	require.NoError(t, s.Reactions().InsertRanking(ctx, root.ID, &tree.RankingReaction{
		TaskID: uuid.New(), UserID: uuid.New(), RankedMessageIDs: []uuid.UUID{reply.ID},
	}))
	require.NoError(t, s.Enrichment().SaveEmbedding(ctx, reply.ID, "minilm", []float64{0.5}))
	survivor := seedTree(t, s, tree.StateGrowing, true, "en")

	require.NoError(t, s.Purges().PurgeTree(ctx, root.MessageTreeID))

	msgs, err := s.Messages().TreeMessages(ctx, root.MessageTreeID, true)
	require.NoError(t, err)
	require.Empty(t, msgs, "all tree messages should be gone")
	_, err = s.TreeStates().ByTreeID(ctx, root.MessageTreeID)
	require.ErrorIs(t, err, tree.ErrTreeNotFound)

	var reactions int
	require.NoError(t, db.conn.QueryRow("SELECT COUNT(*) FROM message_reaction").Scan(&reactions))
	require.Zero(t, reactions)

	_, err = s.Messages().ByID(ctx, survivor.ID)
	require.NoError(t, err, "other trees must survive the purge")
}

func TestPurgeRepository_PurgeMessages_ChildrenFirst(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	root := seedTree(t, s, tree.StateGrowing, true, "en")
	reply := seedReply(t, s, root, tree.RoleAssistant, uuid.New())
	leaf := seedReply(t, s, reply, tree.RolePrompter, uuid.New())

	require.NoError(t, s.Purges().PurgeMessages(ctx, []uuid.UUID{leaf.ID, reply.ID}))

	_, err := s.Messages().ByID(ctx, reply.ID)
	require.ErrorIs(t, err, tree.ErrMessageNotFound)
	_, err = s.Messages().ByID(ctx, root.ID)
	require.NoError(t, err, "the root was not part of the purge")
}

func TestPurgeRepository_PurgeMessages_SiblingGroupRankings(t *testing.T) {
	db, err := NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := db.Store()
	ctx := context.Background()

	root := seedTree(t, s, tree.StateRanking, true, "en")
	a := seedReply(t, s, root, tree.RoleAssistant, uuid.New())
	b := seedReply(t, s, root, tree.RoleAssistant, uuid.New())

	// The task that produced b.
	originTask := &tree.Task{
		ID: uuid.New(), UserID: b.UserID, PayloadType: "assistant_reply",
		Lang: "en", CreatedAt: time.Now(),
	}
	require.NoError(t, s.Tasks().Insert(ctx, originTask))
	_, err = db.conn.Exec("UPDATE message SET task_id = ? WHERE id = ?",
		originTask.ID.String(), b.ID.String())
	require.NoError(t, err)

	require.NoError(t, s.Reactions().InsertRanking(ctx, root.ID, &tree.RankingReaction{
		TaskID: uuid.New(), UserID: uuid.New(), RankedMessageIDs: []uuid.UUID{a.ID, b.ID},
	}))
	require.NoError(t, s.Messages().IncrementRankingCount(ctx, a.ID, 1))
	require.NoError(t, s.Messages().IncrementRankingCount(ctx, b.ID, 1))

	require.NoError(t, s.Purges().PurgeMessages(ctx, []uuid.UUID{b.ID}))

	// Ballots naming the purged id are gone and the surviving sibling starts
	// collecting rankings from scratch.
	rankings, err := s.Reactions().RankingsByParent(ctx, root.ID)
	require.NoError(t, err)
	require.Empty(t, rankings)
	survivor, err := s.Messages().ByID(ctx, a.ID)
	require.NoError(t, err)
	require.Zero(t, survivor.RankingCount)

	_, err = s.Tasks().ByID(ctx, originTask.ID)
	require.ErrorIs(t, err, tree.ErrTaskNotFound, "the task that produced the message goes with it")
}

func TestPurgeRepository_PurgeUserData(t *testing.T) {
	db, err := NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := db.Store()
	ctx := context.Background()

	root := seedTree(t, s, tree.StateRanking, true, "en")
	userID := uuid.New()
	require.NoError(t, s.Tasks().Insert(ctx, &tree.Task{
		ID: uuid.New(), UserID: userID, PayloadType: "ranking", Lang: "en", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.TextLabels().Insert(ctx, &tree.TextLabelsRecord{
		MessageID: root.ID, UserID: userID, Labels: map[tree.Label]float64{"spam": 0},
	}))
	otherUser := uuid.New()
	require.NoError(t, s.TextLabels().Insert(ctx, &tree.TextLabelsRecord{
		MessageID: root.ID, UserID: otherUser, Labels: map[tree.Label]float64{"spam": 1},
	}))

	require.NoError(t, s.Purges().PurgeUserData(ctx, userID))

	var tasks int
	require.NoError(t, db.conn.QueryRow("SELECT COUNT(*) FROM task WHERE user_id = ?", userID.String()).Scan(&tasks))
	require.Zero(t, tasks)

	records, err := s.TextLabels().ByMessage(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, records, 1, "other users' labels must survive")
	require.Equal(t, otherUser, records[0].UserID)
}

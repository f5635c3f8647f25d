package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/infrastructure/sqlite"
)

// TreeBuilder seeds one conversation tree. NewTree inserts the state row and
// the root; Reply grows the tree one message at a time.
type TreeBuilder struct {
	t  *testing.T
	db *sqlite.DB

	TreeID uuid.UUID
	RootID uuid.UUID
	UserID uuid.UUID
	Lang   string
}

// NewTree inserts a tree rooted by userID and returns a builder for it.
func NewTree(t *testing.T, db *sqlite.DB, userID uuid.UUID, opts ...TreeOption) *TreeBuilder {
	t.Helper()
	cfg := treeConfig{
		lang:        "en",
		state:       tree.StateGrowing,
		active:      true,
		goal:        12,
		maxDepth:    3,
		maxChildren: 3,
		rootText:    "seed prompt",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rootID := uuid.New()
	root := &tree.Message{
		ID:            rootID,
		MessageTreeID: rootID,
		UserID:        userID,
		Role:          tree.RolePrompter,
		Text:          cfg.rootText,
		Lang:          cfg.lang,
		CreatedAt:     time.Now(),
	}
	if !cfg.rootPending {
		root.ReviewCount = 3
		root.ReviewResult = true
	}

	err := db.InTx(context.Background(), func(s tree.Store) error {
		ctx := context.Background()
		if err := s.TreeStates().Insert(ctx, &tree.TreeState{
			MessageTreeID:    rootID,
			State:            cfg.state,
			Active:           cfg.active,
			GoalTreeSize:     cfg.goal,
			MaxDepth:         cfg.maxDepth,
			MaxChildrenCount: cfg.maxChildren,
		}); err != nil {
			return err
		}
		return s.Messages().Insert(ctx, root)
	})
	require.NoError(t, err)

	return &TreeBuilder{t: t, db: db, TreeID: rootID, RootID: rootID, UserID: userID, Lang: cfg.lang}
}

// Reply inserts a reply below parentID with the opposite role and returns its
// id. Replies are accepted unless an option says otherwise.
func (b *TreeBuilder) Reply(parentID uuid.UUID, text string, opts ...MessageOption) uuid.UUID {
	b.t.Helper()
	cfg := messageConfig{userID: b.UserID, reviewCount: 3, accepted: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := uuid.New()
	err := b.db.InTx(context.Background(), func(s tree.Store) error {
		ctx := context.Background()
		parent, err := s.Messages().ByID(ctx, parentID)
		if err != nil {
			return err
		}
		pid := parent.ID
		msg := &tree.Message{
			ID:            id,
			ParentID:      &pid,
			MessageTreeID: parent.MessageTreeID,
			UserID:        cfg.userID,
			Role:          parent.Role.Opposite(),
			Text:          text,
			Lang:          b.Lang,
			Depth:         parent.Depth + 1,
			ReviewCount:   cfg.reviewCount,
			ReviewResult:  cfg.accepted,
			RankingCount:  cfg.rankingCount,
			Deleted:       cfg.deleted,
			CreatedAt:     time.Now(),
		}
		if err := s.Messages().Insert(ctx, msg); err != nil {
			return err
		}
		return s.Messages().IncrementChildrenCount(ctx, pid)
	})
	require.NoError(b.t, err)
	return id
}

// SetState rewrites the tree's state row.
func (b *TreeBuilder) SetState(state tree.State, active bool) {
	b.t.Helper()
	err := b.db.InTx(context.Background(), func(s tree.Store) error {
		return s.TreeStates().SetState(context.Background(), b.TreeID, state, active)
	})
	require.NoError(b.t, err)
}

// NewTask inserts a pending task row and returns its id. parentID and treeID
// may be nil for initial prompt tasks.
func NewTask(t *testing.T, db *sqlite.DB, userID uuid.UUID, payloadType string, parentID, treeID *uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := db.InTx(context.Background(), func(s tree.Store) error {
		return s.Tasks().Insert(context.Background(), &tree.Task{
			ID:              id,
			CreatedAt:       time.Now(),
			PayloadType:     payloadType,
			UserID:          userID,
			ParentMessageID: parentID,
			MessageTreeID:   treeID,
			Lang:            "en",
		})
	})
	require.NoError(t, err)
	return id
}

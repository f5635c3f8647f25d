package tree

import (
	"time"

	"github.com/google/uuid"
)

// Message is a node of a conversation tree. The root carries the tree id as
// its own id and has no parent.
type Message struct {
	ID            uuid.UUID
	ParentID      *uuid.UUID
	MessageTreeID uuid.UUID
	TaskID        *uuid.UUID
	UserID        uuid.UUID
	Role          Role
	Text          string
	Lang          string
	Depth         int
	ChildrenCount int
	ReviewCount   int
	ReviewResult  bool
	RankingCount  int
	Rank          *int
	Deleted       bool
	CreatedAt     time.Time
}

// IsRoot returns true if the message is the initial prompt of its tree.
func (m *Message) IsRoot() bool {
	return m.ParentID == nil
}

// TreeState is the single state row kept per message tree root.
type TreeState struct {
	MessageTreeID    uuid.UUID
	State            State
	Active           bool
	GoalTreeSize     int
	MaxDepth         int
	MaxChildrenCount int
}

// Task is a dispatched work item handed to a worker.
type Task struct {
	ID              uuid.UUID
	CreatedAt       time.Time
	Done            bool
	Skipped         bool
	PayloadType     string
	UserID          uuid.UUID
	ParentMessageID *uuid.UUID
	MessageTreeID   *uuid.UUID
	Lang            string
}

// TextLabelsRecord is a worker's label submission on a message. Labels maps
// label name to a value in [0,1]. TaskID is set when the submission satisfied
// a dispatched labeling task.
type TextLabelsRecord struct {
	ID        uuid.UUID
	CreatedAt time.Time
	MessageID uuid.UUID
	TaskID    *uuid.UUID
	UserID    uuid.UUID
	Labels    map[Label]float64
}

// RankingReaction is a worker's ranking submission bound to a rank task.
// RankedMessageIDs orders the sibling ids best-first.
type RankingReaction struct {
	TaskID           uuid.UUID
	UserID           uuid.UUID
	CreatedAt        time.Time
	RankedMessageIDs []uuid.UUID
}

// User is a worker account. Disabled users are refused tasks and interactions.
type User struct {
	ID          uuid.UUID
	DisplayName string
	Enabled     bool
	Deleted     bool
	CreatedAt   time.Time
}

// ExtendibleParent is a query-layer row describing a reviewed, non-deleted
// message that can still accept children.
type ExtendibleParent struct {
	ParentID            uuid.UUID
	ParentRole          Role
	Depth               int
	MessageTreeID       uuid.UUID
	ActiveChildrenCount int
}

// TreeSize is a query-layer row describing how far a growing tree has come.
type TreeSize struct {
	MessageTreeID  uuid.UUID
	GoalTreeSize   int
	TreeSize       int
	AwaitingReview int
}

// RemainingMessages returns how many reviewed messages the tree still needs.
func (t TreeSize) RemainingMessages() int {
	if r := t.GoalTreeSize - t.TreeSize; r > 0 {
		return r
	}
	return 0
}

// IncompleteRanking is a query-layer row for a parent whose sibling set still
// needs ranking submissions.
type IncompleteRanking struct {
	ParentID             uuid.UUID
	Role                 Role
	ChildrenCount        int
	ChildMinRankingCount int
	MessageTreeID        uuid.UUID
}

// TreeStateCount is a per-state tally of tree state rows.
type TreeStateCount struct {
	State State
	Count int
}

// TreeMessageCountStats summarises message counts for one active tree.
type TreeMessageCountStats struct {
	MessageTreeID uuid.UUID
	State         State
	Depth         int
	Oldest        time.Time
	Youngest      time.Time
	Count         int
	GoalTreeSize  int
}

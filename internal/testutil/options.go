package testutil

import (
	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

type treeConfig struct {
	lang        string
	state       tree.State
	active      bool
	goal        int
	maxDepth    int
	maxChildren int
	rootText    string
	rootPending bool
}

// TreeOption configures a seeded tree.
type TreeOption func(*treeConfig)

// WithLang sets the root language.
func WithLang(lang string) TreeOption {
	return func(c *treeConfig) { c.lang = lang }
}

// WithState sets the initial state row.
func WithState(state tree.State, active bool) TreeOption {
	return func(c *treeConfig) { c.state = state; c.active = active }
}

// WithGoal sets the goal tree size.
func WithGoal(goal int) TreeOption {
	return func(c *treeConfig) { c.goal = goal }
}

// WithLimits sets the depth and branching limits.
func WithLimits(maxDepth, maxChildren int) TreeOption {
	return func(c *treeConfig) { c.maxDepth = maxDepth; c.maxChildren = maxChildren }
}

// WithRootText sets the initial prompt text.
func WithRootText(text string) TreeOption {
	return func(c *treeConfig) { c.rootText = text }
}

// WithPendingRoot leaves the root unreviewed.
func WithPendingRoot() TreeOption {
	return func(c *treeConfig) { c.rootPending = true }
}

type messageConfig struct {
	userID       uuid.UUID
	reviewCount  int
	accepted     bool
	rankingCount int
	deleted      bool
}

// MessageOption configures a seeded reply.
type MessageOption func(*messageConfig)

// ByUser attributes the reply to another user.
func ByUser(id uuid.UUID) MessageOption {
	return func(c *messageConfig) { c.userID = id }
}

// Pending leaves the reply unreviewed.
func Pending() MessageOption {
	return func(c *messageConfig) { c.reviewCount = 0; c.accepted = false }
}

// SoftDeleted marks the reply deleted.
func SoftDeleted() MessageOption {
	return func(c *messageConfig) { c.deleted = true }
}

// WithRankingCount presets the reply's ranking counter.
func WithRankingCount(n int) MessageOption {
	return func(c *messageConfig) { c.rankingCount = n }
}

package tree

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageRepository persists conversation tree nodes.
type MessageRepository interface {
	Insert(ctx context.Context, m *Message) error
	ByID(ctx context.Context, id uuid.UUID) (*Message, error)

	// Thread returns the conversation from the root down to and including the
	// given message, ordered root first.
	Thread(ctx context.Context, id uuid.UUID) ([]*Message, error)

	// Children returns the direct replies below a parent. When reviewedOnly
	// is set, only accepted (review_result) and non-deleted replies return.
	Children(ctx context.Context, parentID uuid.UUID, reviewedOnly bool) ([]*Message, error)

	// TreeMessages returns every message of a tree, roots first, optionally
	// including soft-deleted rows.
	TreeMessages(ctx context.Context, treeID uuid.UUID, includeDeleted bool) ([]*Message, error)

	Root(ctx context.Context, treeID uuid.UUID) (*Message, error)
	UserMessages(ctx context.Context, userID uuid.UUID) ([]*Message, error)

	IncrementChildrenCount(ctx context.Context, id uuid.UUID) error
	SetChildrenCount(ctx context.Context, id uuid.UUID, count int) error
	ApplyReview(ctx context.Context, id uuid.UUID, reviewCount int, reviewResult bool) error
	IncrementRankingCount(ctx context.Context, id uuid.UUID, delta int) error

	// ClearRanks nulls the rank of every child below the parent; SetRank
	// records one consensus position.
	ClearRanks(ctx context.Context, parentID uuid.UUID) error
	SetRank(ctx context.Context, id uuid.UUID, rank int) error

	SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) error
}

// TreeStateRepository persists the per-tree lifecycle row.
type TreeStateRepository interface {
	Insert(ctx context.Context, ts *TreeState) error
	ByTreeID(ctx context.Context, treeID uuid.UUID) (*TreeState, error)
	SetState(ctx context.Context, treeID uuid.UUID, state State, active bool) error

	// ActiveCountByLang counts active tree state rows in the given states
	// whose root message carries the language.
	ActiveCountByLang(ctx context.Context, lang string, states []State) (int, error)

	// TreesByState lists tree ids currently in one of the given states.
	TreesByState(ctx context.Context, states []State, activeOnly bool) ([]uuid.UUID, error)

	// MissingTreeStates returns roots that have no state row (repair path).
	MissingTreeStates(ctx context.Context) ([]uuid.UUID, error)

	CountsByState(ctx context.Context) ([]TreeStateCount, error)
	Delete(ctx context.Context, treeID uuid.UUID) error
}

// TaskRepository persists dispatched tasks.
type TaskRepository interface {
	Insert(ctx context.Context, t *Task) error
	ByID(ctx context.Context, id uuid.UUID) (*Task, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkSkipped(ctx context.Context, id uuid.UUID) error

	// RecentTargets returns the parent message ids of reply tasks handed out
	// since the cutoff that are still open (neither done nor skipped),
	// regardless of worker. Dispatch avoids these parents so concurrent
	// workers spread over the tree.
	RecentTargets(ctx context.Context, since time.Time) (map[uuid.UUID]bool, error)
}

// ReactionRepository persists ranking submissions.
type ReactionRepository interface {
	InsertRanking(ctx context.Context, parentID uuid.UUID, r *RankingReaction) error

	// RankingsByParent returns every ranking stored against the parent.
	RankingsByParent(ctx context.Context, parentID uuid.UUID) ([]*RankingReaction, error)
}

// TextLabelsRepository persists label reviews.
type TextLabelsRepository interface {
	Insert(ctx context.Context, l *TextLabelsRecord) error
	ByMessage(ctx context.Context, messageID uuid.UUID) ([]*TextLabelsRecord, error)

	// ReviewsForMessage returns only the labels submitted against a task.
	// Free-floating labels are feedback, not reviews, and stay out of the
	// acceptance computation.
	ReviewsForMessage(ctx context.Context, messageID uuid.UUID) ([]*TextLabelsRecord, error)
}

// UserRepository persists worker accounts.
type UserRepository interface {
	Upsert(ctx context.Context, u *User) error
	ByID(ctx context.Context, id uuid.UUID) (*User, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled, deleted bool) error
}

// EnrichmentRepository stores per-message model outputs computed after the
// fact (embeddings, toxicity scores).
type EnrichmentRepository interface {
	SaveEmbedding(ctx context.Context, messageID uuid.UUID, model string, embedding []float64) error
	SaveToxicity(ctx context.Context, messageID uuid.UUID, model, label string, score float64) error
}

// JournalRepository records tree lifecycle events for auditing.
type JournalRepository interface {
	Record(ctx context.Context, eventType string, treeID, messageID, userID *uuid.UUID, detail string) error
}

// ReviewFilter relaxes the review queries' exclusion rules. Both fields stay
// false in production; debug deployments flip them to test against themselves.
type ReviewFilter struct {
	// AllowSelf includes messages the requesting user authored.
	AllowSelf bool

	// AllowDuplicates includes messages the requesting user already labeled.
	AllowDuplicates bool
}

// QueryRepository exposes the read-side joins the dispatcher and state checks
// are built on.
type QueryRepository interface {
	// IncompleteRankings lists parents in ranking-state trees whose reply
	// groups still need rankings from this user. The filter's AllowDuplicates
	// lifts the exclusion of parents the user already ranked.
	IncompleteRankings(ctx context.Context, userID uuid.UUID, role Role, lang string, requiredRankings int, filter ReviewFilter) ([]IncompleteRanking, error)

	// IncompleteRankingCount counts reply groups of the role in active
	// ranking trees of the language still below the ranking quorum,
	// independent of any requesting user.
	IncompleteRankingCount(ctx context.Context, role Role, lang string, requiredRankings int) (int, error)

	// ExtendibleParents lists accepted messages of the given role that can
	// still take replies. Parents the user already replied under are
	// excluded unless the filter's AllowDuplicates lifts that.
	ExtendibleParents(ctx context.Context, userID uuid.UUID, role Role, lang string, filter ReviewFilter) ([]ExtendibleParent, error)

	// ExtendibleTrees measures growing trees that are not yet at goal size.
	ExtendibleTrees(ctx context.Context, lang string) ([]TreeSize, error)

	// TreeSize measures one tree regardless of dispatch eligibility.
	TreeSize(ctx context.Context, treeID uuid.UUID) (*TreeSize, error)

	// RankingGroups lists, per parent in the tree with at least two accepted
	// replies of the role, how many rankings the least-ranked child has.
	RankingGroups(ctx context.Context, treeID uuid.UUID, role Role) ([]IncompleteRanking, error)

	// PromptsAwaitingReview lists initial prompts still collecting reviews
	// that the user neither wrote nor already labeled, unless the filter
	// relaxes those exclusions.
	PromptsAwaitingReview(ctx context.Context, userID uuid.UUID, lang string, filter ReviewFilter) ([]*Message, error)

	// RepliesAwaitingReview does the same for replies of the given role in
	// growing trees.
	RepliesAwaitingReview(ctx context.Context, userID uuid.UUID, role Role, lang string, filter ReviewFilter) ([]*Message, error)

	// TreeMessageStats summarises active trees for operators.
	TreeMessageStats(ctx context.Context) ([]TreeMessageCountStats, error)
}

// PurgeRepository removes data across all tables.
type PurgeRepository interface {
	// PurgeMessages hard-deletes the given messages and every dependent row
	// (labels, reactions, enrichment, journal, tasks).
	PurgeMessages(ctx context.Context, ids []uuid.UUID) error

	// PurgeTree removes a whole tree including its state row.
	PurgeTree(ctx context.Context, treeID uuid.UUID) error

	// PurgeUserData removes reactions, labels, tasks and journal entries
	// created by the user.
	PurgeUserData(ctx context.Context, userID uuid.UUID) error
}

// Store bundles the repositories over one database handle or transaction.
type Store interface {
	Messages() MessageRepository
	TreeStates() TreeStateRepository
	Tasks() TaskRepository
	Reactions() ReactionRepository
	TextLabels() TextLabelsRepository
	Users() UserRepository
	Enrichment() EnrichmentRepository
	Journal() JournalRepository
	Queries() QueryRepository
	Purges() PurgeRepository
}

// Runner executes functions against the store, transactionally for writes.
type Runner interface {
	// InTx runs fn inside a write transaction, committing on nil error.
	InTx(ctx context.Context, fn func(Store) error) error

	// View runs fn outside a transaction for read-only access.
	View(ctx context.Context, fn func(Store) error) error
}

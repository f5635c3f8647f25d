package tracing

// Span attribute keys for tree manager tracing.
// These constants define the semantic conventions for span attributes
// across dispatch, interaction handling and state transitions.
const (
	// Task attributes
	AttrTaskID          = "task.id"
	AttrTaskType        = "task.type"
	AttrTaskRequestType = "task.request_type"

	// Message attributes
	AttrMessageID   = "message.id"
	AttrMessageRole = "message.role"
	AttrParentID    = "message.parent_id"

	// Tree attributes
	AttrTreeID        = "tree.id"
	AttrTreeState     = "tree.state"
	AttrTreeStateFrom = "tree.state.from"
	AttrTreeStateTo   = "tree.state.to"

	// User attributes
	AttrUserID = "user.id"
	AttrLang   = "lang"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixDispatch = "dispatch."
	SpanPrefixHandle   = "handle."
	SpanPrefixState    = "state."
	SpanPrefixRepo     = "repo."
	SpanPrefixHF       = "hf."
)

// Event names for span events.
const (
	EventTaskDispatched    = "task.dispatched"
	EventMessageStored     = "message.stored"
	EventReviewCompleted   = "review.completed"
	EventRankingStored     = "ranking.stored"
	EventConsensusComputed = "consensus.computed"
	EventStateChanged      = "state.changed"
	EventBacklogActivated  = "backlog.activated"
	EventErrorOccurred     = "error.occurred"
)

package tree

import "errors"

// Sentinel errors for tree manager operations. Handlers map these onto
// transport status codes; everything else is treated as internal.
var (
	// ErrTaskUnavailable indicates no task matching the request can be
	// dispatched right now. Clients should retry later.
	ErrTaskUnavailable = errors.New("no task available")

	// ErrInvalidRequestType indicates an unknown task request type.
	ErrInvalidRequestType = errors.New("invalid task request type")

	// ErrInvalidResponseType indicates an interaction payload that does not
	// match the task it answers.
	ErrInvalidResponseType = errors.New("invalid response type for task")

	// ErrTaskNotFound indicates the referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExpired indicates the task was already completed or skipped.
	ErrTaskExpired = errors.New("task already completed or skipped")

	// ErrMessageNotFound indicates the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrTreeNotFound indicates no tree state row exists for the tree.
	ErrTreeNotFound = errors.New("message tree not found")

	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserDisabled indicates the user is banned or disabled and may not
	// interact.
	ErrUserDisabled = errors.New("user is disabled")

	// ErrTreeTerminal indicates an operation on a tree in a terminal state.
	ErrTreeTerminal = errors.New("message tree is in a terminal state")
)

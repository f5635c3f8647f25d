// Package tree provides the pure domain layer for conversation message trees:
// states, roles, entities, task descriptors, and worker submissions. It has no
// infrastructure dependencies beyond uuid and time.
package tree

// State represents the lifecycle state of a message tree.
type State string

const (
	// StateInitialPromptReview indicates the root prompt is collecting reviews.
	StateInitialPromptReview State = "initial_prompt_review"

	// StateGrowing indicates workers are adding replies until the goal size is reached.
	StateGrowing State = "growing"

	// StateBacklogRanking indicates the tree is parked, awaiting activation into ranking.
	StateBacklogRanking State = "backlog_ranking"

	// StateRanking indicates workers are ordering sibling replies.
	StateRanking State = "ranking"

	// StateReadyForScoring indicates every rankable parent has reached its ranking quorum.
	StateReadyForScoring State = "ready_for_scoring"

	// StateScoringFailed indicates the consensus computation failed; retried by maintenance.
	StateScoringFailed State = "scoring_failed"

	// StateReadyForExport indicates consensus ranks are assigned. Terminal.
	StateReadyForExport State = "ready_for_export"

	// StateAbortedLowGrade indicates the tree was rejected by reviewers. Terminal.
	StateAbortedLowGrade State = "aborted_low_grade"

	// StateHaltedByModerator indicates a moderator stopped the tree. Terminal.
	StateHaltedByModerator State = "halted_by_moderator"
)

// TerminalStates is the set of states a tree never leaves.
var TerminalStates = map[State]bool{
	StateReadyForExport:    true,
	StateAbortedLowGrade:   true,
	StateHaltedByModerator: true,
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return TerminalStates[s]
}

// IsValid returns true if the state is a recognized tree state.
func (s State) IsValid() bool {
	switch s {
	case StateInitialPromptReview, StateGrowing, StateBacklogRanking, StateRanking,
		StateReadyForScoring, StateScoringFailed, StateReadyForExport,
		StateAbortedLowGrade, StateHaltedByModerator:
		return true
	default:
		return false
	}
}

// Role identifies which side of the conversation authored a message.
type Role string

const (
	// RolePrompter is the human side of the conversation.
	RolePrompter Role = "prompter"

	// RoleAssistant is the model side of the conversation.
	RoleAssistant Role = "assistant"
)

// Opposite returns the role of a valid child message.
func (r Role) Opposite() Role {
	if r == RolePrompter {
		return RoleAssistant
	}
	return RolePrompter
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

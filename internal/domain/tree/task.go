package tree

import "github.com/google/uuid"

// TaskRequestType is the task kind a worker asks for. Random lets the
// dispatcher pick by weighted draw.
type TaskRequestType string

const (
	TaskRandom               TaskRequestType = "random"
	TaskInitialPrompt        TaskRequestType = "initial_prompt"
	TaskPrompterReply        TaskRequestType = "prompter_reply"
	TaskAssistantReply       TaskRequestType = "assistant_reply"
	TaskRankPrompterReplies  TaskRequestType = "rank_prompter_replies"
	TaskRankAssistantReplies TaskRequestType = "rank_assistant_replies"
	TaskLabelInitialPrompt   TaskRequestType = "label_initial_prompt"
	TaskLabelPrompterReply   TaskRequestType = "label_prompter_reply"
	TaskLabelAssistantReply  TaskRequestType = "label_assistant_reply"
)

// RequestTypes lists all concrete (non-random) task request types.
var RequestTypes = []TaskRequestType{
	TaskInitialPrompt,
	TaskPrompterReply,
	TaskAssistantReply,
	TaskRankPrompterReplies,
	TaskRankAssistantReplies,
	TaskLabelInitialPrompt,
	TaskLabelPrompterReply,
	TaskLabelAssistantReply,
}

// LabelMode selects how much of the label palette a labeling task exposes.
type LabelMode string

const (
	// LabelModeSimple restricts the task to the mandatory labels plus
	// lang_mismatch and quality.
	LabelModeSimple LabelMode = "simple"

	// LabelModeFull exposes the complete label palette.
	LabelModeFull LabelMode = "full"
)

// LabelDisposition hints the frontend how to phrase the task.
type LabelDisposition string

const (
	LabelDispositionSpam    LabelDisposition = "spam"
	LabelDispositionQuality LabelDisposition = "quality"
)

// ConversationMessage is one turn of the conversation path shown to a worker.
type ConversationMessage struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
	Role Role      `json:"role"`
}

// TaskDescriptor is the concrete work item handed to a worker. Exactly one of
// the payload fields matching Type is populated.
type TaskDescriptor struct {
	ID   uuid.UUID       `json:"id"`
	Type TaskRequestType `json:"type"`

	// Conversation is the path from the root to the task's parent, oldest
	// first. Empty for initial prompt tasks.
	Conversation []ConversationMessage `json:"conversation,omitempty"`

	// Ranking task fields.
	Replies         []string    `json:"replies,omitempty"`
	ReplyMessageIDs []uuid.UUID `json:"reply_message_ids,omitempty"`
	RankingParentID *uuid.UUID  `json:"ranking_parent_id,omitempty"`
	RankingTreeID   *uuid.UUID  `json:"ranking_tree_id,omitempty"`

	// Reply task fields: the parent to answer and its tree.
	ReplyParentID *uuid.UUID `json:"reply_parent_id,omitempty"`
	ReplyTreeID   *uuid.UUID `json:"reply_tree_id,omitempty"`

	// Labeling task fields.
	MessageID       *uuid.UUID       `json:"message_id,omitempty"`
	Reply           string           `json:"reply,omitempty"`
	ValidLabels     []Label          `json:"valid_labels,omitempty"`
	MandatoryLabels []Label          `json:"mandatory_labels,omitempty"`
	Mode            LabelMode        `json:"mode,omitempty"`
	Disposition     LabelDisposition `json:"disposition,omitempty"`
}

// NewTaskDescriptor allocates a descriptor of the given type with a fresh id.
func NewTaskDescriptor(t TaskRequestType) *TaskDescriptor {
	return &TaskDescriptor{ID: uuid.New(), Type: t}
}

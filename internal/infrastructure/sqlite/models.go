package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// MessageModel represents the database row for the message table.
// UUIDs are stored as text and timestamps as Unix seconds.
type MessageModel struct {
	ID            string
	ParentID      *string
	MessageTreeID string
	TaskID        *string
	UserID        string
	Role          string
	Text          string
	Lang          string
	Depth         int
	ChildrenCount int
	ReviewCount   int
	ReviewResult  bool
	RankingCount  int
	Rank          *int
	Deleted       bool
	CreatedAt     int64
}

func toMessageModel(m *tree.Message) *MessageModel {
	model := &MessageModel{
		ID:            m.ID.String(),
		MessageTreeID: m.MessageTreeID.String(),
		UserID:        m.UserID.String(),
		Role:          string(m.Role),
		Text:          m.Text,
		Lang:          m.Lang,
		Depth:         m.Depth,
		ChildrenCount: m.ChildrenCount,
		ReviewCount:   m.ReviewCount,
		ReviewResult:  m.ReviewResult,
		RankingCount:  m.RankingCount,
		Rank:          m.Rank,
		Deleted:       m.Deleted,
		CreatedAt:     m.CreatedAt.Unix(),
	}
	if m.ParentID != nil {
		s := m.ParentID.String()
		model.ParentID = &s
	}
	if m.TaskID != nil {
		s := m.TaskID.String()
		model.TaskID = &s
	}
	return model
}

func (m *MessageModel) toDomain() (*tree.Message, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing message id: %w", err)
	}
	treeID, err := uuid.Parse(m.MessageTreeID)
	if err != nil {
		return nil, fmt.Errorf("parsing message tree id: %w", err)
	}
	userID, err := uuid.Parse(m.UserID)
	if err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	msg := &tree.Message{
		ID:            id,
		MessageTreeID: treeID,
		UserID:        userID,
		Role:          tree.Role(m.Role),
		Text:          m.Text,
		Lang:          m.Lang,
		Depth:         m.Depth,
		ChildrenCount: m.ChildrenCount,
		ReviewCount:   m.ReviewCount,
		ReviewResult:  m.ReviewResult,
		RankingCount:  m.RankingCount,
		Rank:          m.Rank,
		Deleted:       m.Deleted,
		CreatedAt:     time.Unix(m.CreatedAt, 0),
	}
	if m.ParentID != nil {
		parentID, err := uuid.Parse(*m.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parsing parent id: %w", err)
		}
		msg.ParentID = &parentID
	}
	if m.TaskID != nil {
		taskID, err := uuid.Parse(*m.TaskID)
		if err != nil {
			return nil, fmt.Errorf("parsing task id: %w", err)
		}
		msg.TaskID = &taskID
	}
	return msg, nil
}

// TreeStateModel represents the database row for the message_tree_state table.
type TreeStateModel struct {
	MessageTreeID    string
	State            string
	Active           bool
	GoalTreeSize     int
	MaxDepth         int
	MaxChildrenCount int
}

func toTreeStateModel(ts *tree.TreeState) *TreeStateModel {
	return &TreeStateModel{
		MessageTreeID:    ts.MessageTreeID.String(),
		State:            string(ts.State),
		Active:           ts.Active,
		GoalTreeSize:     ts.GoalTreeSize,
		MaxDepth:         ts.MaxDepth,
		MaxChildrenCount: ts.MaxChildrenCount,
	}
}

func (m *TreeStateModel) toDomain() (*tree.TreeState, error) {
	treeID, err := uuid.Parse(m.MessageTreeID)
	if err != nil {
		return nil, fmt.Errorf("parsing message tree id: %w", err)
	}
	return &tree.TreeState{
		MessageTreeID:    treeID,
		State:            tree.State(m.State),
		Active:           m.Active,
		GoalTreeSize:     m.GoalTreeSize,
		MaxDepth:         m.MaxDepth,
		MaxChildrenCount: m.MaxChildrenCount,
	}, nil
}

// TaskModel represents the database row for the task table.
type TaskModel struct {
	ID              string
	UserID          string
	PayloadType     string
	Done            bool
	Skipped         bool
	ParentMessageID *string
	MessageTreeID   *string
	Lang            string
	CreatedAt       int64
}

func toTaskModel(t *tree.Task) *TaskModel {
	model := &TaskModel{
		ID:          t.ID.String(),
		UserID:      t.UserID.String(),
		PayloadType: t.PayloadType,
		Done:        t.Done,
		Skipped:     t.Skipped,
		Lang:        t.Lang,
		CreatedAt:   t.CreatedAt.Unix(),
	}
	if t.ParentMessageID != nil {
		s := t.ParentMessageID.String()
		model.ParentMessageID = &s
	}
	if t.MessageTreeID != nil {
		s := t.MessageTreeID.String()
		model.MessageTreeID = &s
	}
	return model
}

func (m *TaskModel) toDomain() (*tree.Task, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing task id: %w", err)
	}
	userID, err := uuid.Parse(m.UserID)
	if err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	task := &tree.Task{
		ID:          id,
		UserID:      userID,
		PayloadType: m.PayloadType,
		Done:        m.Done,
		Skipped:     m.Skipped,
		Lang:        m.Lang,
		CreatedAt:   time.Unix(m.CreatedAt, 0),
	}
	if m.ParentMessageID != nil {
		parentID, err := uuid.Parse(*m.ParentMessageID)
		if err != nil {
			return nil, fmt.Errorf("parsing parent message id: %w", err)
		}
		task.ParentMessageID = &parentID
	}
	if m.MessageTreeID != nil {
		treeID, err := uuid.Parse(*m.MessageTreeID)
		if err != nil {
			return nil, fmt.Errorf("parsing message tree id: %w", err)
		}
		task.MessageTreeID = &treeID
	}
	return task, nil
}

// rankingPayload is the JSON stored in message_reaction.payload for ranking
// submissions.
type rankingPayload struct {
	RankedMessageIDs []string `json:"ranked_message_ids"`
}

const payloadTypeRanking = "ranking"

func encodeRankingPayload(ids []uuid.UUID) (string, error) {
	p := rankingPayload{RankedMessageIDs: make([]string, len(ids))}
	for i, id := range ids {
		p.RankedMessageIDs[i] = id.String()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding ranking payload: %w", err)
	}
	return string(data), nil
}

func decodeRankingPayload(data string) ([]uuid.UUID, error) {
	var p rankingPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decoding ranking payload: %w", err)
	}
	ids := make([]uuid.UUID, len(p.RankedMessageIDs))
	for i, s := range p.RankedMessageIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parsing ranked message id: %w", err)
		}
		ids[i] = id
	}
	return ids, nil
}

func encodeLabels(labels map[tree.Label]float64) (string, error) {
	data, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("encoding labels: %w", err)
	}
	return string(data), nil
}

func decodeLabels(data string) (map[tree.Label]float64, error) {
	var labels map[tree.Label]float64
	if err := json.Unmarshal([]byte(data), &labels); err != nil {
		return nil, fmt.Errorf("decoding labels: %w", err)
	}
	return labels, nil
}

// UserModel represents the database row for the users table.
type UserModel struct {
	ID          string
	DisplayName string
	Enabled     bool
	Deleted     bool
	CreatedAt   int64
}

func toUserModel(u *tree.User) *UserModel {
	return &UserModel{
		ID:          u.ID.String(),
		DisplayName: u.DisplayName,
		Enabled:     u.Enabled,
		Deleted:     u.Deleted,
		CreatedAt:   u.CreatedAt.Unix(),
	}
}

func (m *UserModel) toDomain() (*tree.User, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	return &tree.User{
		ID:          id,
		DisplayName: m.DisplayName,
		Enabled:     m.Enabled,
		Deleted:     m.Deleted,
		CreatedAt:   time.Unix(m.CreatedAt, 0),
	}, nil
}

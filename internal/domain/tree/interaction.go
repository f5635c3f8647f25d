package tree

import "github.com/google/uuid"

// Interaction is a worker submission ingested by the interaction handler.
// Exactly one concrete type per submission kind.
type Interaction interface {
	interaction()
}

// TextReply is a worker's text answer to a dispatched prompt or reply task.
type TextReply struct {
	TaskID   uuid.UUID
	UserID   uuid.UUID
	ParentID *uuid.UUID
	TreeID   *uuid.UUID
	Text     string
	Lang     string
	Role     Role
}

// Rating is a free-standing numeric rating of a message.
type Rating struct {
	TaskID    uuid.UUID
	UserID    uuid.UUID
	MessageID uuid.UUID
	Rating    int
}

// Ranking is an ordering of sibling replies, best first.
type Ranking struct {
	TaskID           uuid.UUID
	UserID           uuid.UUID
	RankedMessageIDs []uuid.UUID
}

// TextLabels is a bag of label scores on a message.
type TextLabels struct {
	TaskID    uuid.UUID
	UserID    uuid.UUID
	MessageID uuid.UUID
	Labels    map[Label]float64
}

func (TextReply) interaction()  {}
func (Rating) interaction()     {}
func (Ranking) interaction()    {}
func (TextLabels) interaction() {}

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// journalRepository records lifecycle events for auditing.
type journalRepository struct {
	q querier
}

var _ tree.JournalRepository = (*journalRepository)(nil)

func (r *journalRepository) Record(ctx context.Context, eventType string, treeID, messageID, userID *uuid.UUID, detail string) error {
	toStr := func(id *uuid.UUID) *string {
		if id == nil {
			return nil
		}
		s := id.String()
		return &s
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO journal (id, event_type, tree_id, message_id, user_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), eventType, toStr(treeID), toStr(messageID), toStr(userID), detail, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}

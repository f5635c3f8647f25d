package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// textLabelsRepository implements tree.TextLabelsRepository using SQLite.
// The label map is stored as a JSON column.
type textLabelsRepository struct {
	q querier
}

var _ tree.TextLabelsRepository = (*textLabelsRepository)(nil)

func (r *textLabelsRepository) Insert(ctx context.Context, l *tree.TextLabelsRecord) error {
	labels, err := encodeLabels(l.Labels)
	if err != nil {
		return err
	}
	id := l.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var taskID *string
	if l.TaskID != nil {
		s := l.TaskID.String()
		taskID = &s
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO text_labels (id, message_id, task_id, user_id, labels, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), l.MessageID.String(), taskID, l.UserID.String(), labels, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert text labels: %w", err)
	}
	return nil
}

func (r *textLabelsRepository) ByMessage(ctx context.Context, messageID uuid.UUID) ([]*tree.TextLabelsRecord, error) {
	return r.selectLabels(ctx,
		`SELECT id, message_id, task_id, user_id, labels, created_at FROM text_labels
		WHERE message_id = ? ORDER BY created_at ASC`,
		messageID.String(),
	)
}

// ReviewsForMessage returns only task-bound labels. Labels submitted outside
// a task are feedback and never count toward the acceptance computation.
func (r *textLabelsRepository) ReviewsForMessage(ctx context.Context, messageID uuid.UUID) ([]*tree.TextLabelsRecord, error) {
	return r.selectLabels(ctx,
		`SELECT id, message_id, task_id, user_id, labels, created_at FROM text_labels
		WHERE message_id = ? AND task_id IS NOT NULL ORDER BY created_at ASC`,
		messageID.String(),
	)
}

func (r *textLabelsRepository) selectLabels(ctx context.Context, query string, args ...any) ([]*tree.TextLabelsRecord, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query text labels: %w", err)
	}
	defer rows.Close()

	var records []*tree.TextLabelsRecord
	for rows.Next() {
		var id, msgID, userID, labels string
		var taskID *string
		var createdAt int64
		if err := rows.Scan(&id, &msgID, &taskID, &userID, &labels, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning text labels: %w", err)
		}
		record := &tree.TextLabelsRecord{CreatedAt: time.Unix(createdAt, 0)}
		if record.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing label id: %w", err)
		}
		if record.MessageID, err = uuid.Parse(msgID); err != nil {
			return nil, fmt.Errorf("parsing message id: %w", err)
		}
		if record.UserID, err = uuid.Parse(userID); err != nil {
			return nil, fmt.Errorf("parsing user id: %w", err)
		}
		if taskID != nil {
			tid, err := uuid.Parse(*taskID)
			if err != nil {
				return nil, fmt.Errorf("parsing task id: %w", err)
			}
			record.TaskID = &tid
		}
		if record.Labels, err = decodeLabels(labels); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

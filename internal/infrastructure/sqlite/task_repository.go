package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// taskColumns is the list of columns to select for task queries.
const taskColumns = `id, user_id, payload_type, done, skipped, parent_message_id, message_tree_id, lang, created_at`

// taskRepository implements tree.TaskRepository using SQLite.
type taskRepository struct {
	q querier
}

var _ tree.TaskRepository = (*taskRepository)(nil)

func scanTask(scanner interface{ Scan(...any) error }) (*TaskModel, error) {
	var model TaskModel
	err := scanner.Scan(
		&model.ID, &model.UserID, &model.PayloadType, &model.Done, &model.Skipped,
		&model.ParentMessageID, &model.MessageTreeID, &model.Lang, &model.CreatedAt,
	)
	return &model, err
}

func (r *taskRepository) Insert(ctx context.Context, t *tree.Task) error {
	model := toTaskModel(t)
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO task (
			id, user_id, payload_type, done, skipped, parent_message_id, message_tree_id, lang, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.ID, model.UserID, model.PayloadType, model.Done, model.Skipped,
		model.ParentMessageID, model.MessageTreeID, model.Lang, model.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (r *taskRepository) ByID(ctx context.Context, id uuid.UUID) (*tree.Task, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM task WHERE id = ?`, id.String(),
	)
	model, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tree.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task by id: %w", err)
	}
	return model.toDomain()
}

func (r *taskRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	return r.markFlag(ctx, id, "done")
}

func (r *taskRepository) MarkSkipped(ctx context.Context, id uuid.UUID) error {
	return r.markFlag(ctx, id, "skipped")
}

func (r *taskRepository) markFlag(ctx context.Context, id uuid.UUID, column string) error {
	// column is one of the fixed names above, never user input
	res, err := r.q.ExecContext(ctx,
		`UPDATE task SET `+column+` = 1 WHERE id = ?`, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark task %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return tree.ErrTaskNotFound
	}
	return nil
}

// RecentTargets returns the distinct parents of reply tasks handed out since
// the cutoff that are still open, across all workers. Dispatch avoids these
// parents so concurrent workers do not pile replies onto the same node.
func (r *taskRepository) RecentTargets(ctx context.Context, since time.Time) (map[uuid.UUID]bool, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT DISTINCT parent_message_id FROM task
		WHERE created_at >= ? AND done = 0 AND skipped = 0
			AND parent_message_id IS NOT NULL
			AND payload_type IN (?, ?)`,
		since.Unix(), string(tree.TaskPrompterReply), string(tree.TaskAssistantReply),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent targets: %w", err)
	}
	defer rows.Close()

	targets := make(map[uuid.UUID]bool)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning target id: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parsing target id: %w", err)
		}
		targets[id] = true
	}
	return targets, rows.Err()
}

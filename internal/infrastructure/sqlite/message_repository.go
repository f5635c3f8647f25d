package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// messageColumns is the list of columns to select for message queries.
const messageColumns = `id, parent_id, message_tree_id, task_id, user_id, role, text, lang,
	depth, children_count, review_count, review_result, ranking_count, rank, deleted, created_at`

// messageRepository implements tree.MessageRepository using SQLite.
type messageRepository struct {
	q querier
}

var _ tree.MessageRepository = (*messageRepository)(nil)

// scanMessage scans a row into a MessageModel.
func scanMessage(scanner interface{ Scan(...any) error }) (*MessageModel, error) {
	var model MessageModel
	err := scanner.Scan(
		&model.ID, &model.ParentID, &model.MessageTreeID, &model.TaskID,
		&model.UserID, &model.Role, &model.Text, &model.Lang,
		&model.Depth, &model.ChildrenCount, &model.ReviewCount, &model.ReviewResult,
		&model.RankingCount, &model.Rank, &model.Deleted, &model.CreatedAt,
	)
	return &model, err
}

func collectMessages(rows *sql.Rows) ([]*tree.Message, error) {
	defer rows.Close()
	var out []*tree.Message
	for rows.Next() {
		model, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg, err := model.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (r *messageRepository) Insert(ctx context.Context, m *tree.Message) error {
	model := toMessageModel(m)
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO message (
			id, parent_id, message_tree_id, task_id, user_id, role, text, lang,
			depth, children_count, review_count, review_result, ranking_count, rank, deleted, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.ID, model.ParentID, model.MessageTreeID, model.TaskID,
		model.UserID, model.Role, model.Text, model.Lang,
		model.Depth, model.ChildrenCount, model.ReviewCount, model.ReviewResult,
		model.RankingCount, model.Rank, model.Deleted, model.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *messageRepository) ByID(ctx context.Context, id uuid.UUID) (*tree.Message, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM message WHERE id = ?`, id.String(),
	)
	model, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tree.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message by id: %w", err)
	}
	return model.toDomain()
}

// Thread walks the parent chain with a recursive CTE, returning the
// conversation ordered root first.
func (r *messageRepository) Thread(ctx context.Context, id uuid.UUID) ([]*tree.Message, error) {
	rows, err := r.q.QueryContext(ctx,
		`WITH RECURSIVE thread(n) AS (
			SELECT id FROM message WHERE id = ?
			UNION ALL
			SELECT m.parent_id FROM message m JOIN thread ON m.id = thread.n
			WHERE m.parent_id IS NOT NULL
		)
		SELECT `+messageColumns+` FROM message WHERE id IN (SELECT n FROM thread)
		ORDER BY depth ASC`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, tree.ErrMessageNotFound
	}
	return msgs, nil
}

func (r *messageRepository) Children(ctx context.Context, parentID uuid.UUID, reviewedOnly bool) ([]*tree.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM message WHERE parent_id = ?`
	if reviewedOnly {
		query += ` AND review_result = 1 AND deleted = 0`
	}
	query += ` ORDER BY created_at ASC`
	rows, err := r.q.QueryContext(ctx, query, parentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	return collectMessages(rows)
}

func (r *messageRepository) TreeMessages(ctx context.Context, treeID uuid.UUID, includeDeleted bool) ([]*tree.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM message WHERE message_tree_id = ?`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY depth ASC, created_at ASC`
	rows, err := r.q.QueryContext(ctx, query, treeID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query tree messages: %w", err)
	}
	return collectMessages(rows)
}

func (r *messageRepository) Root(ctx context.Context, treeID uuid.UUID) (*tree.Message, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM message
		WHERE message_tree_id = ? AND parent_id IS NULL`,
		treeID.String(),
	)
	model, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tree.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tree root: %w", err)
	}
	return model.toDomain()
}

func (r *messageRepository) UserMessages(ctx context.Context, userID uuid.UUID) ([]*tree.Message, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM message WHERE user_id = ? ORDER BY created_at ASC`,
		userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user messages: %w", err)
	}
	return collectMessages(rows)
}

func (r *messageRepository) IncrementChildrenCount(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE message SET children_count = children_count + 1 WHERE id = ?`,
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to increment children count: %w", err)
	}
	return requireRow(res)
}

func (r *messageRepository) SetChildrenCount(ctx context.Context, id uuid.UUID, count int) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE message SET children_count = ? WHERE id = ?`,
		count, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set children count: %w", err)
	}
	return requireRow(res)
}

func (r *messageRepository) ApplyReview(ctx context.Context, id uuid.UUID, reviewCount int, reviewResult bool) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE message SET review_count = ?, review_result = ? WHERE id = ?`,
		reviewCount, reviewResult, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to apply review: %w", err)
	}
	return requireRow(res)
}

func (r *messageRepository) IncrementRankingCount(ctx context.Context, id uuid.UUID, delta int) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE message SET ranking_count = ranking_count + ? WHERE id = ?`,
		delta, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to increment ranking count: %w", err)
	}
	return requireRow(res)
}

func (r *messageRepository) ClearRanks(ctx context.Context, parentID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE message SET rank = NULL WHERE parent_id = ?`,
		parentID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to clear ranks: %w", err)
	}
	return nil
}

func (r *messageRepository) SetRank(ctx context.Context, id uuid.UUID, rank int) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE message SET rank = ? WHERE id = ?`,
		rank, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set rank: %w", err)
	}
	return requireRow(res)
}

func (r *messageRepository) SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE message SET deleted = ? WHERE id = ?`,
		deleted, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set deleted: %w", err)
	}
	return requireRow(res)
}

// requireRow maps a zero-row update onto ErrMessageNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return tree.ErrMessageNotFound
	}
	return nil
}

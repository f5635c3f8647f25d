package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// treeStateColumns is the list of columns to select for tree state queries.
const treeStateColumns = `message_tree_id, state, active, goal_tree_size, max_depth, max_children_count`

// treeStateRepository implements tree.TreeStateRepository using SQLite.
type treeStateRepository struct {
	q querier
}

var _ tree.TreeStateRepository = (*treeStateRepository)(nil)

func scanTreeState(scanner interface{ Scan(...any) error }) (*TreeStateModel, error) {
	var model TreeStateModel
	err := scanner.Scan(
		&model.MessageTreeID, &model.State, &model.Active,
		&model.GoalTreeSize, &model.MaxDepth, &model.MaxChildrenCount,
	)
	return &model, err
}

// statePlaceholders renders a (?, ?, ...) list plus its arguments for a
// state set filter.
func statePlaceholders(states []tree.State) (string, []any) {
	marks := make([]string, len(states))
	args := make([]any, len(states))
	for i, s := range states {
		marks[i] = "?"
		args[i] = string(s)
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

func (r *treeStateRepository) Insert(ctx context.Context, ts *tree.TreeState) error {
	model := toTreeStateModel(ts)
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO message_tree_state (
			message_tree_id, state, active, goal_tree_size, max_depth, max_children_count
		) VALUES (?, ?, ?, ?, ?, ?)`,
		model.MessageTreeID, model.State, model.Active,
		model.GoalTreeSize, model.MaxDepth, model.MaxChildrenCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tree state: %w", err)
	}
	return nil
}

func (r *treeStateRepository) ByTreeID(ctx context.Context, treeID uuid.UUID) (*tree.TreeState, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+treeStateColumns+` FROM message_tree_state WHERE message_tree_id = ?`,
		treeID.String(),
	)
	model, err := scanTreeState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tree.ErrTreeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tree state: %w", err)
	}
	return model.toDomain()
}

func (r *treeStateRepository) SetState(ctx context.Context, treeID uuid.UUID, state tree.State, active bool) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE message_tree_state SET state = ?, active = ? WHERE message_tree_id = ?`,
		string(state), active, treeID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set tree state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return tree.ErrTreeNotFound
	}
	return nil
}

// ActiveCountByLang counts active trees in the given states whose root
// message carries the language. Roots share their tree id, which makes the
// join cheap.
func (r *treeStateRepository) ActiveCountByLang(ctx context.Context, lang string, states []tree.State) (int, error) {
	in, args := statePlaceholders(states)
	args = append([]any{lang}, args...)
	row := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_tree_state mts
		JOIN message m ON m.id = mts.message_tree_id
		WHERE mts.active = 1 AND m.lang = ? AND mts.state IN `+in,
		args...,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active trees: %w", err)
	}
	return count, nil
}

func (r *treeStateRepository) TreesByState(ctx context.Context, states []tree.State, activeOnly bool) ([]uuid.UUID, error) {
	in, args := statePlaceholders(states)
	query := `SELECT message_tree_id FROM message_tree_state WHERE state IN ` + in
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY message_tree_id`
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trees by state: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning tree id: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parsing tree id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MissingTreeStates finds root messages without a state row so a repair pass
// can backfill them.
func (r *treeStateRepository) MissingTreeStates(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT m.message_tree_id FROM message m
		LEFT JOIN message_tree_state mts ON mts.message_tree_id = m.message_tree_id
		WHERE m.parent_id IS NULL AND mts.message_tree_id IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing tree states: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning tree id: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parsing tree id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *treeStateRepository) CountsByState(ctx context.Context) ([]tree.TreeStateCount, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM message_tree_state GROUP BY state ORDER BY state`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count tree states: %w", err)
	}
	defer rows.Close()

	var counts []tree.TreeStateCount
	for rows.Next() {
		var c tree.TreeStateCount
		var state string
		if err := rows.Scan(&state, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning state count: %w", err)
		}
		c.State = tree.State(state)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (r *treeStateRepository) Delete(ctx context.Context, treeID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM message_tree_state WHERE message_tree_id = ?`,
		treeID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete tree state: %w", err)
	}
	return nil
}

package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// purgeRepository hard-deletes rows across every table. Callers order message
// ids children first so the parent_id foreign key holds throughout.
type purgeRepository struct {
	q querier
}

var _ tree.PurgeRepository = (*purgeRepository)(nil)

func (r *purgeRepository) PurgeMessages(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := idPlaceholders(ids)

	dependents := []string{
		`DELETE FROM journal WHERE message_id IN ` + placeholders,
		`DELETE FROM message_embedding WHERE message_id IN ` + placeholders,
		`DELETE FROM message_toxicity WHERE message_id IN ` + placeholders,
		`DELETE FROM text_labels WHERE message_id IN ` + placeholders,
		`DELETE FROM message_reaction WHERE message_id IN ` + placeholders,
		`DELETE FROM task WHERE parent_message_id IN ` + placeholders,
		// The task that produced the message goes with it.
		`DELETE FROM task WHERE id IN (
			SELECT task_id FROM message WHERE id IN ` + placeholders + ` AND task_id IS NOT NULL)`,
	}
	for _, query := range dependents {
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to purge message dependents: %w", err)
		}
	}

	// Ballots over a purged message's sibling group still name the purged id,
	// so the whole group loses its rankings and collects fresh ones.
	parentSelect := `SELECT parent_id FROM message WHERE id IN ` + placeholders + ` AND parent_id IS NOT NULL`
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM message_reaction WHERE payload_type = ? AND message_id IN (`+parentSelect+`)`,
		append([]any{payloadTypeRanking}, args...)...,
	); err != nil {
		return fmt.Errorf("failed to purge sibling group rankings: %w", err)
	}
	if _, err := r.q.ExecContext(ctx,
		`UPDATE message SET ranking_count = 0 WHERE parent_id IN (`+parentSelect+`)`,
		args...,
	); err != nil {
		return fmt.Errorf("failed to reset sibling ranking counts: %w", err)
	}

	// Delete one at a time in the caller's order so children go before
	// their parents.
	for _, id := range ids {
		if _, err := r.q.ExecContext(ctx, `DELETE FROM message WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to purge message %s: %w", id, err)
		}
	}
	return nil
}

func (r *purgeRepository) PurgeTree(ctx context.Context, treeID uuid.UUID) error {
	tid := treeID.String()

	dependents := []string{
		`DELETE FROM journal WHERE tree_id = ? OR message_id IN (SELECT id FROM message WHERE message_tree_id = ?)`,
		`DELETE FROM message_embedding WHERE message_id IN (SELECT id FROM message WHERE message_tree_id = ?)`,
		`DELETE FROM message_toxicity WHERE message_id IN (SELECT id FROM message WHERE message_tree_id = ?)`,
		`DELETE FROM text_labels WHERE message_id IN (SELECT id FROM message WHERE message_tree_id = ?)`,
		`DELETE FROM message_reaction WHERE message_id IN (SELECT id FROM message WHERE message_tree_id = ?)`,
		`DELETE FROM task WHERE message_tree_id = ?`,
	}
	for _, query := range dependents {
		args := []any{tid}
		if strings.Count(query, "?") == 2 {
			args = append(args, tid)
		}
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to purge tree dependents: %w", err)
		}
	}

	// Messages go deepest first to satisfy the parent_id foreign key.
	var maxDepth int
	row := r.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(depth), -1) FROM message WHERE message_tree_id = ?`, tid)
	if err := row.Scan(&maxDepth); err != nil {
		return fmt.Errorf("failed to read tree depth: %w", err)
	}
	for depth := maxDepth; depth >= 0; depth-- {
		if _, err := r.q.ExecContext(ctx, `DELETE FROM message WHERE message_tree_id = ? AND depth = ?`, tid, depth); err != nil {
			return fmt.Errorf("failed to purge tree messages: %w", err)
		}
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM message_tree_state WHERE message_tree_id = ?`, tid); err != nil {
		return fmt.Errorf("failed to purge tree state: %w", err)
	}
	return nil
}

func (r *purgeRepository) PurgeUserData(ctx context.Context, userID uuid.UUID) error {
	uid := userID.String()
	queries := []string{
		`DELETE FROM journal WHERE user_id = ?`,
		`DELETE FROM message_reaction WHERE user_id = ?`,
		`DELETE FROM text_labels WHERE user_id = ?`,
		`DELETE FROM task WHERE user_id = ?`,
	}
	for _, query := range queries {
		if _, err := r.q.ExecContext(ctx, query, uid); err != nil {
			return fmt.Errorf("failed to purge user data: %w", err)
		}
	}
	return nil
}

// idPlaceholders builds a parenthesized placeholder list plus its args.
func idPlaceholders(ids []uuid.UUID) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id.String()
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

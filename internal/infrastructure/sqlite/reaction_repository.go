package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// reactionRepository implements tree.ReactionRepository using SQLite.
// Ranking submissions are stored as JSON payloads keyed by (task, user).
type reactionRepository struct {
	q querier
}

var _ tree.ReactionRepository = (*reactionRepository)(nil)

func (r *reactionRepository) InsertRanking(ctx context.Context, parentID uuid.UUID, reaction *tree.RankingReaction) error {
	payload, err := encodeRankingPayload(reaction.RankedMessageIDs)
	if err != nil {
		return err
	}
	createdAt := reaction.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO message_reaction (task_id, user_id, message_id, payload_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		reaction.TaskID.String(), reaction.UserID.String(), parentID.String(),
		payloadTypeRanking, payload, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ranking reaction: %w", err)
	}
	return nil
}

func (r *reactionRepository) RankingsByParent(ctx context.Context, parentID uuid.UUID) ([]*tree.RankingReaction, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT task_id, user_id, payload, created_at FROM message_reaction
		WHERE message_id = ? AND payload_type = ?
		ORDER BY created_at ASC`,
		parentID.String(), payloadTypeRanking,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rankings: %w", err)
	}
	defer rows.Close()

	var reactions []*tree.RankingReaction
	for rows.Next() {
		var taskID, userID, payload string
		var createdAt int64
		if err := rows.Scan(&taskID, &userID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning ranking reaction: %w", err)
		}
		tid, err := uuid.Parse(taskID)
		if err != nil {
			return nil, fmt.Errorf("parsing task id: %w", err)
		}
		uid, err := uuid.Parse(userID)
		if err != nil {
			return nil, fmt.Errorf("parsing user id: %w", err)
		}
		ids, err := decodeRankingPayload(payload)
		if err != nil {
			return nil, err
		}
		reactions = append(reactions, &tree.RankingReaction{
			TaskID:           tid,
			UserID:           uid,
			CreatedAt:        time.Unix(createdAt, 0),
			RankedMessageIDs: ids,
		})
	}
	return reactions, rows.Err()
}

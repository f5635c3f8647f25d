package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
)

// enrichmentRepository stores model outputs (embeddings, toxicity) computed
// for messages after they are accepted.
type enrichmentRepository struct {
	q querier
}

var _ tree.EnrichmentRepository = (*enrichmentRepository)(nil)

func (r *enrichmentRepository) SaveEmbedding(ctx context.Context, messageID uuid.UUID, model string, embedding []float64) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO message_embedding (message_id, model, embedding, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			model = excluded.model,
			embedding = excluded.embedding`,
		messageID.String(), model, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

func (r *enrichmentRepository) SaveToxicity(ctx context.Context, messageID uuid.UUID, model, label string, score float64) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO message_toxicity (message_id, model, label, score, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			model = excluded.model,
			label = excluded.label,
			score = excluded.score`,
		messageID.String(), model, label, score, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save toxicity: %w", err)
	}
	return nil
}

package manager

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/hf"
	"github.com/arborworks/arbor/internal/log"
	"github.com/arborworks/arbor/internal/tracing"
)

// HandleInteraction dispatches a worker submission to its typed handler.
func (m *TreeManager) HandleInteraction(ctx context.Context, interaction tree.Interaction) error {
	switch i := interaction.(type) {
	case tree.TextReply:
		_, err := m.HandleTextReply(ctx, i)
		return err
	case tree.Rating:
		return m.HandleRating(ctx, i)
	case tree.Ranking:
		return m.HandleRanking(ctx, i)
	case tree.TextLabels:
		return m.HandleTextLabels(ctx, i)
	default:
		return tree.ErrInvalidResponseType
	}
}

// HandleTextReply stores a worker's text answer. A reply without a parent
// becomes the root of a new tree in initial prompt review. Enrichment runs
// after the transaction commits and never fails the interaction.
func (m *TreeManager) HandleTextReply(ctx context.Context, reply tree.TextReply) (*tree.Message, error) {
	ctx, span := m.tracer.Start(ctx, tracing.SpanPrefixHandle+"text_reply",
		trace.WithAttributes(
			attribute.String(tracing.AttrUserID, reply.UserID.String()),
			attribute.String(tracing.AttrTaskID, reply.TaskID.String()),
		))
	defer span.End()

	var msg *tree.Message
	err := m.runner.InTx(ctx, func(s tree.Store) error {
		if _, err := requireEnabledUser(ctx, s, reply.UserID); err != nil {
			return err
		}
		task, err := s.Tasks().ByID(ctx, reply.TaskID)
		if err != nil {
			return err
		}
		if task.Done || task.Skipped {
			return tree.ErrTaskExpired
		}

		lang := reply.Lang
		if lang == "" {
			lang = "en"
		}
		taskID := reply.TaskID
		now := time.Now()

		if reply.ParentID == nil {
			id := uuid.New()
			msg = &tree.Message{
				ID:            id,
				MessageTreeID: id,
				TaskID:        &taskID,
				UserID:        reply.UserID,
				Role:          tree.RolePrompter,
				Text:          reply.Text,
				Lang:          lang,
				CreatedAt:     now,
			}
			if err := s.Messages().Insert(ctx, msg); err != nil {
				return err
			}
			if err := s.TreeStates().Insert(ctx, m.defaultTreeState(id, tree.StateInitialPromptReview)); err != nil {
				return err
			}
		} else {
			parent, err := s.Messages().ByID(ctx, *reply.ParentID)
			if err != nil {
				return err
			}
			parentID := parent.ID
			msg = &tree.Message{
				ID:            uuid.New(),
				ParentID:      &parentID,
				MessageTreeID: parent.MessageTreeID,
				TaskID:        &taskID,
				UserID:        reply.UserID,
				Role:          parent.Role.Opposite(),
				Text:          reply.Text,
				Lang:          lang,
				Depth:         parent.Depth + 1,
				CreatedAt:     now,
			}
			if err := s.Messages().Insert(ctx, msg); err != nil {
				return err
			}
			if err := s.Messages().IncrementChildrenCount(ctx, parentID); err != nil {
				return err
			}
		}

		if err := s.Tasks().MarkDone(ctx, reply.TaskID); err != nil {
			return err
		}
		treeID := msg.MessageTreeID
		msgID := msg.ID
		userID := msg.UserID
		return s.Journal().Record(ctx, "message_created", &treeID, &msgID, &userID, string(msg.Role))
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String(tracing.AttrMessageID, msg.ID.String()),
		attribute.String(tracing.AttrMessageRole, string(msg.Role)),
		attribute.String(tracing.AttrTreeID, msg.MessageTreeID.String()),
	)
	span.AddEvent(tracing.EventMessageStored)
	log.Debug(log.CatManager, "Message stored",
		"message_id", msg.ID, "tree_id", msg.MessageTreeID, "role", msg.Role)

	m.enrichMessage(msg)
	return msg, nil
}

// defaultTreeState builds the state row for a freshly rooted tree.
func (m *TreeManager) defaultTreeState(treeID uuid.UUID, state tree.State) *tree.TreeState {
	return &tree.TreeState{
		MessageTreeID:    treeID,
		State:            state,
		Active:           true,
		GoalTreeSize:     m.cfg.GoalTreeSize,
		MaxDepth:         m.cfg.MaxTreeDepth,
		MaxChildrenCount: m.cfg.MaxChildrenCount,
	}
}

// enrichMessage computes embedding and toxicity for the message off the
// request path. Failures are logged and swallowed.
func (m *TreeManager) enrichMessage(msg *tree.Message) {
	if m.enricher == nil {
		return
	}
	m.enrichWG.Add(1)
	go func() {
		defer m.enrichWG.Done()
		ctx := context.Background()

		if embedding, err := m.enricher.Embedding(ctx, msg.Text); err != nil {
			if !errors.Is(err, hf.ErrSkipped) {
				log.ErrorErr(log.CatHF, "Embedding computation failed", err, "message_id", msg.ID)
			}
		} else if err := m.runner.InTx(ctx, func(s tree.Store) error {
			return s.Enrichment().SaveEmbedding(ctx, msg.ID, m.enricher.EmbeddingModel(), embedding)
		}); err != nil {
			log.ErrorErr(log.CatHF, "Saving embedding failed", err, "message_id", msg.ID)
		}

		if toxicity, err := m.enricher.Toxicity(ctx, msg.Text); err != nil {
			if !errors.Is(err, hf.ErrSkipped) {
				log.ErrorErr(log.CatHF, "Toxicity computation failed", err, "message_id", msg.ID)
			}
		} else if err := m.runner.InTx(ctx, func(s tree.Store) error {
			return s.Enrichment().SaveToxicity(ctx, msg.ID, m.enricher.ToxicityModel(), toxicity.Label, toxicity.Score)
		}); err != nil {
			log.ErrorErr(log.CatHF, "Saving toxicity failed", err, "message_id", msg.ID)
		}
	}()
}

// HandleRating journals a free-standing message rating. Ratings carry no
// state machine consequence.
func (m *TreeManager) HandleRating(ctx context.Context, rating tree.Rating) error {
	return m.runner.InTx(ctx, func(s tree.Store) error {
		if _, err := requireEnabledUser(ctx, s, rating.UserID); err != nil {
			return err
		}
		if _, err := s.Messages().ByID(ctx, rating.MessageID); err != nil {
			return err
		}
		if err := s.Tasks().MarkDone(ctx, rating.TaskID); err != nil && !errors.Is(err, tree.ErrTaskNotFound) {
			return err
		}
		msgID := rating.MessageID
		userID := rating.UserID
		return s.Journal().Record(ctx, "message_rating", nil, &msgID, &userID, strconv.Itoa(rating.Rating))
	})
}

// HandleRanking stores a ranking of sibling replies and nudges the scoring
// check of the tree.
func (m *TreeManager) HandleRanking(ctx context.Context, r tree.Ranking) error {
	ctx, span := m.tracer.Start(ctx, tracing.SpanPrefixHandle+"ranking",
		trace.WithAttributes(
			attribute.String(tracing.AttrUserID, r.UserID.String()),
			attribute.String(tracing.AttrTaskID, r.TaskID.String()),
		))
	defer span.End()

	return m.runner.InTx(ctx, func(s tree.Store) error {
		if _, err := requireEnabledUser(ctx, s, r.UserID); err != nil {
			return err
		}
		task, err := s.Tasks().ByID(ctx, r.TaskID)
		if err != nil {
			return err
		}
		if task.Done || task.Skipped {
			return tree.ErrTaskExpired
		}
		if task.ParentMessageID == nil {
			return tree.ErrInvalidResponseType
		}
		parentID := *task.ParentMessageID

		if err := s.Reactions().InsertRanking(ctx, parentID, &tree.RankingReaction{
			TaskID:           r.TaskID,
			UserID:           r.UserID,
			RankedMessageIDs: r.RankedMessageIDs,
		}); err != nil {
			return err
		}
		for _, childID := range r.RankedMessageIDs {
			if err := s.Messages().IncrementRankingCount(ctx, childID, 1); err != nil {
				return err
			}
		}
		if err := s.Tasks().MarkDone(ctx, r.TaskID); err != nil {
			return err
		}

		parent, err := s.Messages().ByID(ctx, parentID)
		if err != nil {
			return err
		}
		span.AddEvent(tracing.EventRankingStored)
		return m.checkScoring(ctx, s, parent.MessageTreeID)
	})
}

// HandleTextLabels stores a label submission. When it satisfied a labeling
// task, the review decision of the subject message is re-evaluated and the
// state machine nudged.
func (m *TreeManager) HandleTextLabels(ctx context.Context, l tree.TextLabels) error {
	ctx, span := m.tracer.Start(ctx, tracing.SpanPrefixHandle+"text_labels",
		trace.WithAttributes(
			attribute.String(tracing.AttrUserID, l.UserID.String()),
			attribute.String(tracing.AttrMessageID, l.MessageID.String()),
		))
	defer span.End()

	return m.runner.InTx(ctx, func(s tree.Store) error {
		if _, err := requireEnabledUser(ctx, s, l.UserID); err != nil {
			return err
		}
		msg, err := s.Messages().ByID(ctx, l.MessageID)
		if err != nil {
			return err
		}

		record := &tree.TextLabelsRecord{
			MessageID: l.MessageID,
			UserID:    l.UserID,
			Labels:    l.Labels,
		}
		boundToTask := l.TaskID != uuid.Nil
		if boundToTask {
			task, err := s.Tasks().ByID(ctx, l.TaskID)
			if err != nil {
				return err
			}
			if task.Done || task.Skipped {
				return tree.ErrTaskExpired
			}
			taskID := l.TaskID
			record.TaskID = &taskID
		}
		if err := s.TextLabels().Insert(ctx, record); err != nil {
			return err
		}
		if boundToTask {
			if err := s.Tasks().MarkDone(ctx, l.TaskID); err != nil {
				return err
			}
			if err := m.applyReviewDecision(ctx, s, msg); err != nil {
				return err
			}
		}
		span.AddEvent(tracing.EventReviewCompleted)
		return m.checkRanking(ctx, s, msg.MessageTreeID)
	})
}

// applyReviewDecision recomputes acceptance over all reviews of the message
// and advances the tree accordingly. The accepted flag never flips back.
func (m *TreeManager) applyReviewDecision(ctx context.Context, s tree.Store, msg *tree.Message) error {
	records, err := s.TextLabels().ReviewsForMessage(ctx, msg.ID)
	if err != nil {
		return err
	}
	reviewCount := len(records)

	if msg.ReviewResult {
		return s.Messages().ApplyReview(ctx, msg.ID, reviewCount, true)
	}

	if msg.IsRoot() {
		if reviewCount < m.cfg.NumReviewsInitialPrompt {
			return s.Messages().ApplyReview(ctx, msg.ID, reviewCount, false)
		}
		if m.acceptPrompt(records) {
			if err := s.Messages().ApplyReview(ctx, msg.ID, reviewCount, true); err != nil {
				return err
			}
			return m.checkGrowing(ctx, s, msg.MessageTreeID)
		}
		if err := s.Messages().ApplyReview(ctx, msg.ID, reviewCount, false); err != nil {
			return err
		}
		return m.enterLowGrade(ctx, s, msg.MessageTreeID)
	}

	if reviewCount < m.cfg.NumReviewsReply {
		return s.Messages().ApplyReview(ctx, msg.ID, reviewCount, false)
	}
	if m.acceptReply(records) {
		return s.Messages().ApplyReview(ctx, msg.ID, reviewCount, true)
	}
	// Rejected replies are soft-deleted so they free their parent's slot and
	// stop counting toward the tree size.
	if err := s.Messages().ApplyReview(ctx, msg.ID, reviewCount, false); err != nil {
		return err
	}
	return s.Messages().SetDeleted(ctx, msg.ID, true)
}

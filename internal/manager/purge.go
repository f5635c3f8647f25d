package manager

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/log"
)

// TimeWindow restricts a purge to messages created inside the interval.
// Zero bounds are open.
type TimeWindow struct {
	After  time.Time
	Before time.Time
}

func (w *TimeWindow) contains(ts time.Time) bool {
	if w == nil {
		return true
	}
	if !w.After.IsZero() && ts.Before(w.After) {
		return false
	}
	if !w.Before.IsZero() && ts.After(w.Before) {
		return false
	}
	return true
}

// PurgeUserMessages hard-deletes a user's contributions, optionally limited
// to a creation time window. Trees rooted by the user are removed entirely
// when purgeInitialPrompts is set, otherwise they only lose the user's
// replies. Affected trees lose every descendant of a purged reply and are
// reactivated through the normal advancement checks.
func (m *TreeManager) PurgeUserMessages(ctx context.Context, userID uuid.UUID, purgeInitialPrompts bool, window *TimeWindow) error {
	return m.runner.InTx(ctx, func(s tree.Store) error {
		msgs, err := s.Messages().UserMessages(ctx, userID)
		if err != nil {
			return err
		}

		rootTrees := make(map[uuid.UUID]bool)
		repliesByTree := make(map[uuid.UUID][]uuid.UUID)
		for _, msg := range msgs {
			if !window.contains(msg.CreatedAt) {
				continue
			}
			if msg.IsRoot() {
				rootTrees[msg.MessageTreeID] = true
			} else {
				repliesByTree[msg.MessageTreeID] = append(repliesByTree[msg.MessageTreeID], msg.ID)
			}
		}

		if purgeInitialPrompts {
			for treeID := range rootTrees {
				if err := s.Purges().PurgeTree(ctx, treeID); err != nil {
					return err
				}
				delete(repliesByTree, treeID)
				log.Info(log.CatManager, "Purged tree", "tree_id", treeID, "user_id", userID)
			}
		}

		for treeID, replyIDs := range repliesByTree {
			if err := m.purgeSubtrees(ctx, s, treeID, replyIDs); err != nil {
				return err
			}
			if err := m.reactivateTree(ctx, s, treeID); err != nil {
				return err
			}
		}

		uid := userID
		return s.Journal().Record(ctx, "user_messages_purged", nil, nil, &uid, "")
	})
}

// PurgeUser removes every trace of the user: messages, reactions, labels,
// tasks and journal entries, then marks the account deleted and disabled.
func (m *TreeManager) PurgeUser(ctx context.Context, userID uuid.UUID, purgeInitialPrompts bool) error {
	if err := m.PurgeUserMessages(ctx, userID, purgeInitialPrompts, nil); err != nil {
		return err
	}
	return m.runner.InTx(ctx, func(s tree.Store) error {
		if err := s.Purges().PurgeUserData(ctx, userID); err != nil {
			return err
		}
		if err := s.Users().SetEnabled(ctx, userID, false, true); err != nil {
			return err
		}
		log.Info(log.CatManager, "Purged user", "user_id", userID)
		return nil
	})
}

// purgeSubtrees removes the given messages and all of their descendants,
// deepest rows first so the parent foreign key never dangles, and rewrites
// the children counts of the surviving parents.
func (m *TreeManager) purgeSubtrees(ctx context.Context, s tree.Store, treeID uuid.UUID, seedIDs []uuid.UUID) error {
	all, err := s.Messages().TreeMessages(ctx, treeID, true)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*tree.Message, len(all))
	children := make(map[uuid.UUID][]*tree.Message)
	for _, msg := range all {
		byID[msg.ID] = msg
		if msg.ParentID != nil {
			children[*msg.ParentID] = append(children[*msg.ParentID], msg)
		}
	}

	doomed := make(map[uuid.UUID]bool)
	queue := append([]uuid.UUID(nil), seedIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if doomed[id] {
			continue
		}
		doomed[id] = true
		for _, child := range children[id] {
			queue = append(queue, child.ID)
		}
	}

	ordered := make([]*tree.Message, 0, len(doomed))
	for id := range doomed {
		if msg, ok := byID[id]; ok {
			ordered = append(ordered, msg)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Depth > ordered[j].Depth })
	ids := make([]uuid.UUID, len(ordered))
	for i, msg := range ordered {
		ids[i] = msg.ID
	}
	if err := s.Purges().PurgeMessages(ctx, ids); err != nil {
		return err
	}

	// Survivors keep their stored children_count unless a child below them
	// was purged.
	for _, msg := range all {
		if doomed[msg.ID] {
			continue
		}
		count := 0
		for _, child := range children[msg.ID] {
			if !doomed[child.ID] && !child.Deleted {
				count++
			}
		}
		if count != msg.ChildrenCount {
			if err := s.Messages().SetChildrenCount(ctx, msg.ID, count); err != nil {
				return err
			}
		}
	}
	return nil
}

// reactivateTree rewinds a tree whose content changed under it and replays
// the advancement checks so it lands in the state its remaining messages
// justify. Moderator-halted trees stay halted.
func (m *TreeManager) reactivateTree(ctx context.Context, s tree.Store, treeID uuid.UUID) error {
	ts, err := s.TreeStates().ByTreeID(ctx, treeID)
	if err != nil {
		return err
	}
	if ts.State == tree.StateHaltedByModerator {
		return nil
	}
	if err := s.TreeStates().SetState(ctx, treeID, tree.StateInitialPromptReview, true); err != nil {
		return err
	}
	if err := m.checkGrowing(ctx, s, treeID); err != nil {
		return err
	}
	if err := m.checkRanking(ctx, s, treeID); err != nil {
		return err
	}
	return m.checkScoring(ctx, s, treeID)
}

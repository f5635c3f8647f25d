// Package export writes finished conversation trees as JSONL, one tree per
// line, with replies nested under their parent and ordered by consensus rank.
package export

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/log"
)

// Message is one exported conversation node.
type Message struct {
	ID        uuid.UUID  `json:"message_id"`
	Text      string     `json:"text"`
	Role      string     `json:"role"`
	Lang      string     `json:"lang"`
	Rank      *int       `json:"rank,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Replies   []*Message `json:"replies,omitempty"`
}

// Tree is one exported conversation tree.
type Tree struct {
	MessageTreeID uuid.UUID `json:"message_tree_id"`
	State         string    `json:"tree_state"`
	Prompt        *Message  `json:"prompt"`
}

// BuildTree nests the flat message list of one tree. Soft-deleted messages
// must already be filtered out. Returns nil when the list has no root.
func BuildTree(state tree.State, msgs []*tree.Message) *Tree {
	nodes := make(map[uuid.UUID]*Message, len(msgs))
	var root *Message
	var treeID uuid.UUID
	for _, m := range msgs {
		nodes[m.ID] = &Message{
			ID:        m.ID,
			Text:      m.Text,
			Role:      string(m.Role),
			Lang:      m.Lang,
			Rank:      m.Rank,
			CreatedAt: m.CreatedAt,
		}
	}
	for _, m := range msgs {
		if m.ParentID == nil {
			root = nodes[m.ID]
			treeID = m.MessageTreeID
			continue
		}
		if parent, ok := nodes[*m.ParentID]; ok {
			parent.Replies = append(parent.Replies, nodes[m.ID])
		}
	}
	if root == nil {
		return nil
	}
	sortReplies(root)
	return &Tree{MessageTreeID: treeID, State: state.String(), Prompt: root}
}

// sortReplies orders every sibling set by rank, unranked last, ties by age.
func sortReplies(node *Message) {
	sort.SliceStable(node.Replies, func(i, j int) bool {
		a, b := node.Replies[i], node.Replies[j]
		switch {
		case a.Rank != nil && b.Rank != nil:
			return *a.Rank < *b.Rank
		case a.Rank != nil:
			return true
		case b.Rank != nil:
			return false
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
	for _, reply := range node.Replies {
		sortReplies(reply)
	}
}

// WriteTrees writes one JSON document per tree, newline separated.
func WriteTrees(w io.Writer, trees []*Tree) error {
	enc := json.NewEncoder(w)
	for _, t := range trees {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("failed to encode tree %s: %w", t.MessageTreeID, err)
		}
	}
	return nil
}

// WriteFile writes the trees to path, gzip-compressed when the name ends in
// .gz.
func WriteFile(path string, trees []*Tree) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if strings.HasSuffix(path, ".gz") {
		zw := gzip.NewWriter(f)
		defer func() {
			if cerr := zw.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = zw
	}
	return WriteTrees(w, trees)
}

// ExportReadyTrees collects every tree in ready_for_export.
func ExportReadyTrees(ctx context.Context, runner tree.Runner) ([]*Tree, error) {
	var trees []*Tree
	err := runner.View(ctx, func(s tree.Store) error {
		ids, err := s.TreeStates().TreesByState(ctx, []tree.State{tree.StateReadyForExport}, false)
		if err != nil {
			return err
		}
		trees, err = collectTrees(ctx, s, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info(log.CatExport, "Collected trees for export", "count", len(trees))
	return trees, nil
}

// ExportUserTrees collects every tree the user contributed a message to,
// regardless of state. Used for data takeout requests.
func ExportUserTrees(ctx context.Context, runner tree.Runner, userID uuid.UUID) ([]*Tree, error) {
	var trees []*Tree
	err := runner.View(ctx, func(s tree.Store) error {
		msgs, err := s.Messages().UserMessages(ctx, userID)
		if err != nil {
			return err
		}
		seen := make(map[uuid.UUID]bool)
		var ids []uuid.UUID
		for _, m := range msgs {
			if !seen[m.MessageTreeID] {
				seen[m.MessageTreeID] = true
				ids = append(ids, m.MessageTreeID)
			}
		}
		trees, err = collectTrees(ctx, s, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info(log.CatExport, "Collected user trees for export", "user_id", userID, "count", len(trees))
	return trees, nil
}

func collectTrees(ctx context.Context, s tree.Store, ids []uuid.UUID) ([]*Tree, error) {
	var out []*Tree
	for _, id := range ids {
		ts, err := s.TreeStates().ByTreeID(ctx, id)
		if err != nil {
			return nil, err
		}
		msgs, err := s.Messages().TreeMessages(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if t := BuildTree(ts.State, msgs); t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

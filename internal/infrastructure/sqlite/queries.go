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

// queryRepository materializes the read-side joins the dispatcher and the
// tree state checks run on. Every query filters soft-deleted rows.
type queryRepository struct {
	q querier
}

var _ tree.QueryRepository = (*queryRepository)(nil)

// incompleteRankingSelect groups accepted replies of a role under their parent
// in active ranking trees and keeps groups below the ranking quorum.
const incompleteRankingSelect = `SELECT mp.id, mp.role, COUNT(mc.id), MIN(mc.ranking_count), mp.message_tree_id
	FROM message_tree_state mts
	JOIN message mp ON mp.message_tree_id = mts.message_tree_id
	JOIN message mc ON mc.parent_id = mp.id
	WHERE mts.active = 1 AND mts.state = ?
		AND mp.review_result = 1 AND mp.deleted = 0
		AND mp.lang = ?
		AND mc.role = ? AND mc.review_result = 1 AND mc.deleted = 0`

const incompleteRankingGroupBy = `
	GROUP BY mp.id, mp.role, mp.message_tree_id
	HAVING COUNT(mc.id) > 1 AND MIN(mc.ranking_count) < ?`

// IncompleteRankings returns parents in active ranking trees with at least two
// accepted replies of the role whose least-ranked child is still below the
// quorum. Parents the user already ranked are excluded unless the filter lifts
// the duplicate exclusion.
func (r *queryRepository) IncompleteRankings(ctx context.Context, userID uuid.UUID, role tree.Role, lang string, requiredRankings int, filter tree.ReviewFilter) ([]tree.IncompleteRanking, error) {
	query := incompleteRankingSelect
	args := []any{tree.StateRanking.String(), lang, role.String()}
	if !filter.AllowDuplicates {
		query += `
		AND NOT EXISTS (
			SELECT 1 FROM message_reaction mr
			WHERE mr.message_id = mp.id AND mr.user_id = ? AND mr.payload_type = ?
		)`
		args = append(args, userID.String(), payloadTypeRanking)
	}
	query += incompleteRankingGroupBy
	args = append(args, requiredRankings)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incomplete rankings: %w", err)
	}
	defer rows.Close()

	var out []tree.IncompleteRanking
	for rows.Next() {
		var parentID, parentRole, treeID string
		var ir tree.IncompleteRanking
		if err := rows.Scan(&parentID, &parentRole, &ir.ChildrenCount, &ir.ChildMinRankingCount, &treeID); err != nil {
			return nil, fmt.Errorf("scanning incomplete ranking: %w", err)
		}
		if ir.ParentID, err = uuid.Parse(parentID); err != nil {
			return nil, fmt.Errorf("parsing parent id: %w", err)
		}
		if ir.MessageTreeID, err = uuid.Parse(treeID); err != nil {
			return nil, fmt.Errorf("parsing tree id: %w", err)
		}
		ir.Role = tree.Role(parentRole)
		out = append(out, ir)
	}
	return out, rows.Err()
}

// IncompleteRankingCount counts the groups IncompleteRankings would return
// with no user exclusion. Backlog activation keys the per-language ranking
// supply on this.
func (r *queryRepository) IncompleteRankingCount(ctx context.Context, role tree.Role, lang string, requiredRankings int) (int, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (`+incompleteRankingSelect+incompleteRankingGroupBy+`)`,
		tree.StateRanking.String(), lang, role.String(), requiredRankings,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count incomplete rankings: %w", err)
	}
	return count, nil
}

// ExtendibleParents returns accepted messages of the role in active growing
// trees that sit above the depth limit and still have room for replies.
// Parents the user already replied under are skipped unless the filter lifts
// the duplicate exclusion.
func (r *queryRepository) ExtendibleParents(ctx context.Context, userID uuid.UUID, role tree.Role, lang string, filter tree.ReviewFilter) ([]tree.ExtendibleParent, error) {
	query := `SELECT mp.id, mp.role, mp.depth, mp.message_tree_id, COUNT(mc.id)
		FROM message_tree_state mts
		JOIN message mp ON mp.message_tree_id = mts.message_tree_id
		LEFT JOIN message mc ON mc.parent_id = mp.id AND mc.deleted = 0
		WHERE mts.active = 1 AND mts.state = ?
			AND mp.depth < mts.max_depth
			AND mp.review_result = 1 AND mp.deleted = 0
			AND mp.role = ? AND mp.lang = ?
		GROUP BY mp.id, mp.role, mp.depth, mp.message_tree_id, mts.max_children_count
		HAVING COUNT(mc.id) < mts.max_children_count`
	args := []any{tree.StateGrowing.String(), role.String(), lang}
	if !filter.AllowDuplicates {
		query += `
			AND COUNT(CASE WHEN mc.user_id = ? THEN 1 END) = 0`
		args = append(args, userID.String())
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query extendible parents: %w", err)
	}
	defer rows.Close()

	var out []tree.ExtendibleParent
	for rows.Next() {
		var parentID, parentRole, treeID string
		var ep tree.ExtendibleParent
		if err := rows.Scan(&parentID, &parentRole, &ep.Depth, &treeID, &ep.ActiveChildrenCount); err != nil {
			return nil, fmt.Errorf("scanning extendible parent: %w", err)
		}
		if ep.ParentID, err = uuid.Parse(parentID); err != nil {
			return nil, fmt.Errorf("parsing parent id: %w", err)
		}
		if ep.MessageTreeID, err = uuid.Parse(treeID); err != nil {
			return nil, fmt.Errorf("parsing tree id: %w", err)
		}
		ep.ParentRole = tree.Role(parentRole)
		out = append(out, ep)
	}
	return out, rows.Err()
}

// treeSizeSelect counts the non-deleted messages of a tree; rejected messages
// are soft-deleted on review failure so the count covers accepted rows plus
// rows still collecting reviews.
const treeSizeSelect = `SELECT mts.message_tree_id, mts.goal_tree_size,
	COUNT(m.id),
	SUM(CASE WHEN m.review_result = 0 THEN 1 ELSE 0 END)
FROM message_tree_state mts
JOIN message m ON m.message_tree_id = mts.message_tree_id AND m.deleted = 0`

func scanTreeSize(scanner interface{ Scan(...any) error }) (*tree.TreeSize, error) {
	var treeID string
	var ts tree.TreeSize
	if err := scanner.Scan(&treeID, &ts.GoalTreeSize, &ts.TreeSize, &ts.AwaitingReview); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(treeID)
	if err != nil {
		return nil, fmt.Errorf("parsing tree id: %w", err)
	}
	ts.MessageTreeID = id
	return &ts, nil
}

// ExtendibleTrees returns active growing trees whose root carries the language
// and whose message count has not reached the goal size.
func (r *queryRepository) ExtendibleTrees(ctx context.Context, lang string) ([]tree.TreeSize, error) {
	rows, err := r.q.QueryContext(ctx,
		treeSizeSelect+`
		JOIN message root ON root.message_tree_id = mts.message_tree_id AND root.parent_id IS NULL
		WHERE mts.active = 1 AND mts.state = ? AND root.lang = ?
		GROUP BY mts.message_tree_id, mts.goal_tree_size
		HAVING COUNT(m.id) < mts.goal_tree_size`,
		tree.StateGrowing.String(), lang,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query extendible trees: %w", err)
	}
	defer rows.Close()

	var out []tree.TreeSize
	for rows.Next() {
		ts, err := scanTreeSize(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning extendible tree: %w", err)
		}
		out = append(out, *ts)
	}
	return out, rows.Err()
}

func (r *queryRepository) TreeSize(ctx context.Context, treeID uuid.UUID) (*tree.TreeSize, error) {
	row := r.q.QueryRowContext(ctx,
		treeSizeSelect+`
		WHERE mts.message_tree_id = ?
		GROUP BY mts.message_tree_id, mts.goal_tree_size`,
		treeID.String(),
	)
	ts, err := scanTreeSize(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tree.ErrTreeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tree size: %w", err)
	}
	return ts, nil
}

// RankingGroups lists, per parent of the tree with more than one accepted
// reply of the role, the size of the sibling set and the lowest ranking count
// among its members.
func (r *queryRepository) RankingGroups(ctx context.Context, treeID uuid.UUID, role tree.Role) ([]tree.IncompleteRanking, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT mp.id, mp.role, COUNT(mc.id), MIN(mc.ranking_count), mp.message_tree_id
		FROM message mp
		JOIN message mc ON mc.parent_id = mp.id
		WHERE mp.message_tree_id = ?
			AND mp.review_result = 1 AND mp.deleted = 0
			AND mc.role = ? AND mc.review_result = 1 AND mc.deleted = 0
		GROUP BY mp.id, mp.role, mp.message_tree_id
		HAVING COUNT(mc.id) > 1`,
		treeID.String(), role.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranking groups: %w", err)
	}
	defer rows.Close()

	var out []tree.IncompleteRanking
	for rows.Next() {
		var parentID, parentRole, tID string
		var ir tree.IncompleteRanking
		if err := rows.Scan(&parentID, &parentRole, &ir.ChildrenCount, &ir.ChildMinRankingCount, &tID); err != nil {
			return nil, fmt.Errorf("scanning ranking group: %w", err)
		}
		if ir.ParentID, err = uuid.Parse(parentID); err != nil {
			return nil, fmt.Errorf("parsing parent id: %w", err)
		}
		if ir.MessageTreeID, err = uuid.Parse(tID); err != nil {
			return nil, fmt.Errorf("parsing tree id: %w", err)
		}
		ir.Role = tree.Role(parentRole)
		out = append(out, ir)
	}
	return out, rows.Err()
}

// reviewExclusions composes the self-exclusion and duplicate-label anti-join
// clauses the filter leaves enabled. Each enabled clause consumes one userID
// argument, returned in order.
func reviewExclusions(userID uuid.UUID, filter tree.ReviewFilter) (string, []any) {
	var clauses string
	var args []any
	if !filter.AllowSelf {
		clauses += `
			AND m.user_id != ?`
		args = append(args, userID.String())
	}
	if !filter.AllowDuplicates {
		clauses += `
			AND NOT EXISTS (
				SELECT 1 FROM text_labels tl
				WHERE tl.message_id = m.id AND tl.user_id = ?
			)`
		args = append(args, userID.String())
	}
	return clauses, args
}

// PromptsAwaitingReview returns root prompts of trees in initial prompt review
// that the user neither authored nor already labeled.
func (r *queryRepository) PromptsAwaitingReview(ctx context.Context, userID uuid.UUID, lang string, filter tree.ReviewFilter) ([]*tree.Message, error) {
	exclusions, exclusionArgs := reviewExclusions(userID, filter)
	args := append([]any{tree.StateInitialPromptReview.String(), lang}, exclusionArgs...)
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+qualifiedMessageColumns("m")+`
		FROM message m
		JOIN message_tree_state mts ON mts.message_tree_id = m.message_tree_id
		WHERE mts.active = 1 AND mts.state = ?
			AND m.parent_id IS NULL
			AND m.review_result = 0 AND m.deleted = 0
			AND m.lang = ?`+exclusions+`
		ORDER BY m.created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompts awaiting review: %w", err)
	}
	return collectMessages(rows)
}

// RepliesAwaitingReview returns replies of the role in active growing trees
// that the user neither authored nor already labeled.
func (r *queryRepository) RepliesAwaitingReview(ctx context.Context, userID uuid.UUID, role tree.Role, lang string, filter tree.ReviewFilter) ([]*tree.Message, error) {
	exclusions, exclusionArgs := reviewExclusions(userID, filter)
	args := append([]any{tree.StateGrowing.String(), role.String(), lang}, exclusionArgs...)
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+qualifiedMessageColumns("m")+`
		FROM message m
		JOIN message_tree_state mts ON mts.message_tree_id = m.message_tree_id
		WHERE mts.active = 1 AND mts.state = ?
			AND m.parent_id IS NOT NULL
			AND m.role = ?
			AND m.review_result = 0 AND m.deleted = 0
			AND m.lang = ?`+exclusions+`
		ORDER BY m.created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query replies awaiting review: %w", err)
	}
	return collectMessages(rows)
}

// TreeMessageStats summarises the non-deleted messages of every active tree.
func (r *queryRepository) TreeMessageStats(ctx context.Context) ([]tree.TreeMessageCountStats, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT mts.message_tree_id, mts.state, mts.goal_tree_size,
			MAX(m.depth), MIN(m.created_at), MAX(m.created_at), COUNT(m.id)
		FROM message_tree_state mts
		JOIN message m ON m.message_tree_id = mts.message_tree_id AND m.deleted = 0
		WHERE mts.active = 1
		GROUP BY mts.message_tree_id, mts.state, mts.goal_tree_size
		ORDER BY MIN(m.created_at) ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tree message stats: %w", err)
	}
	defer rows.Close()

	var out []tree.TreeMessageCountStats
	for rows.Next() {
		var treeID, state string
		var oldest, youngest int64
		var st tree.TreeMessageCountStats
		if err := rows.Scan(&treeID, &state, &st.GoalTreeSize, &st.Depth, &oldest, &youngest, &st.Count); err != nil {
			return nil, fmt.Errorf("scanning tree message stats: %w", err)
		}
		if st.MessageTreeID, err = uuid.Parse(treeID); err != nil {
			return nil, fmt.Errorf("parsing tree id: %w", err)
		}
		st.State = tree.State(state)
		st.Oldest = time.Unix(oldest, 0)
		st.Youngest = time.Unix(youngest, 0)
		out = append(out, st)
	}
	return out, rows.Err()
}

// qualifiedMessageColumns prefixes every message column with the table alias.
func qualifiedMessageColumns(alias string) string {
	return alias + `.id, ` + alias + `.parent_id, ` + alias + `.message_tree_id, ` + alias + `.task_id, ` +
		alias + `.user_id, ` + alias + `.role, ` + alias + `.text, ` + alias + `.lang, ` +
		alias + `.depth, ` + alias + `.children_count, ` + alias + `.review_count, ` + alias + `.review_result, ` +
		alias + `.ranking_count, ` + alias + `.rank, ` + alias + `.deleted, ` + alias + `.created_at`
}

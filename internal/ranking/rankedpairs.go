// Package ranking implements ranked-pairs consensus over worker ballots.
// The functions here are pure: they know nothing about persistence and can be
// exercised directly in tests.
package ranking

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrNoBallots is returned when consensus is requested with no ballots.
var ErrNoBallots = errors.New("no ballots")

// ErrMalformedBallot is returned when a ballot is not a total order over the
// candidate set (duplicate or missing candidates).
var ErrMalformedBallot = errors.New("malformed ballot")

// Common returns the intersection of candidate ids across all ballots.
func Common(ballots [][]uuid.UUID) []uuid.UUID {
	if len(ballots) == 0 {
		return nil
	}
	counts := make(map[uuid.UUID]int)
	for _, ballot := range ballots {
		seen := make(map[uuid.UUID]bool, len(ballot))
		for _, id := range ballot {
			if !seen[id] {
				seen[id] = true
				counts[id]++
			}
		}
	}
	var common []uuid.UUID
	for _, id := range ballots[0] {
		if counts[id] == len(ballots) {
			common = append(common, id)
		}
	}
	return common
}

// Restrict filters each ballot down to the ids in keep, preserving order.
func Restrict(ballots [][]uuid.UUID, keep []uuid.UUID) [][]uuid.UUID {
	keepSet := make(map[uuid.UUID]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	out := make([][]uuid.UUID, len(ballots))
	for i, ballot := range ballots {
		restricted := make([]uuid.UUID, 0, len(keep))
		for _, id := range ballot {
			if keepSet[id] {
				restricted = append(restricted, id)
			}
		}
		out[i] = restricted
	}
	return out
}

// lockedPair is one candidate pairing oriented winner-first.
type lockedPair struct {
	winner uuid.UUID
	loser  uuid.UUID
	margin int
}

// RankedPairs computes the ranked-pairs consensus order over ballots. Every
// ballot must be a total order over the same candidate set; pass ballots
// through Common and Restrict first. The result orders the candidates best
// first and is deterministic: ties in pair margins break on winner id
// ascending, then loser id ascending.
func RankedPairs(ballots [][]uuid.UUID) ([]uuid.UUID, error) {
	if len(ballots) == 0 {
		return nil, ErrNoBallots
	}

	candidates := ballots[0]
	n := len(candidates)
	index := make(map[uuid.UUID]int, n)
	for i, id := range candidates {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate candidate %s", ErrMalformedBallot, id)
		}
		index[id] = i
	}

	// Positions of every candidate in every ballot; also validates that each
	// ballot is a permutation of the candidate set.
	positions := make([][]int, len(ballots))
	for b, ballot := range ballots {
		if len(ballot) != n {
			return nil, fmt.Errorf("%w: ballot %d has %d candidates, want %d", ErrMalformedBallot, b, len(ballot), n)
		}
		pos := make([]int, n)
		seen := make([]bool, n)
		for p, id := range ballot {
			i, ok := index[id]
			if !ok {
				return nil, fmt.Errorf("%w: ballot %d contains unknown candidate %s", ErrMalformedBallot, b, id)
			}
			if seen[i] {
				return nil, fmt.Errorf("%w: ballot %d repeats candidate %s", ErrMalformedBallot, b, id)
			}
			seen[i] = true
			pos[i] = p
		}
		positions[b] = pos
	}

	// Pairwise margins, oriented winner-first. A zero margin orients on the
	// deterministic tie-break so the locked graph stays a complete tournament.
	pairs := make([]lockedPair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			margin := 0
			for _, pos := range positions {
				if pos[i] < pos[j] {
					margin++
				} else {
					margin--
				}
			}
			a, b := candidates[i], candidates[j]
			if margin < 0 {
				a, b = b, a
				margin = -margin
			} else if margin == 0 && b.String() < a.String() {
				a, b = b, a
			}
			pairs = append(pairs, lockedPair{winner: a, loser: b, margin: margin})
		}
	}

	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].margin != pairs[b].margin {
			return pairs[a].margin > pairs[b].margin
		}
		if pairs[a].winner != pairs[b].winner {
			return pairs[a].winner.String() < pairs[b].winner.String()
		}
		return pairs[a].loser.String() < pairs[b].loser.String()
	})

	// Lock pairs in order, skipping any that would close a cycle.
	edges := make(map[uuid.UUID]map[uuid.UUID]bool, n)
	for _, id := range candidates {
		edges[id] = make(map[uuid.UUID]bool)
	}
	for _, p := range pairs {
		if !reachable(edges, p.loser, p.winner) {
			edges[p.winner][p.loser] = true
		}
	}

	// Peel sources: the unique source is rank 0, remove and repeat.
	remaining := make(map[uuid.UUID]bool, n)
	indegree := make(map[uuid.UUID]int, n)
	for _, id := range candidates {
		remaining[id] = true
	}
	for from, tos := range edges {
		_ = from
		for to := range tos {
			indegree[to]++
		}
	}

	order := make([]uuid.UUID, 0, n)
	for len(remaining) > 0 {
		var source uuid.UUID
		found := 0
		for id := range remaining {
			if indegree[id] == 0 {
				source = id
				found++
			}
		}
		if found != 1 {
			return nil, fmt.Errorf("locked graph has %d sources, want exactly one", found)
		}
		order = append(order, source)
		delete(remaining, source)
		for to := range edges[source] {
			if remaining[to] {
				indegree[to]--
			}
		}
	}
	return order, nil
}

// reachable reports whether to can be reached from from via locked edges.
func reachable(edges map[uuid.UUID]map[uuid.UUID]bool, from, to uuid.UUID) bool {
	if from == to {
		return true
	}
	stack := []uuid.UUID{from}
	visited := map[uuid.UUID]bool{from: true}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range edges[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

package deadlock

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// Cycle is a normalized simple cycle in the wait-for graph. The node order
// is canonical: rotated so the lexicographically smallest id is first, with
// traversal direction chosen to give the lexicographically smaller sequence.
// Equal cycles entered from different members normalize identically, which
// makes the cycle its own dedup key.
type Cycle struct {
	TaskIDs []string
}

// Key returns the canonical string form of the cycle
func (c Cycle) Key() string {
	return strings.Join(c.TaskIDs, ">")
}

// ThreadID derives the deterministic message thread id for this cycle, so
// every notification about the same deadlock lands in one thread
func (c Cycle) ThreadID() string {
	sum := sha256.Sum256([]byte(c.Key()))
	return fmt.Sprintf("deadlock-%x", sum[:6])
}

// Contains reports whether taskID participates in the cycle
func (c Cycle) Contains(taskID string) bool {
	for _, id := range c.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// Normalize canonicalizes a raw cycle ordering: rotate the smallest id to
// the front, then pick the lexicographically smaller of the forward and
// reversed traversals.
func Normalize(ids []string) Cycle {
	if len(ids) == 0 {
		return Cycle{}
	}

	smallest := 0
	for i, id := range ids {
		if id < ids[smallest] {
			smallest = i
		}
	}

	n := len(ids)
	forward := make([]string, n)
	for i := 0; i < n; i++ {
		forward[i] = ids[(smallest+i)%n]
	}

	// Reversed traversal keeps the same anchor and walks the other way
	reversed := make([]string, n)
	reversed[0] = forward[0]
	for i := 1; i < n; i++ {
		reversed[i] = forward[n-i]
	}

	for i := 1; i < n; i++ {
		if forward[i] != reversed[i] {
			if reversed[i] < forward[i] {
				return Cycle{TaskIDs: reversed}
			}
			break
		}
	}
	return Cycle{TaskIDs: forward}
}

// Graph is an in-memory snapshot of the wait-for relation: an edge t -> u
// for every u in t.blocked_by. Only blocked tasks contribute edges; other
// statuses and missing targets are leaves.
type Graph struct {
	edges map[string][]string
}

// BuildGraph constructs the wait-for graph from a set of blocked tasks
func BuildGraph(blocked []*types.Task) *Graph {
	g := &Graph{edges: make(map[string][]string, len(blocked))}
	for _, t := range blocked {
		if t.Status != types.TaskStatusBlocked || len(t.BlockedBy) == 0 {
			continue
		}
		g.edges[t.ID] = t.BlockedBy
	}
	return g
}

type frame struct {
	node string
	next int
}

// FindCycle runs an iterative depth-first search from start and returns the
// first simple cycle passing through start, normalized. Edges back onto
// already-visited nodes belong to cycles that do not contain start; those
// are skipped here and found when the sweep queries their own members.
// Returns nil when no path leads back to start.
func (g *Graph) FindCycle(start string) *Cycle {
	if len(g.edges[start]) == 0 {
		return nil
	}

	stack := []frame{{node: start}}
	visited := map[string]bool{start: true}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		targets := g.edges[top.node]

		if top.next >= len(targets) {
			stack = stack[:len(stack)-1]
			continue
		}

		target := targets[top.next]
		top.next++

		if target == start {
			ids := make([]string, 0, len(stack))
			for _, f := range stack {
				ids = append(ids, f.node)
			}
			cycle := Normalize(ids)
			return &cycle
		}
		if visited[target] || len(g.edges[target]) == 0 {
			continue
		}

		visited[target] = true
		stack = append(stack, frame{node: target})
	}
	return nil
}

// FindAll sweeps every blocked node and returns the deduplicated set of
// normalized cycles, in deterministic first-seen order over the input
func FindAll(blocked []*types.Task) []Cycle {
	g := BuildGraph(blocked)
	seen := make(map[string]bool)
	var out []Cycle
	for _, t := range blocked {
		cycle := g.FindCycle(t.ID)
		if cycle == nil || seen[cycle.Key()] {
			continue
		}
		seen[cycle.Key()] = true
		out = append(out, *cycle)
	}
	return out
}

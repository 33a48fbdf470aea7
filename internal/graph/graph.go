// Package graph builds the dependency structure a commit walks: nodes are
// entities, edges run from an entity to the entities its relationship
// fields reference, restricted to the set being committed.
//
// Creation and update walk children first (a referenced entity must exist
// remotely before anything pointing at it is written). Removal walks
// parents first is the naive guess, but remotes reject deleting a resource
// other rows still reference, so removal also walks children first here;
// the direction is the caller's choice either way.
package graph

import (
	"fmt"
	"strings"

	"github.com/roach88/remit/internal/entity"
)

// ErrCycle indicates the committed set contains a reference cycle, which
// no dispatch order can satisfy.
var ErrCycle = fmt.Errorf("dependency cycle")

// Direction selects which edge end counts as a predecessor.
type Direction int

const (
	// ChildrenFirst completes referenced entities before referencing ones.
	ChildrenFirst Direction = iota
	// ParentsFirst completes referencing entities before referenced ones.
	ParentsFirst
)

// Node wraps one entity with its in-set relationship edges.
type Node struct {
	Entity   *entity.Entity
	parents  []*Node
	children []*Node
}

// Children returns the nodes this entity references.
func (n *Node) Children() []*Node { return n.children }

// Parents returns the nodes referencing this entity.
func (n *Node) Parents() []*Node { return n.parents }

// Graph is an immutable dependency graph over a fixed entity set.
type Graph struct {
	nodes []*Node
	index map[*entity.Entity]*Node
}

// Build constructs the graph for the given entities. Edges to entities
// outside the set are ignored: they carry no ordering constraint for this
// commit. Returns ErrCycle when the set contains a reference cycle.
func Build(entities []*entity.Entity) (*Graph, error) {
	g := &Graph{
		nodes: make([]*Node, 0, len(entities)),
		index: make(map[*entity.Entity]*Node, len(entities)),
	}
	for _, e := range entities {
		if _, dup := g.index[e]; dup {
			continue
		}
		n := &Node{Entity: e}
		g.index[e] = n
		g.nodes = append(g.nodes, n)
	}
	for _, n := range g.nodes {
		for _, c := range n.Entity.Children() {
			child, inSet := g.index[c]
			if !inSet {
				continue
			}
			n.children = append(n.children, child)
			child.parents = append(child.parents, n)
		}
	}
	if path := g.findCycle(); path != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycle, describe(path))
	}
	return g, nil
}

// Nodes returns the nodes in input order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node looks up the node for an entity.
func (g *Graph) Node(e *entity.Entity) (*Node, bool) {
	n, ok := g.index[e]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Predecessors returns the nodes that must complete before the given one
// in the given direction.
func (g *Graph) Predecessors(n *Node, dir Direction) []*Node {
	if dir == ChildrenFirst {
		return n.children
	}
	return n.parents
}

// Ready returns, in input order, the nodes not yet done whose predecessors
// are all done.
func (g *Graph) Ready(dir Direction, done func(*Node) bool) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if done(n) {
			continue
		}
		ready := true
		for _, p := range g.Predecessors(n, dir) {
			if !done(p) {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, n)
		}
	}
	return out
}

// Descendants returns every node reachable through child edges from the
// given node, excluding the node itself.
func (g *Graph) Descendants(n *Node) []*Node {
	var out []*Node
	seen := map[*Node]bool{n: true}
	stack := append([]*Node(nil), n.children...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		stack = append(stack, cur.children...)
	}
	return out
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// findCycle runs an iterative DFS over child edges and returns one cycle
// as a node path, or nil.
func (g *Graph) findCycle() []*Node {
	color := make(map[*Node]int, len(g.nodes))
	parent := make(map[*Node]*Node, len(g.nodes))

	var cycleFrom func(*Node) []*Node
	cycleFrom = func(n *Node) []*Node {
		color[n] = colorGray
		for _, c := range n.children {
			switch color[c] {
			case colorWhite:
				parent[c] = n
				if path := cycleFrom(c); path != nil {
					return path
				}
			case colorGray:
				// walk back from n to c to recover the cycle
				path := []*Node{c}
				for cur := n; cur != c; cur = parent[cur] {
					path = append(path, cur)
				}
				for i, j := 1, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return append(path, c)
			}
		}
		color[n] = colorBlack
		return nil
	}

	for _, n := range g.nodes {
		if color[n] == colorWhite {
			if path := cycleFrom(n); path != nil {
				return path
			}
		}
	}
	return nil
}

func describe(path []*Node) string {
	parts := make([]string, len(path))
	for i, n := range path {
		parts[i] = n.Entity.Type().Name()
	}
	return strings.Join(parts, " -> ")
}

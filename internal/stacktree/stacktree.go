// Package stacktree implements the stack prefix tree (§3 Stack Node, §4.3):
// it interns captured call stacks by shared prefix, assigning each distinct
// path from the root a stable, monotonically increasing index.
//
// Grounded on original_source/libmemtrack/src/trace_tree.rs, generalized
// from a recursive per-node struct into a flat arena of nodes addressed by
// index. An arena trivially satisfies the "parent index < child index"
// ordering invariant (§9 "Cyclic references") and avoids pointer chasing,
// which matters here because Intern runs behind every allocator hook.
package stacktree

// node is one entry in the arena. Children are stored as a slice searched
// linearly: §4.3 explicitly accepts this because stack-node fanout is
// typically small, and simplicity beats micro-optimization on a structure
// that is otherwise dominated by the cost of the backtrace itself.
type node struct {
	ip       uint64
	index    int
	children []childEdge
}

type childEdge struct {
	ip    uint64
	child int // index into Tree.nodes
}

// Tree is a prefix tree rooted at a synthetic sentinel (index 0, ip 0).
// It is not safe for concurrent use; callers (internal/agent's tracker)
// serialize access with their own lock (§5).
type Tree struct {
	nodes   []node
	nextIdx int
}

// New returns an empty tree containing only the root (index 0).
func New() *Tree {
	t := &Tree{nodes: make([]node, 0, 1024), nextIdx: 1}
	t.nodes = append(t.nodes, node{ip: 0, index: 0})
	return t
}

// OnNewNode is invoked exactly once per node, the first time its path is
// observed, in an order in which every parent is emitted before any of its
// children (§4.3 invariant).
type OnNewNode func(ip uint64, parentIndex int)

// Intern walks stack (outer-most caller to inner-most callee, per §4.3)
// from the root, extending the tree with any new suffix, and returns the
// stable index of the deepest (leaf) node on that path.
//
// Identical stacks always yield the same index; distinct stacks yield
// distinct indices (§8 invariant 1). onNew is called for each newly
// allocated node before Intern returns, parents before children.
func (t *Tree) Intern(stack []uint64, onNew OnNewNode) int {
	cur := 0 // root
	for _, ip := range stack {
		cur = t.step(cur, ip, onNew)
	}
	return cur
}

// step finds (or creates) the child of nodes[cur] keyed by ip, returning its
// index.
func (t *Tree) step(cur int, ip uint64, onNew OnNewNode) int {
	n := &t.nodes[cur]
	for _, e := range n.children {
		if e.ip == ip {
			return e.child
		}
	}

	childIdx := t.nextIdx
	t.nextIdx++

	t.nodes = append(t.nodes, node{ip: ip, index: childIdx})
	// Re-fetch n: append may have reallocated the backing array.
	n = &t.nodes[cur]
	n.children = append(n.children, childEdge{ip: ip, child: childIdx})

	if onNew != nil {
		onNew(ip, cur)
	}

	return childIdx
}

// Len returns the number of nodes in the tree, including the root.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// IP returns the instruction pointer stored at index, or 0 for the root.
func (t *Tree) IP(index int) uint64 {
	if index < 0 || index >= len(t.nodes) {
		return 0
	}
	return t.nodes[index].ip
}

// Package dtree implements the live-tree data structure: nodes, properties
// and the structural operations the overlay engine and the primitive
// changeset engine need from it (attach/detach, property CRUD, path lookup,
// structural equality).
package dtree

import (
	"fmt"
	"strings"
	"sync"
)

// Flag is a bitmask of per-node state.
type Flag uint8

const (
	// FlagDynamic marks a node allocated on the heap by this process,
	// as opposed to one that came from a static base tree blob.
	FlagDynamic Flag = 1 << iota
	// FlagDetached marks a node not linked under the root.
	FlagDetached
	// FlagOverlay marks a node created (attached or first populated) by
	// an overlay changeset, as opposed to the base tree.
	FlagOverlay
)

// Node is one element of the live tree: a named point with an ordered list
// of children, an ordered list of properties, an optional phandle and a
// small set of flags.
type Node struct {
	mu sync.Mutex

	parent   *Node
	children []*Node
	props    []*Property

	name    string // basename, e.g. "uart@1000"
	phandle uint32
	hasPH   bool
	flags   Flag

	refcount int32

	// owner is the overlay changeset id that attached this node, or 0 if
	// the node belongs to the base tree. Used to enforce Invariant 3.
	owner int

	// deadProps holds properties synthesized directly into a node that
	// did not previously exist in the live tree; their storage is freed
	// together with the node on revert instead of via REMOVE_PROPERTY
	// edits.
	deadProps []*Property
}

// DeadProps returns the node's dead-property list, for the primitive
// changeset engine's node-free path.
func (n *Node) DeadProps() []*Property {
	out := make([]*Property, len(n.deadProps))
	copy(out, n.deadProps)
	return out
}

// NewNode allocates a detached node with the given basename. Callers attach
// it to a parent with Tree.AttachNode.
func NewNode(name string) *Node {
	return &Node{name: name, flags: FlagDynamic | FlagDetached, refcount: 1}
}

// Name returns the node's basename (no path, no unit-address separator
// handling beyond what the caller put in it).
func (n *Node) Name() string { return n.name }

// Phandle returns the node's phandle and whether it has one.
func (n *Node) Phandle() (uint32, bool) { return n.phandle, n.hasPH }

// SetPhandle assigns a phandle to the node.
func (n *Node) SetPhandle(ph uint32) {
	n.phandle = ph
	n.hasPH = true
}

// HasFlag reports whether all bits of f are set.
func (n *Node) HasFlag(f Flag) bool { return n.flags&f == f }

// SetFlag sets bits of f.
func (n *Node) SetFlag(f Flag) { n.flags |= f }

// ClearFlag clears bits of f.
func (n *Node) ClearFlag(f Flag) { n.flags &^= f }

// Owner returns the changeset id that owns this node (0 for base-tree
// nodes).
func (n *Node) Owner() int { return n.owner }

// SetOwner records which overlay changeset owns this node. Per Invariant 3
// a node may be owned by at most one changeset; callers must not call this
// twice on a node already carrying FlagOverlay with a different owner.
func (n *Node) SetOwner(id int) { n.owner = id }

// Parent returns the node's parent, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// LinkForPath records parent as n's parent for the sole purpose of making
// Path()/IsAncestorOf() work before n is formally attached to the tree by
// the primitive changeset engine. It does not add n to parent's child list
// or index its phandle — callers that want n actually reachable from the
// tree still need an ATTACH_NODE edit applied via pkg/changeset.
func (n *Node) LinkForPath(parent *Node) { n.parent = parent }

// AppendDecodedChild appends child directly to n's child list and sets
// child's parent pointer, for use only by decoders (pkg/fdt) assembling a
// tree that is not yet part of any live tree — Tree.AttachNode is the
// equivalent operation for a node already reachable from a *Tree, and also
// maintains the phandle index and records an undoable edit, neither of
// which applies here.
func (n *Node) AppendDecodedChild(child *Node) {
	child.parent = n
	n.children = append(n.children, child)
}

// Children returns a snapshot slice of the node's children in order.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Child returns the direct child with the given basename, or nil.
//
// The basename comparison tolerates both FDT-style full names
// ("uart@1000") and a bare label passed with a leading path fragment, by
// comparing only the last path segment of want against each child's own
// basename.
func (n *Node) Child(want string) *Node {
	want = lastSegment(want)
	for _, c := range n.children {
		if c.name == want {
			return c
		}
	}
	return nil
}

func lastSegment(s string) string {
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// IsAncestorOf reports whether n is an ancestor of (or equal to) other,
// walking parent pointers. Topmost-removal safety is computed this way
// rather than by path string prefix comparison.
func (n *Node) IsAncestorOf(other *Node) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == n {
			return true
		}
	}
	return false
}

// Related reports whether a and b are the same node, or one is an ancestor
// of the other.
func Related(a, b *Node) bool {
	return a.IsAncestorOf(b) || b.IsAncestorOf(a)
}

// Path returns the full slash-separated path from the root to n.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/"
	}
	var segs []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		segs = append([]string{cur.name}, segs...)
	}
	return "/" + strings.Join(segs, "/")
}

// Retain increments the node's reference count and returns n; every
// resolver/lookup result that hands a node to a long-lived caller is
// expected to retain it first.
func (n *Node) Retain() *Node {
	n.mu.Lock()
	n.refcount++
	n.mu.Unlock()
	return n
}

// Release decrements the node's reference count.
func (n *Node) Release() {
	n.mu.Lock()
	n.refcount--
	n.mu.Unlock()
}

// RefCount returns the current reference count, for tests.
func (n *Node) RefCount() int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refcount
}

func (n *Node) String() string {
	return fmt.Sprintf("Node(%s)", n.Path())
}

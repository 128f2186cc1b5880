package dtree

import "bytes"

// Property is a named opaque byte buffer attached to a node. Ordering among
// a node's properties is preserved for enumeration but carries no semantic
// weight.
type Property struct {
	Name  string
	Value []byte

	// Dynamic marks a property allocated by this process (as opposed to
	// one decoded straight from a static blob); symbol-path rewriting
	// always produces Dynamic properties.
	Dynamic bool
}

// Length returns the byte length of the property's value.
func (p *Property) Length() int { return len(p.Value) }

// Clone returns a deep copy of p, marked Dynamic since it is a fresh
// allocation.
func (p *Property) Clone() *Property {
	v := make([]byte, len(p.Value))
	copy(v, p.Value)
	return &Property{Name: p.Name, Value: v, Dynamic: true}
}

// Equal reports whether two properties have the same name and byte-equal
// value.
func (p *Property) Equal(o *Property) bool {
	return p.Name == o.Name && bytes.Equal(p.Value, o.Value)
}

// IsPseudo reports whether name is one of the pseudo-properties filtered
// out during overlay merging: "name", "phandle", "linux,phandle".
func IsPseudo(name string) bool {
	switch name {
	case "name", "phandle", "linux,phandle":
		return true
	default:
		return false
	}
}

// Prop looks up a property by name on n. It returns nil if not present.
func (n *Node) Prop(name string) *Property {
	for _, p := range n.props {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Props returns a snapshot slice of the node's properties in order.
func (n *Node) Props() []*Property {
	out := make([]*Property, len(n.props))
	copy(out, n.props)
	return out
}

// addProp appends p to n's property list, or overwrites the existing
// property of the same name in place if present. Used by the primitive
// changeset engine (pkg/changeset), never called directly by the overlay
// builder, which only ever describes edits.
func (n *Node) addProp(p *Property) {
	for i, existing := range n.props {
		if existing.Name == p.Name {
			n.props[i] = p
			return
		}
	}
	n.props = append(n.props, p)
}

// removeProp deletes the property named name from n, if present.
func (n *Node) removeProp(name string) {
	for i, existing := range n.props {
		if existing.Name == name {
			n.props = append(n.props[:i], n.props[i+1:]...)
			return
		}
	}
}

// AppendDecodedProp appends p directly to n's property list with no
// overwrite-by-name check, for use only by decoders (pkg/fdt) building a
// node that is not yet part of any live tree or changeset — at that point
// there is no "existing" property to overwrite, only a blob being read in
// order.
func (n *Node) AppendDecodedProp(p *Property) {
	n.props = append(n.props, p)
}

// AddDeadProp records that p's backing storage must be freed when a
// synthesized (not-in-live-tree) node is itself freed on revert — the
// "dead properties" list subtree-synthesis bookkeeping requires.
func (n *Node) AddDeadProp(p *Property) {
	n.deadProps = append(n.deadProps, p)
}

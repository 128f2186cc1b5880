// Package changeset implements the primitive changeset engine: it applies
// and reverts an ordered log of primitive tree edits. The overlay engine
// (pkg/overlay) builds edit logs; this package only knows how to play
// them forward or backward against a *dtree.Tree.
package changeset

import (
	"fmt"

	"github.com/nirmata/dtoverlay/pkg/dtree"
)

// Kind tags the five primitive edit variants.
type Kind int

const (
	AttachNode Kind = iota
	DetachNode
	AddProperty
	UpdateProperty
	RemoveProperty
)

func (k Kind) String() string {
	switch k {
	case AttachNode:
		return "ATTACH_NODE"
	case DetachNode:
		return "DETACH_NODE"
	case AddProperty:
		return "ADD_PROPERTY"
	case UpdateProperty:
		return "UPDATE_PROPERTY"
	case RemoveProperty:
		return "REMOVE_PROPERTY"
	default:
		return "UNKNOWN"
	}
}

// Edit is a single primitive edit. Node is always populated; Parent is
// meaningful for ATTACH_NODE (where the node is not yet linked) and for
// reverting DETACH_NODE (the parent to re-attach under); Prop is populated
// for ADD_PROPERTY and UPDATE_PROPERTY, while REMOVE_PROPERTY names its
// property in PropName. PrevProp records the
// property's prior value for UPDATE_PROPERTY/REMOVE_PROPERTY so Revert can
// restore it without consulting the tree.
type Edit struct {
	Kind Kind

	Node   *dtree.Node
	Parent *dtree.Node // ATTACH_NODE; DETACH_NODE revert

	Prop     *dtree.Property // ADD_PROPERTY, UPDATE_PROPERTY
	PrevProp *dtree.Property // UPDATE_PROPERTY, REMOVE_PROPERTY (nil if none existed)
	PropName string          // REMOVE_PROPERTY
}

// Log is an ordered edit log, built in the order the changeset builder
// discovered the edits and applied/reverted in that order/reverse order.
type Log []Edit

func (e Edit) String() string {
	switch e.Kind {
	case AttachNode, DetachNode:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Node.Path())
	default:
		name := e.PropName
		if e.Prop != nil {
			name = e.Prop.Name
		}
		return fmt.Sprintf("%s(%s,%s)", e.Kind, e.Node.Path(), name)
	}
}

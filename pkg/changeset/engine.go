package changeset

import (
	"fmt"

	"github.com/nirmata/dtoverlay/pkg/dtree"
)

// Apply plays the edit log forward against tree in order. On the first
// failing edit it returns the number of edits that succeeded (a prefix of
// log) and an error identifying the offending edit; the caller (pkg/overlay)
// is responsible for deciding whether to attempt an internal revert of the
// edits already applied. On full success it returns len(log), nil.
func Apply(tree *dtree.Tree, log Log) (int, error) {
	for i, e := range log {
		if err := applyOne(tree, e); err != nil {
			return i, fmt.Errorf("apply edit %d (%s): %w", i, e, err)
		}
	}
	return len(log), nil
}

func applyOne(tree *dtree.Tree, e Edit) error {
	switch e.Kind {
	case AttachNode:
		if e.Parent == nil {
			return fmt.Errorf("ATTACH_NODE with nil parent")
		}
		tree.AttachNode(e.Parent, e.Node)
	case DetachNode:
		tree.DetachNode(e.Node)
	case AddProperty:
		tree.AddProperty(e.Node, e.Prop)
	case UpdateProperty:
		tree.UpdateProperty(e.Node, e.Prop)
	case RemoveProperty:
		tree.RemoveProperty(e.Node, e.PropName)
	default:
		return fmt.Errorf("unknown edit kind %v", e.Kind)
	}
	return nil
}

// Revert plays a prefix of the edit log (or the whole log) backward
// against tree, in reverse order, undoing each edit's effect. applied is
// the number of edits from the front of log that were actually applied
// forward and therefore need undoing; pass len(log) to revert a fully
// applied changeset. It returns the number of edits (counted from the
// tail) successfully undone before any failure, so a caller that needs to
// recover from a partial revert can re-apply exactly that reverted suffix,
// log[applied-reverted : applied], to restore the fully-applied state.
func Revert(tree *dtree.Tree, log Log, applied int) (int, error) {
	for i := applied - 1; i >= 0; i-- {
		if err := revertOne(tree, log[i]); err != nil {
			return applied - 1 - i, fmt.Errorf("revert edit %d (%s): %w", i, log[i], err)
		}
	}
	return applied, nil
}

func revertOne(tree *dtree.Tree, e Edit) error {
	switch e.Kind {
	case AttachNode:
		tree.DetachNode(e.Node)
	case DetachNode:
		if e.Parent == nil {
			return fmt.Errorf("DETACH_NODE revert with nil recorded parent")
		}
		tree.AttachNode(e.Parent, e.Node)
	case AddProperty:
		tree.RemoveProperty(e.Node, e.Prop.Name)
	case UpdateProperty:
		if e.PrevProp == nil {
			return fmt.Errorf("UPDATE_PROPERTY revert with no previous value recorded")
		}
		tree.UpdateProperty(e.Node, e.PrevProp)
	case RemoveProperty:
		if e.PrevProp == nil {
			return fmt.Errorf("REMOVE_PROPERTY revert with no previous value recorded")
		}
		tree.AddProperty(e.Node, e.PrevProp)
	default:
		return fmt.Errorf("unknown edit kind %v", e.Kind)
	}
	return nil
}

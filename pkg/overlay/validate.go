package overlay

import (
	"fmt"

	"github.com/nirmata/dtoverlay/pkg/changeset"
)

// checkDuplicates is an O(n²) pairwise scan of the edit log for
// conflicting edits. An overlay's edit log is small enough in practice
// that the naive scan beats building an index.
func checkDuplicates(log changeset.Log) error {
	for i := 0; i < len(log); i++ {
		for j := i + 1; j < len(log); j++ {
			a, b := log[i], log[j]

			if isNodeEdit(a) && isNodeEdit(b) {
				if a.Node.Path() == b.Node.Path() {
					return fmt.Errorf("%w: conflicting ATTACH/DETACH edits for node %s", ErrInvalid, a.Node.Path())
				}
				continue
			}

			if isPropEdit(a) && isPropEdit(b) {
				if a.Node.Path() == b.Node.Path() && propName(a) == propName(b) {
					return fmt.Errorf("%w: conflicting property edits for %s:%s", ErrInvalid, a.Node.Path(), propName(a))
				}
			}
		}
	}
	return nil
}

func isNodeEdit(e changeset.Edit) bool {
	return e.Kind == changeset.AttachNode || e.Kind == changeset.DetachNode
}

func isPropEdit(e changeset.Edit) bool {
	switch e.Kind {
	case changeset.AddProperty, changeset.UpdateProperty, changeset.RemoveProperty:
		return true
	default:
		return false
	}
}

func propName(e changeset.Edit) string {
	if e.Prop != nil {
		return e.Prop.Name
	}
	return e.PropName
}

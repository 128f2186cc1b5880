package overlay

import (
	"github.com/nirmata/dtoverlay/pkg/changeset"
	"github.com/nirmata/dtoverlay/pkg/dtree"
)

// NotifyState is the changeset lifecycle state machine: every applied
// overlay moves through INIT -> PRE_APPLY -> POST_APPLY and, on removal,
// PRE_REMOVE -> POST_REMOVE.
type NotifyState int

const (
	StateInit NotifyState = iota
	StatePreApply
	StatePostApply
	StatePreRemove
	StatePostRemove
)

func (s NotifyState) String() string {
	return [...]string{"INIT", "PRE_APPLY", "POST_APPLY", "PRE_REMOVE", "POST_REMOVE"}[s]
}

// Changeset is one applied overlay: a positive id, the fragment array
// built at decode time, whether the last fragment is the synthetic symbols
// fragment, the primitive edit log the builder produced, the current
// notify state, and the retained overlay buffers this changeset owns
// until POST_REMOVE.
type Changeset struct {
	ID          int
	Fragments   []Fragment
	HasSymbols  bool
	Edits       changeset.Log
	State       NotifyState
	OverlayRoot *dtree.Node
	RawBuffer   []byte
}

// touches reports whether any edit in cs's edit log targets node or an
// ancestor/descendant of it, used by the registry's topmost-removal check.
func (cs *Changeset) touches(node *dtree.Node) bool {
	for _, e := range cs.Edits {
		if dtree.Related(e.Node, node) {
			return true
		}
	}
	return false
}

// release drops the reference count this changeset holds on every
// fragment's resolved target, undoing the Retain() done in resolveTarget
// (or, for the symbols fragment, in discoverFragments).
func (cs *Changeset) release() {
	for _, f := range cs.Fragments {
		f.Target.Release()
	}
}

// DebugJSONPatch renders the changeset's primitive edit log as an RFC 6902
// JSON Patch document for audit logging, building the patch string and then
// immediately decoding it back purely to catch a malformed construction
// before returning it. This is not consumed anywhere in the apply/remove
// pipeline itself — it exists for operators who want a human-diffable
// record of what an overlay changed.
func (cs *Changeset) DebugJSONPatch() (string, error) {
	return debugJSONPatch(cs.Edits)
}

package overlay

import (
	"github.com/nirmata/dtoverlay/pkg/dtree"
	"github.com/nirmata/dtoverlay/pkg/fdt"
	"github.com/nirmata/dtoverlay/pkg/phandle"
)

// NewFDTDecoder composes pkg/fdt.Decode with pkg/phandle.Resolve into the
// Decoder the Manager calls at the start of Apply: unflatten the raw DTB
// blob, then resolve its __fixups__/__local_fixups__ references against the
// live tree's own "/__symbols__" table before fragment discovery ever sees
// it. alloc is shared across every Apply call so phandles it mints are
// never reused.
func NewFDTDecoder(alloc *phandle.Allocator) Decoder {
	return func(data []byte, live *dtree.Tree) (*dtree.Node, error) {
		root, err := fdt.Decode(data)
		if err != nil {
			return nil, err
		}

		symbols := liveSymbols(live)
		if err := phandle.Resolve(root, live, symbols, alloc); err != nil {
			return nil, err
		}
		return root, nil
	}
}

// liveSymbols builds the symbol-name -> live-node map phandle.Resolve needs
// to satisfy a decoded overlay's external __fixups__, from the live tree's
// own "/__symbols__" node (each property's value is a path string naming
// the node it labels).
func liveSymbols(live *dtree.Tree) map[string]*dtree.Node {
	out := make(map[string]*dtree.Node)
	sym := live.LookupPath("/__symbols__")
	if sym == nil {
		return out
	}
	for _, p := range sym.Props() {
		if n := live.LookupPath(string(p.Value)); n != nil {
			out[p.Name] = n
		}
	}
	return out
}

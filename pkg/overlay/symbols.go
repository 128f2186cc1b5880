package overlay

import (
	"fmt"
	"strings"

	"github.com/nirmata/dtoverlay/pkg/dtree"
)

// rewriteSymbolPath rewrites a symbols-table entry: a symbols-table
// property's value is a string such as "/fragment@0/__overlay__/foo/bar".
// It must be rewritten
// to "<target-path>/foo/bar" before being inserted into the live
// "/__symbols__" node.
//
// overlayRoot is the root of the parsed overlay tree (used to locate the
// fragment node named by the path's first two segments); frags is the
// fragment array already built by discoverFragments (used to find which
// fragment's Overlay member is that located "__overlay__" node, and thus
// its resolved Target).
func rewriteSymbolPath(overlayRoot *dtree.Node, frags []Fragment, value string) (string, error) {
	segs := splitSymbolPath(value)
	if len(segs) < 2 {
		return "", fmt.Errorf("%w: symbol path %q too short to name a fragment", ErrInvalid, value)
	}

	fragNode := overlayRoot.Child(segs[0])
	if fragNode == nil {
		return "", fmt.Errorf("%w: symbol path %q names unknown fragment %q", ErrInvalid, value, segs[0])
	}
	ov := fragNode.Child(segs[1])
	if ov == nil || segs[1] != "__overlay__" {
		return "", fmt.Errorf("%w: symbol path %q does not reference a __overlay__ child", ErrInvalid, value)
	}

	var target *dtree.Node
	for _, f := range frags {
		if f.Overlay == ov {
			target = f.Target
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("%w: symbol path %q references a fragment with no resolved target", ErrInvalid, value)
	}

	tail := segs[2:]

	rewritten := strings.TrimRight(target.Path(), "/")
	if len(tail) > 0 {
		rewritten += "/" + strings.Join(tail, "/")
	}
	if rewritten == "" {
		rewritten = "/"
	}
	return rewritten, nil
}

// splitSymbolPath splits a leading-slash path into segments, dropping
// empty segments produced by the leading slash.
func splitSymbolPath(p string) []string {
	parts := strings.Split(p, "/")
	var out []string
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// buildSymbolsFragment is the symbols-fragment variant of buildFragment:
// for each string property of the symbols fragment's overlay node, rewrite
// its value via rewriteSymbolPath and emit an ADD_PROPERTY edit against
// the live "/__symbols__" node. Updates to existing symbols are forbidden;
// that check lives in the general-purpose builder and is re-asserted here
// defensively since the symbols fragment never descends through buildNode.
func (b *builder) buildSymbolsFragment(overlayRoot *dtree.Node, frags []Fragment, frag Fragment) error {
	for _, p := range frag.Overlay.Props() {
		if dtree.IsPseudo(p.Name) {
			continue
		}
		if frag.Target.Prop(p.Name) != nil {
			return fmt.Errorf("%w: symbols update of existing symbol %q is forbidden", ErrInvalid, p.Name)
		}
		rewritten, err := rewriteSymbolPath(overlayRoot, frags, string(p.Value))
		if err != nil {
			// A failing fixup drops the property rather than aborting
			// the whole symbols fragment.
			b.warnf("overlay: dropping symbol %q: %v", p.Name, err)
			continue
		}
		np := &dtree.Property{Name: p.Name, Value: []byte(rewritten), Dynamic: true}
		b.emitAddProperty(frag.Target, np, false)
	}
	return nil
}

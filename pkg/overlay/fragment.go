package overlay

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/nirmata/dtoverlay/pkg/dtree"
)

// Fragment pairs an overlay subtree with the live-tree node it grafts onto.
type Fragment struct {
	// Overlay is the "__overlay__" child of the fragment metadata node in
	// the parsed overlay tree.
	Overlay *dtree.Node
	// Target is a retained handle to the live-tree node this fragment
	// grafts onto.
	Target *dtree.Node
	// IsSymbols marks the synthetic trailing fragment that pairs the
	// overlay's "__symbols__" node with the live "/__symbols__" node.
	IsSymbols bool
}

// resolveTarget locates a fragment metadata node's live-tree attachment
// point by phandle or by path, in that order. base is an optional
// live-tree node used to resolve a relative target-path; a target-path is
// treated as absolute when base is nil, even though it reads as relative.
func resolveTarget(live *dtree.Tree, meta *dtree.Node, base *dtree.Node) (*dtree.Node, error) {
	if p := meta.Prop("target"); p != nil {
		if len(p.Value) != 4 {
			return nil, fmt.Errorf("%w: fragment %s has target property of length %d, want 4", ErrInvalid, meta.Path(), len(p.Value))
		}
		ph := binary.BigEndian.Uint32(p.Value)
		n := live.LookupPhandle(ph)
		if n == nil {
			return nil, fmt.Errorf("%w: fragment %s targets unknown phandle 0x%x", ErrInvalid, meta.Path(), ph)
		}
		glog.V(4).Infof("overlay: fragment %s resolved by phandle 0x%x to %s", meta.Path(), ph, n.Path())
		return n.Retain(), nil
	}

	if p := meta.Prop("target-path"); p != nil {
		rel := string(p.Value)
		rel = strings.TrimRight(rel, "\x00")
		full := rel
		if base != nil && !strings.HasPrefix(rel, "/") {
			full = strings.TrimRight(base.Path(), "/") + "/" + rel
		}
		n := live.LookupPath(full)
		if n == nil {
			return nil, fmt.Errorf("%w: fragment %s targets unknown path %q", ErrInvalid, meta.Path(), full)
		}
		glog.V(4).Infof("overlay: fragment %s resolved by path %q to %s", meta.Path(), full, n.Path())
		return n.Retain(), nil
	}

	return nil, fmt.Errorf("%w: fragment %s has neither target nor target-path", ErrInvalid, meta.Path())
}

// discoverFragments walks the children of an overlay root looking for
// "fragment@N" metadata nodes and, if present, a trailing "__symbols__"
// node, building the resulting Fragment array. base is the optional
// caller-supplied live node used for relative target-path resolution.
func discoverFragments(live *dtree.Tree, overlayRoot *dtree.Node, base *dtree.Node) ([]Fragment, error) {
	var frags []Fragment

	for _, child := range overlayRoot.Children() {
		if child.Name() == "__symbols__" {
			continue
		}
		if !isFragmentName(child.Name()) {
			continue
		}
		ov := child.Child("__overlay__")
		if ov == nil {
			return nil, fmt.Errorf("%w: fragment node %s has no __overlay__ child", ErrInvalid, child.Path())
		}
		target, err := resolveTarget(live, child, base)
		if err != nil {
			return nil, err
		}
		frags = append(frags, Fragment{Overlay: ov, Target: target})
	}

	if sym := overlayRoot.Child("__symbols__"); sym != nil {
		target := live.LookupPath("/__symbols__")
		if target == nil {
			return nil, fmt.Errorf("%w: live tree has no /__symbols__ node", ErrInvalid)
		}
		frags = append(frags, Fragment{Overlay: sym, Target: target.Retain(), IsSymbols: true})
	}

	if len(frags) == 0 {
		return nil, fmt.Errorf("%w: overlay has zero fragments", ErrInvalid)
	}
	return frags, nil
}

func isFragmentName(name string) bool {
	return strings.HasPrefix(name, "fragment@") || name == "fragment"
}

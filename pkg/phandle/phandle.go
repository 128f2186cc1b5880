// Package phandle resolves phandle references in a freshly decoded
// overlay tree: given the overlay tree (pkg/fdt's output) and the live
// tree it will be grafted onto, it resolves the overlay's own forward
// references (__fixups__, __local_fixups__) and allocates phandles for
// any overlay-internal node that needs one but doesn't have one yet, so
// that the overlay builder (pkg/overlay) never has to reason about
// unresolved phandle values while walking the tree.
package phandle

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/nirmata/dtoverlay/pkg/dtree"
)

// Allocator hands out phandle values guaranteed not to collide with any
// phandle already present in the live tree. Every call site that might
// mint a new phandle must go through the same Allocator so two concurrent
// overlay decodes (serialized by the Manager's overlayMu in practice, but
// this package makes no such assumption itself) never hand out the same
// value twice.
type Allocator struct {
	mu   sync.Mutex
	next uint32
}

// NewAllocator seeds the allocator above every phandle currently present in
// live.
func NewAllocator(live *dtree.Tree) *Allocator {
	a := &Allocator{next: 1}
	var walk func(n *dtree.Node)
	walk = func(n *dtree.Node) {
		if ph, ok := n.Phandle(); ok && ph >= a.next {
			a.next = ph + 1
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(live.Root)
	return a
}

// Alloc returns the next unused phandle value.
func (a *Allocator) Alloc() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.next
	a.next++
	return v
}

// fixupEntry is one decoded entry from a __fixups__ property value: a
// node path and the byte offset within that node's referencing property
// where the phandle value must be patched in. The on-wire encoding is the
// string "<path>:<property>:<offset>", one entry per NUL-terminated
// segment, mirroring the Linux kernel's __fixups__ convention.
type fixupEntry struct {
	path   string
	prop   string
	offset int
}

// Resolve walks overlayRoot's "__fixups__" node, if present, and patches
// each referencing property's value in place with the resolved phandle
// looked up from live by symbol name. It also walks "__local_fixups__" to
// patch references that resolve to phandles allocated within the overlay
// tree itself, via alloc for any overlay node that needs a phandle but
// doesn't have one assigned yet.
//
// symbols maps a symbol name (as referenced by the overlay's own
// "__fixups__" values) to the live node it names; this is the live
// tree's "/__symbols__" table, pre-parsed by the caller.
func Resolve(overlayRoot *dtree.Node, live *dtree.Tree, symbols map[string]*dtree.Node, alloc *Allocator) error {
	if fx := overlayRoot.Child("__fixups__"); fx != nil {
		if err := resolveExternalFixups(overlayRoot, fx, live, symbols); err != nil {
			return fmt.Errorf("phandle: %w", err)
		}
	}
	if lfx := overlayRoot.Child("__local_fixups__"); lfx != nil {
		if err := resolveLocalFixups(overlayRoot, lfx, alloc); err != nil {
			return fmt.Errorf("phandle: %w", err)
		}
	}
	return nil
}

// resolveExternalFixups patches every value named in __fixups__ (one
// property per referenced symbol, whose value is a list of
// "path:property:offset" entries) with the referenced live-tree node's
// phandle. The referenced node's reference count is not changed.
func resolveExternalFixups(overlayRoot, fixups *dtree.Node, live *dtree.Tree, symbols map[string]*dtree.Node) error {
	for _, p := range fixups.Props() {
		target, ok := symbols[p.Name]
		if !ok {
			return fmt.Errorf("__fixups__ references unknown symbol %q", p.Name)
		}
		ph, hasPH := target.Phandle()
		if !hasPH {
			return fmt.Errorf("__fixups__ symbol %q resolves to a node with no phandle", p.Name)
		}

		entries, err := parseFixupEntries(string(p.Value))
		if err != nil {
			return fmt.Errorf("symbol %q: %w", p.Name, err)
		}
		for _, e := range entries {
			if err := patchPhandleAt(overlayRoot, e, ph); err != nil {
				return fmt.Errorf("symbol %q: %w", p.Name, err)
			}
		}
		glog.V(4).Infof("phandle: resolved %d external fixup(s) for symbol %q to phandle 0x%x", len(entries), p.Name, ph)
	}
	return nil
}

// resolveLocalFixups patches references between nodes that both live
// inside the overlay tree being decoded, allocating a phandle for the
// referenced node on demand if it doesn't have one yet. __local_fixups__ is
// a tree shaped like the overlay itself, where each leaf property lists the
// byte offsets (not full fixup strings) within the same-named property of
// the corresponding overlay node that need patching; the referenced
// node is the child of that corresponding overlay node whose name equals
// the leaf property's name.
func resolveLocalFixups(overlayRoot, localFixups *dtree.Node, alloc *Allocator) error {
	var walk func(fx *dtree.Node, target *dtree.Node) error
	walk = func(fx *dtree.Node, target *dtree.Node) error {
		for _, p := range fx.Props() {
			refNode := target.Child(p.Name)
			if refNode == nil {
				return fmt.Errorf("__local_fixups__ references unknown node %q under %s", p.Name, target.Path())
			}
			ph, hasPH := refNode.Phandle()
			if !hasPH {
				ph = alloc.Alloc()
				refNode.SetPhandle(ph)
			}
			offsets, err := parseOffsetList(p.Value)
			if err != nil {
				return err
			}
			for _, off := range offsets {
				if err := patchPhandleValue(target.Prop(p.Name), off, ph); err != nil {
					return err
				}
			}
		}
		for _, child := range fx.Children() {
			targetChild := target.Child(child.Name())
			if targetChild == nil {
				return fmt.Errorf("__local_fixups__ references unknown node %q under %s", child.Name(), target.Path())
			}
			if err := walk(child, targetChild); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(localFixups, overlayRoot)
}

func parseFixupEntries(raw string) ([]fixupEntry, error) {
	var entries []fixupEntry
	for _, seg := range strings.Split(strings.TrimRight(raw, "\x00"), "\x00") {
		if seg == "" {
			continue
		}
		parts := strings.Split(seg, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed fixup entry %q", seg)
		}
		off, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("malformed fixup offset in %q: %w", seg, err)
		}
		entries = append(entries, fixupEntry{path: parts[0], prop: parts[1], offset: off})
	}
	return entries, nil
}

// parseOffsetList decodes a __local_fixups__ leaf value: a concatenation of
// big-endian uint32 byte offsets.
func parseOffsetList(v []byte) ([]int, error) {
	if len(v)%4 != 0 {
		return nil, fmt.Errorf("local fixup offset list has length %d, not a multiple of 4", len(v))
	}
	offs := make([]int, 0, len(v)/4)
	for i := 0; i < len(v); i += 4 {
		offs = append(offs, int(binary.BigEndian.Uint32(v[i:i+4])))
	}
	return offs, nil
}

func patchPhandleAt(overlayRoot *dtree.Node, e fixupEntry, ph uint32) error {
	node := lookupRelative(overlayRoot, e.path)
	if node == nil {
		return fmt.Errorf("fixup path %q not found in overlay tree", e.path)
	}
	return patchPhandleValue(node.Prop(e.prop), e.offset, ph)
}

func patchPhandleValue(p *dtree.Property, offset int, ph uint32) error {
	if p == nil {
		return fmt.Errorf("fixup references missing property")
	}
	if offset+4 > len(p.Value) {
		return fmt.Errorf("fixup offset %d out of range for property %q of length %d", offset, p.Name, len(p.Value))
	}
	binary.BigEndian.PutUint32(p.Value[offset:offset+4], ph)
	return nil
}

func lookupRelative(root *dtree.Node, path string) *dtree.Node {
	cur := root
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		cur = cur.Child(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

package overlay

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"
	"github.com/nirmata/dtoverlay/pkg/changeset"
	"github.com/nirmata/dtoverlay/pkg/dtree"
)

// builder is a recursive walk over a fragment's overlay subtree, pairing
// nodes and properties against the live tree and emitting primitive edits.
type builder struct {
	ownerID int
	log     changeset.Log
}

func newBuilder(ownerID int) *builder {
	return &builder{ownerID: ownerID}
}

// cursor tracks where the walk currently is: a live-tree node it is still
// pairing against (inLive true), or a freshly synthesized node with no
// live-tree counterpart (inLive false).
type cursor struct {
	node   *dtree.Node
	inLive bool
}

// buildFragment walks one non-symbols fragment, starting the cursor at the
// fragment's resolved target.
func (b *builder) buildFragment(f Fragment) error {
	return b.buildNode(f.Overlay, cursor{node: f.Target, inLive: true})
}

func (b *builder) buildNode(overlayNode *dtree.Node, cur cursor) error {
	for _, p := range overlayNode.Props() {
		if err := b.buildProperty(p, cur); err != nil {
			return err
		}
	}
	for _, c := range overlayNode.Children() {
		if err := b.buildChild(c, cur); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) buildProperty(p *dtree.Property, cur cursor) error {
	if dtree.IsPseudo(p.Name) {
		return nil
	}

	if !cur.inLive {
		// Synthesized subtree: the node is fresh, its properties have no
		// live-tree counterpart to merge against.
		b.emitAddProperty(cur.node, p.Clone(), true)
		return nil
	}

	existing := cur.node.Prop(p.Name)
	if existing == nil {
		b.emitAddProperty(cur.node, p.Clone(), false)
		return nil
	}

	if p.Name == "#address-cells" || p.Name == "#size-cells" {
		if !bytes.Equal(existing.Value, p.Value) {
			return fmt.Errorf("%w: %s differs between overlay and live tree at %s", ErrInvalid, p.Name, cur.node.Path())
		}
		// Values agree; nothing to emit.
		return nil
	}

	if cur.node.Path() == "/__symbols__" {
		return fmt.Errorf("%w: symbols update of %q at %s is forbidden", ErrInvalid, p.Name, cur.node.Path())
	}

	b.emitUpdateProperty(cur.node, p.Clone(), existing)
	return nil
}

func (b *builder) buildChild(c *dtree.Node, cur cursor) error {
	if !cur.inLive {
		return b.synthesize(c, cur.node)
	}

	found := cur.node.Child(c.Name())
	if found == nil {
		return b.synthesize(c, cur.node)
	}

	_, foundHasPH := found.Phandle()
	_, cHasPH := c.Phandle()
	if foundHasPH && cHasPH {
		return fmt.Errorf("%w: phandle collision at %s", ErrInvalid, found.Path())
	}

	return b.buildNode(c, cursor{node: found, inLive: true})
}

// synthesize creates a brand-new live-tree node for an overlay child with
// no live counterpart: parent = cursor's live node, basename copied from
// c, a "name" property inherited from c (or the
// literal "<NULL>" if c has none), phandle copied from c if present. The
// new node is flagged OVERLAY and owned by this changeset.
func (b *builder) synthesize(c *dtree.Node, parent *dtree.Node) error {
	n := dtree.NewNode(c.Name())
	n.SetFlag(dtree.FlagOverlay)
	n.SetOwner(b.ownerID)
	n.LinkForPath(parent)

	if ph, ok := c.Phandle(); ok {
		n.SetPhandle(ph)
	}

	nameVal := "<NULL>"
	if cp := c.Prop("name"); cp != nil {
		nameVal = string(cp.Value)
	}
	nameProp := &dtree.Property{Name: "name", Value: []byte(nameVal), Dynamic: true}
	n.AddDeadProp(nameProp)

	b.log = append(b.log, changeset.Edit{Kind: changeset.AttachNode, Node: n, Parent: parent})
	b.log = append(b.log, changeset.Edit{Kind: changeset.AddProperty, Node: n, Prop: nameProp})

	return b.buildNode(c, cursor{node: n, inLive: false})
}

// emitAddProperty records an ADD_PROPERTY edit. fresh indicates the target
// node was itself just synthesized (not already in the live tree), in
// which case the property is additionally spliced onto the node's dead
// property list so its storage is freed along with the node on revert,
// rather than through a REMOVE_PROPERTY edit.
func (b *builder) emitAddProperty(node *dtree.Node, p *dtree.Property, fresh bool) {
	b.checkOverlayFlag(node)
	if fresh {
		node.AddDeadProp(p)
	}
	b.log = append(b.log, changeset.Edit{Kind: changeset.AddProperty, Node: node, Prop: p})
}

// emitUpdateProperty records an UPDATE_PROPERTY edit, retaining the
// previous value so changeset.Revert can restore it.
func (b *builder) emitUpdateProperty(node *dtree.Node, p, prev *dtree.Property) {
	b.checkOverlayFlag(node)
	b.log = append(b.log, changeset.Edit{Kind: changeset.UpdateProperty, Node: node, Prop: p, PrevProp: prev})
}

// checkOverlayFlag enforces the invariant that a node whose properties are
// added or updated by an overlay must carry FlagOverlay, or the property
// storage added here will be leaked when the overlay is one day removed
// (nothing will free it, since only an OVERLAY node's dead properties and
// ATTACH_NODE edits are unwound on revert). A violation is logged rather
// than rejected, since the property has already been merged and refusing
// the whole fragment over it would be a bigger behavior change than a
// leak warning.
func (b *builder) checkOverlayFlag(node *dtree.Node) {
	if !node.HasFlag(dtree.FlagOverlay) {
		b.warnf("overlay: node %s receives a property from overlay %d but lacks the OVERLAY flag; its storage will leak on remove", node.Path(), b.ownerID)
	}
}

func (b *builder) warnf(format string, args ...interface{}) {
	glog.Warningf(format, args...)
}

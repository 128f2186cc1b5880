package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nirmata/dtoverlay/pkg/changeset"
	"github.com/nirmata/dtoverlay/pkg/dtree"
)

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	cs := &Changeset{ID: 1}
	r.Add(cs)

	assert.Equal(t, cs, r.Get(1))
	assert.Equal(t, 1, r.Len())

	r.Remove(1)
	assert.Nil(t, r.Get(1))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryIsTopmostSafe(t *testing.T) {
	tree := dtree.NewTree()
	bus := dtree.NewNode("bus")
	tree.AttachNode(tree.Root, bus)
	dev := dtree.NewNode("dev@0")
	tree.AttachNode(bus, dev)

	r := NewRegistry()
	cs1 := &Changeset{ID: 1, Edits: changeset.Log{{Kind: changeset.UpdateProperty, Node: bus}}}
	cs2 := &Changeset{ID: 2, Edits: changeset.Log{{Kind: changeset.AttachNode, Node: dev, Parent: bus}}}
	r.Add(cs1)
	r.Add(cs2)

	assert.False(t, r.IsTopmostSafe(cs1))
	assert.True(t, r.IsTopmostSafe(cs2))

	r.Remove(2)
	assert.True(t, r.IsTopmostSafe(cs1))
}

func TestRegistryRemoveOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(&Changeset{ID: 1})
	r.Add(&Changeset{ID: 2})
	r.Add(&Changeset{ID: 3})

	assert.Equal(t, []int{3, 2, 1}, r.RemoveOrder())
}

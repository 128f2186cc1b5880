package dtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachDetachNode(t *testing.T) {
	tree := NewTree()
	child := NewNode("a")
	child.SetPhandle(0x5)

	tree.AttachNode(tree.Root, child)
	assert.Equal(t, child, tree.Root.Child("a"))
	assert.Equal(t, child, tree.LookupPhandle(0x5))
	assert.False(t, child.HasFlag(FlagDetached))

	tree.DetachNode(child)
	assert.Nil(t, tree.Root.Child("a"))
	assert.Nil(t, tree.LookupPhandle(0x5))
	assert.True(t, child.HasFlag(FlagDetached))
}

func TestPropertyCRUD(t *testing.T) {
	tree := NewTree()
	n := NewNode("a")
	tree.AttachNode(tree.Root, n)

	tree.AddProperty(n, &Property{Name: "p", Value: []byte("x")})
	require.NotNil(t, n.Prop("p"))
	assert.Equal(t, []byte("x"), n.Prop("p").Value)

	tree.UpdateProperty(n, &Property{Name: "p", Value: []byte("y")})
	assert.Equal(t, []byte("y"), n.Prop("p").Value)

	tree.RemoveProperty(n, "p")
	assert.Nil(t, n.Prop("p"))
}

func TestLookupPath(t *testing.T) {
	tree := NewTree()
	bus := NewNode("bus")
	tree.AttachNode(tree.Root, bus)
	dev := NewNode("dev@0")
	tree.AttachNode(bus, dev)

	assert.Equal(t, tree.Root, tree.LookupPath("/"))
	assert.Equal(t, bus, tree.LookupPath("/bus"))
	assert.Equal(t, dev, tree.LookupPath("/bus/dev@0"))
	assert.Nil(t, tree.LookupPath("/bus/missing"))
}

func TestCloneAndEqual(t *testing.T) {
	tree := NewTree()
	bus := NewNode("bus")
	tree.AttachNode(tree.Root, bus)
	tree.AddProperty(bus, &Property{Name: "p", Value: []byte("x")})

	clone := tree.Clone()
	assert.True(t, tree.Equal(clone))

	tree.AddProperty(bus, &Property{Name: "p", Value: []byte("z")})
	assert.False(t, tree.Equal(clone))
}

func TestIsAncestorOfAndRelated(t *testing.T) {
	tree := NewTree()
	bus := NewNode("bus")
	tree.AttachNode(tree.Root, bus)
	dev := NewNode("dev@0")
	tree.AttachNode(bus, dev)

	assert.True(t, bus.IsAncestorOf(dev))
	assert.False(t, dev.IsAncestorOf(bus))
	assert.True(t, Related(bus, dev))
	assert.True(t, Related(dev, bus))

	other := NewNode("other")
	tree.AttachNode(tree.Root, other)
	assert.False(t, Related(other, dev))
}

func TestRetainRelease(t *testing.T) {
	n := NewNode("a")
	assert.EqualValues(t, 1, n.RefCount())
	n.Retain()
	assert.EqualValues(t, 2, n.RefCount())
	n.Release()
	assert.EqualValues(t, 1, n.RefCount())
}

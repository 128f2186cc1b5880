package changeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nirmata/dtoverlay/pkg/dtree"
)

func TestApplyThenRevertRestoresTree(t *testing.T) {
	tree := dtree.NewTree()
	bus := dtree.NewNode("bus")
	tree.AttachNode(tree.Root, bus)
	before := tree.Clone()

	dev := dtree.NewNode("dev@0")
	prop := &dtree.Property{Name: "compatible", Value: []byte("x")}

	log := Log{
		{Kind: AttachNode, Node: dev, Parent: bus},
		{Kind: AddProperty, Node: dev, Prop: prop},
	}

	applied, err := Apply(tree, log)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.NotNil(t, bus.Child("dev@0"))

	reverted, err := Revert(tree, log, applied)
	require.NoError(t, err)
	assert.Equal(t, 2, reverted)
	assert.Nil(t, bus.Child("dev@0"))
	assert.True(t, tree.Equal(before))
}

func TestApplyStopsAtFirstFailureAndReportsPrefix(t *testing.T) {
	tree := dtree.NewTree()
	bus := dtree.NewNode("bus")
	tree.AttachNode(tree.Root, bus)

	dev := dtree.NewNode("dev@0")
	badEdit := Edit{Kind: Kind(99), Node: dev}

	log := Log{
		{Kind: AttachNode, Node: dev, Parent: bus},
		badEdit,
	}

	applied, err := Apply(tree, log)
	require.Error(t, err)
	assert.Equal(t, 1, applied)
	assert.NotNil(t, bus.Child("dev@0"))
}

func TestUpdatePropertyRevertRestoresPreviousValue(t *testing.T) {
	tree := dtree.NewTree()
	n := dtree.NewNode("a")
	tree.AttachNode(tree.Root, n)
	prev := &dtree.Property{Name: "p", Value: []byte("x")}
	tree.AddProperty(n, prev)

	next := &dtree.Property{Name: "p", Value: []byte("y")}
	log := Log{{Kind: UpdateProperty, Node: n, Prop: next, PrevProp: prev}}

	applied, err := Apply(tree, log)
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), n.Prop("p").Value)

	_, err = Revert(tree, log, applied)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), n.Prop("p").Value)
}

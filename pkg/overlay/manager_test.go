package overlay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nirmata/dtoverlay/pkg/changeset"
	"github.com/nirmata/dtoverlay/pkg/dtree"
)

// newLiveTree returns a bare live tree with a "/__symbols__" node already
// present, since discoverFragments requires one whenever an overlay carries
// its own __symbols__ fragment.
func newLiveTree() *dtree.Tree {
	t := dtree.NewTree()
	sym := dtree.NewNode("__symbols__")
	t.AttachNode(t.Root, sym)
	return t
}

func overlayWithFragment(targetPath string, overlayChildren func(ov *dtree.Node)) *dtree.Node {
	root := dtree.NewNode("")
	frag := dtree.NewNode("fragment@0")
	frag.AppendDecodedProp(&dtree.Property{Name: "target-path", Value: []byte(targetPath)})
	ov := dtree.NewNode("__overlay__")
	overlayChildren(ov)
	frag.AppendDecodedChild(ov)
	root.AppendDecodedChild(frag)
	return root
}

func stubDecoder(root **dtree.Node) Decoder {
	return func(data []byte, live *dtree.Tree) (*dtree.Node, error) {
		return *root, nil
	}
}

// Scenario 1: add-property apply.
func TestApply_AddProperty(t *testing.T) {
	live := newLiveTree()
	a := dtree.NewNode("a")
	live.AttachNode(live.Root, a)
	live.AddProperty(a, &dtree.Property{Name: "p", Value: []byte("x")})

	overlayRoot := overlayWithFragment("/a", func(ov *dtree.Node) {
		ov.AppendDecodedProp(&dtree.Property{Name: "q", Value: []byte("y")})
	})

	mgr := NewManager(live, stubDecoder(&overlayRoot), nil, nil)
	id, err := mgr.Apply(nil, nil)
	require.NoError(t, err)

	q := a.Prop("q")
	require.NotNil(t, q)
	assert.Equal(t, []byte("y"), q.Value)

	require.NoError(t, mgr.Remove(id))
	assert.Nil(t, a.Prop("q"))
	p := a.Prop("p")
	require.NotNil(t, p)
	assert.Equal(t, []byte("x"), p.Value)
}

// Scenario 2: update-forbidden #address-cells.
func TestApply_UpdateForbiddenCells(t *testing.T) {
	live := newLiveTree()
	a := dtree.NewNode("a")
	live.AttachNode(live.Root, a)
	one := make([]byte, 4)
	one[3] = 1
	live.AddProperty(a, &dtree.Property{Name: "#address-cells", Value: one})

	two := make([]byte, 4)
	two[3] = 2
	overlayRoot := overlayWithFragment("/a", func(ov *dtree.Node) {
		ov.AppendDecodedProp(&dtree.Property{Name: "#address-cells", Value: two})
	})

	mgr := NewManager(live, stubDecoder(&overlayRoot), nil, nil)
	id, err := mgr.Apply(nil, nil)
	assert.Zero(t, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	ac := a.Prop("#address-cells")
	require.NotNil(t, ac)
	assert.Equal(t, one, ac.Value)
	assert.Equal(t, 0, mgr.Len())
}

// Scenario 3: new subtree synthesis.
func TestApply_NewSubtree(t *testing.T) {
	live := newLiveTree()
	bus := dtree.NewNode("bus")
	live.AttachNode(live.Root, bus)

	overlayRoot := overlayWithFragment("/bus", func(ov *dtree.Node) {
		dev := dtree.NewNode("dev@0")
		dev.AppendDecodedProp(&dtree.Property{Name: "compatible", Value: []byte("x")})
		ov.AppendDecodedChild(dev)
	})

	mgr := NewManager(live, stubDecoder(&overlayRoot), nil, nil)
	id, err := mgr.Apply(nil, nil)
	require.NoError(t, err)

	dev := bus.Child("dev@0")
	require.NotNil(t, dev)
	assert.True(t, dev.HasFlag(dtree.FlagOverlay))
	assert.Equal(t, id, dev.Owner())

	require.NoError(t, mgr.Remove(id))
	assert.Nil(t, bus.Child("dev@0"))
}

// Scenario 4: symbols fixup.
func TestApply_SymbolsFixup(t *testing.T) {
	live := newLiveTree()
	bus := dtree.NewNode("bus")
	live.AttachNode(live.Root, bus)

	root := dtree.NewNode("")
	frag := dtree.NewNode("fragment@0")
	frag.AppendDecodedProp(&dtree.Property{Name: "target-path", Value: []byte("/bus")})
	ov := dtree.NewNode("__overlay__")
	dev := dtree.NewNode("dev@0")
	dev.AppendDecodedProp(&dtree.Property{Name: "compatible", Value: []byte("x")})
	ov.AppendDecodedChild(dev)
	frag.AppendDecodedChild(ov)
	root.AppendDecodedChild(frag)

	symFrag := dtree.NewNode("__symbols__")
	symFrag.AppendDecodedProp(&dtree.Property{Name: "s1", Value: []byte("/fragment@0/__overlay__/dev@0")})
	root.AppendDecodedChild(symFrag)

	overlayRoot := root
	mgr := NewManager(live, stubDecoder(&overlayRoot), nil, nil)
	id, err := mgr.Apply(nil, nil)
	require.NoError(t, err)

	sym := live.LookupPath("/__symbols__")
	require.NotNil(t, sym)
	s1 := sym.Prop("s1")
	require.NotNil(t, s1)
	assert.Equal(t, "/bus/dev@0", string(s1.Value))

	require.NoError(t, mgr.Remove(id))
	assert.Nil(t, sym.Prop("s1"))
}

// Scenario 5: non-topmost removal.
func TestRemove_NonTopmost(t *testing.T) {
	live := newLiveTree()
	bus := dtree.NewNode("bus")
	live.AttachNode(live.Root, bus)
	live.AddProperty(bus, &dtree.Property{Name: "p1", Value: []byte("x")})

	overlayOne := overlayWithFragment("/bus", func(ov *dtree.Node) {
		ov.AppendDecodedProp(&dtree.Property{Name: "p1", Value: []byte("y")})
	})
	var current *dtree.Node
	mgr := NewManager(live, stubDecoder(&current), nil, nil)

	current = overlayOne
	id1, err := mgr.Apply(nil, nil)
	require.NoError(t, err)

	overlayTwo := overlayWithFragment("/bus", func(ov *dtree.Node) {
		dev := dtree.NewNode("dev@1")
		ov.AppendDecodedChild(dev)
	})
	current = overlayTwo
	id2, err := mgr.Apply(nil, nil)
	require.NoError(t, err)

	err = mgr.Remove(id1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))

	require.NoError(t, mgr.Remove(id2))
	require.NoError(t, mgr.Remove(id1))
	assert.Equal(t, 0, mgr.Len())
}

// Scenario 6: phandle collision.
func TestApply_PhandleCollision(t *testing.T) {
	live := newLiveTree()
	a := dtree.NewNode("a")
	a.SetPhandle(0x10)
	live.AttachNode(live.Root, a)

	root := dtree.NewNode("")
	frag := dtree.NewNode("fragment@0")
	frag.AppendDecodedProp(&dtree.Property{Name: "target-path", Value: []byte("/")})
	ov := dtree.NewNode("__overlay__")
	dup := dtree.NewNode("a")
	dup.SetPhandle(0x20)
	ov.AppendDecodedChild(dup)
	frag.AppendDecodedChild(ov)
	root.AppendDecodedChild(frag)

	overlayRoot := root
	mgr := NewManager(live, stubDecoder(&overlayRoot), nil, nil)
	id, err := mgr.Apply(nil, nil)
	assert.Zero(t, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

// A primitive apply that fails partway, whose revert of the already-applied
// prefix also fails, trips the apply-fail bit of the corruption latch and
// refuses every later Apply/Remove with ErrBusy.
func TestApply_DoubleFailureTripsLatch(t *testing.T) {
	live := newLiveTree()
	a := dtree.NewNode("a")
	live.AttachNode(live.Root, a)

	overlayRoot := overlayWithFragment("/a", func(ov *dtree.Node) {
		ov.AppendDecodedProp(&dtree.Property{Name: "q", Value: []byte("y")})
	})

	mgr := NewManager(live, stubDecoder(&overlayRoot), nil, nil)
	applyFail := errors.New("simulated mid-apply failure")
	revertFail := errors.New("simulated revert failure")
	mgr.applyEdits = func(tree *dtree.Tree, log changeset.Log) (int, error) {
		return 0, applyFail
	}
	mgr.revertEdits = func(tree *dtree.Tree, log changeset.Log, applied int) (int, error) {
		return 0, revertFail
	}

	_, err := mgr.Apply(nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, applyFail)
	assert.Contains(t, err.Error(), revertFail.Error())
	assert.True(t, mgr.Latched())

	_, err = mgr.Apply(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))

	err = mgr.Remove(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
}

// A primitive revert that fails, whose internal re-apply of the reverted
// suffix also fails, trips the revert-fail bit of the corruption latch and
// refuses every later Apply/Remove with ErrBusy.
func TestRemove_DoubleFailureTripsLatch(t *testing.T) {
	live := newLiveTree()
	a := dtree.NewNode("a")
	live.AttachNode(live.Root, a)
	live.AddProperty(a, &dtree.Property{Name: "p", Value: []byte("x")})

	overlayRoot := overlayWithFragment("/a", func(ov *dtree.Node) {
		ov.AppendDecodedProp(&dtree.Property{Name: "q", Value: []byte("y")})
	})

	mgr := NewManager(live, stubDecoder(&overlayRoot), nil, nil)
	id, err := mgr.Apply(nil, nil)
	require.NoError(t, err)

	revertFail := errors.New("simulated revert failure")
	reapplyFail := errors.New("simulated re-apply failure")
	mgr.revertEdits = func(tree *dtree.Tree, log changeset.Log, applied int) (int, error) {
		return 0, revertFail
	}
	mgr.applyEdits = func(tree *dtree.Tree, log changeset.Log) (int, error) {
		return 0, reapplyFail
	}

	err = mgr.Remove(id)
	require.Error(t, err)
	assert.ErrorIs(t, err, revertFail)
	assert.Contains(t, err.Error(), reapplyFail.Error())
	assert.True(t, mgr.Latched())

	err = mgr.Remove(id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))

	_, err = mgr.Apply(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
}

// The corruption latch refuses every apply/remove once tripped.
func TestLatch_BlocksOperations(t *testing.T) {
	live := newLiveTree()
	var root *dtree.Node
	mgr := NewManager(live, stubDecoder(&root), nil, nil)
	mgr.latch.SetApplyFail()

	_, err := mgr.Apply(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))

	err = mgr.Remove(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
}

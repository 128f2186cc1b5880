package overlay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nirmata/dtoverlay/pkg/changeset"
	"github.com/nirmata/dtoverlay/pkg/dtree"
)

func TestDebugJSONPatchRendersValidPatch(t *testing.T) {
	root := dtree.NewNode("")
	bus := dtree.NewNode("bus")
	bus.LinkForPath(root)
	dev := dtree.NewNode("dev@0")
	dev.LinkForPath(bus)

	log := changeset.Log{
		{Kind: changeset.AttachNode, Node: dev, Parent: bus},
		{Kind: changeset.AddProperty, Node: dev, Prop: &dtree.Property{Name: "compatible", Value: []byte("x")}},
	}

	doc, err := debugJSONPatch(log)
	require.NoError(t, err)

	var ops []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(doc), &ops))
	require.Len(t, ops, 2)
	assert.Equal(t, "add", ops[0]["op"])
	assert.Equal(t, "/bus/dev@0", ops[0]["path"])
	assert.Equal(t, "add", ops[1]["op"])
	assert.Equal(t, "/bus/dev@0/compatible", ops[1]["path"])
}

package overlay

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/nirmata/dtoverlay/pkg/changeset"
)

// debugJSONPatch renders log as an RFC 6902 JSON Patch document. Each
// ATTACH_NODE/ADD_PROPERTY/UPDATE_PROPERTY/REMOVE_PROPERTY edit becomes one
// "add"/"replace"/"remove" operation keyed by the node's live-tree path and
// property name; DETACH_NODE becomes a "remove" of the node's own path.
// The only use made of the json-patch library here is to decode the
// constructed document back as a sanity check before handing it to a
// caller — if it doesn't round-trip, the rendering itself is buggy and
// audit logging should say so rather than silently emit malformed JSON.
func debugJSONPatch(log changeset.Log) (string, error) {
	var ops []string
	for _, e := range log {
		op, err := renderOp(e)
		if err != nil {
			return "", err
		}
		ops = append(ops, op)
	}
	doc := "[" + strings.Join(ops, ",") + "]"

	if _, err := jsonpatch.DecodePatch([]byte(doc)); err != nil {
		return "", fmt.Errorf("rendered patch does not decode as valid JSON Patch: %w", err)
	}
	return doc, nil
}

func renderOp(e changeset.Edit) (string, error) {
	switch e.Kind {
	case changeset.AttachNode:
		return jsonOp("add", e.Node.Path(), nil)
	case changeset.DetachNode:
		return jsonOp("remove", e.Node.Path(), nil)
	case changeset.AddProperty:
		return jsonOp("add", propPath(e.Node, e.Prop.Name), e.Prop.Value)
	case changeset.UpdateProperty:
		return jsonOp("replace", propPath(e.Node, e.Prop.Name), e.Prop.Value)
	case changeset.RemoveProperty:
		return jsonOp("remove", propPath(e.Node, e.PropName), nil)
	default:
		return "", fmt.Errorf("debug patch: unknown edit kind %v", e.Kind)
	}
}

func propPath(node interface{ Path() string }, name string) string {
	base := node.Path()
	if base == "/" {
		return "/" + name
	}
	return base + "/" + name
}

func jsonOp(op, path string, value []byte) (string, error) {
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return "", err
	}
	if value == nil {
		return fmt.Sprintf(`{"op":%q,"path":%s}`, op, pathJSON), nil
	}
	valJSON, err := json.Marshal(string(value))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`{"op":%q,"path":%s,"value":%s}`, op, pathJSON, valJSON), nil
}

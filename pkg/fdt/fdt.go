// Package fdt decodes a flattened devicetree (DTB) blob into the live-tree
// node representation pkg/dtree defines. It understands only the token
// stream needed to unflatten an overlay blob (FDT_BEGIN_NODE, FDT_PROP,
// FDT_END_NODE, FDT_END); it does not interpret memory reservations or
// produce a flattened blob back out — this package is a reader, not a
// writer, matching the one direction an apply operation actually needs
// (a raw blob goes in; nothing here serializes one back out).
package fdt

import (
	"encoding/binary"
	"fmt"

	"github.com/nirmata/dtoverlay/pkg/dtree"
)

const (
	magic = 0xd00dfeed

	tokenBeginNode = 0x00000001
	tokenEndNode   = 0x00000002
	tokenProp      = 0x00000003
	tokenNop       = 0x00000004
	tokenEnd       = 0x00000009
)

// header mirrors struct fdt_header from the devicetree spec, big-endian on
// the wire.
type header struct {
	Magic           uint32
	TotalSize       uint32
	OffDtStruct     uint32
	OffDtStrings    uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCpuidPhys   uint32
	SizeDtStrings   uint32
	SizeDtStruct    uint32
}

// Decode unflattens a DTB buffer into a detached *dtree.Node tree rooted at
// the blob's top-level node. The returned tree has no parent/tree linkage
// beyond parent pointers set via dtree.Node.AppendDecodedChild; the caller (the
// phandle resolver, then the overlay builder) is responsible for anything
// further.
func Decode(data []byte) (*dtree.Node, error) {
	if len(data) < 40 {
		return nil, fmt.Errorf("fdt: blob too short (%d bytes) to contain a header", len(data))
	}

	var h header
	h.Magic = binary.BigEndian.Uint32(data[0:4])
	h.TotalSize = binary.BigEndian.Uint32(data[4:8])
	h.OffDtStruct = binary.BigEndian.Uint32(data[8:12])
	h.OffDtStrings = binary.BigEndian.Uint32(data[12:16])
	h.OffMemRsvmap = binary.BigEndian.Uint32(data[16:20])
	h.Version = binary.BigEndian.Uint32(data[20:24])
	h.LastCompVersion = binary.BigEndian.Uint32(data[24:28])
	h.BootCpuidPhys = binary.BigEndian.Uint32(data[28:32])
	h.SizeDtStrings = binary.BigEndian.Uint32(data[32:36])
	h.SizeDtStruct = binary.BigEndian.Uint32(data[36:40])

	if h.Magic != magic {
		return nil, fmt.Errorf("fdt: bad magic 0x%08x, want 0x%08x", h.Magic, magic)
	}
	if int(h.TotalSize) > len(data) {
		return nil, fmt.Errorf("fdt: header claims totalsize %d but blob is only %d bytes", h.TotalSize, len(data))
	}

	strTab := data[h.OffDtStrings : h.OffDtStrings+h.SizeDtStrings]
	structEnd := h.OffDtStruct + h.SizeDtStruct
	if structEnd > uint32(len(data)) {
		structEnd = uint32(len(data))
	}
	d := &decoder{buf: data, off: h.OffDtStruct, strTab: strTab, structEnd: structEnd}

	root, err := d.decodeNode()
	if err != nil {
		return nil, fmt.Errorf("fdt: %w", err)
	}
	return root, nil
}

type decoder struct {
	buf       []byte
	off       uint32
	strTab    []byte
	structEnd uint32
}

func (d *decoder) u32() (uint32, error) {
	if d.off+4 > d.structEnd {
		return 0, fmt.Errorf("unexpected end of struct block at offset %d", d.off)
	}
	v := binary.BigEndian.Uint32(d.buf[d.off : d.off+4])
	d.off += 4
	return v, nil
}

func align4(off uint32) uint32 {
	return (off + 3) &^ 3
}

func (d *decoder) cstring() (string, uint32) {
	start := d.off
	end := start
	for end < uint32(len(d.buf)) && d.buf[end] != 0 {
		end++
	}
	s := string(d.buf[start:end])
	next := align4(end + 1)
	d.off = next
	return s, end - start
}

// decodeNode decodes one FDT_BEGIN_NODE...FDT_END_NODE span, recursing into
// child nodes, and returns the unflattened node. It reads the node's own
// FDT_BEGIN_NODE token first, so the caller must leave the decoder
// positioned at that token.
func (d *decoder) decodeNode() (*dtree.Node, error) {
	tok, err := d.u32()
	if err != nil {
		return nil, err
	}
	if tok != tokenBeginNode {
		return nil, fmt.Errorf("expected FDT_BEGIN_NODE, got token 0x%x at offset %d", tok, d.off-4)
	}
	name, _ := d.cstring()
	node := dtree.NewNode(name)
	node.SetFlag(dtree.FlagDetached)

	for {
		tok, err := d.u32()
		if err != nil {
			return nil, err
		}
		switch tok {
		case tokenNop:
			continue
		case tokenProp:
			p, err := d.decodeProp()
			if err != nil {
				return nil, err
			}
			node.AppendDecodedProp(p)
		case tokenBeginNode:
			d.off -= 4 // decodeNode expects to consume its own BEGIN_NODE
			child, err := d.decodeNode()
			if err != nil {
				return nil, err
			}
			node.AppendDecodedChild(child)
		case tokenEndNode:
			applyPhandleProp(node)
			return node, nil
		case tokenEnd:
			return nil, fmt.Errorf("unexpected FDT_END inside node %q", name)
		default:
			return nil, fmt.Errorf("unknown token 0x%x inside node %q", tok, name)
		}
	}
}

// applyPhandleProp sets node's phandle from its "phandle" or legacy
// "linux,phandle" property, if either decoded with a 4-byte value. The
// property itself is left in place; the symbols/fixup machinery in
// pkg/phandle still needs to see it when resolving __fixups__ references.
func applyPhandleProp(node *dtree.Node) {
	p := node.Prop("phandle")
	if p == nil {
		p = node.Prop("linux,phandle")
	}
	if p != nil && len(p.Value) == 4 {
		node.SetPhandle(binary.BigEndian.Uint32(p.Value))
	}
}

func (d *decoder) decodeProp() (*dtree.Property, error) {
	length, err := d.u32()
	if err != nil {
		return nil, err
	}
	nameoff, err := d.u32()
	if err != nil {
		return nil, err
	}
	if int(nameoff) >= len(d.strTab) {
		return nil, fmt.Errorf("property name offset %d out of range", nameoff)
	}
	nameEnd := nameoff
	for int(nameEnd) < len(d.strTab) && d.strTab[nameEnd] != 0 {
		nameEnd++
	}
	name := string(d.strTab[nameoff:nameEnd])

	if d.off+length > uint32(len(d.buf)) {
		return nil, fmt.Errorf("property %q value of length %d overruns blob", name, length)
	}
	value := append([]byte(nil), d.buf[d.off:d.off+length]...)
	d.off = align4(d.off + length)

	return &dtree.Property{Name: name, Value: value}, nil
}

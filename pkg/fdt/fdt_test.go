package fdt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBlob assembles a minimal DTB buffer by hand: a root node with one
// string property and one child node with a phandle property, encoded per
// the flattened devicetree token stream this package decodes.
func buildBlob(t *testing.T) []byte {
	t.Helper()

	var strTab []byte
	compatOff := uint32(len(strTab))
	strTab = append(strTab, []byte("compatible\x00")...)
	phOff := uint32(len(strTab))
	strTab = append(strTab, []byte("phandle\x00")...)

	u32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return b
	}
	padName := func(name string) []byte {
		b := append([]byte(name), 0)
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}
	padValue := func(v []byte) []byte {
		b := append([]byte(nil), v...)
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		return b
	}

	var structBlock []byte
	structBlock = append(structBlock, u32(tokenBeginNode)...)
	structBlock = append(structBlock, padName("")...) // root node, empty name

	compatVal := padValue([]byte("x\x00"))
	structBlock = append(structBlock, u32(tokenProp)...)
	structBlock = append(structBlock, u32(uint32(len([]byte("x\x00"))))...)
	structBlock = append(structBlock, u32(compatOff)...)
	structBlock = append(structBlock, compatVal...)

	structBlock = append(structBlock, u32(tokenBeginNode)...)
	structBlock = append(structBlock, padName("a")...)

	phVal := u32(0x10)
	structBlock = append(structBlock, u32(tokenProp)...)
	structBlock = append(structBlock, u32(4)...)
	structBlock = append(structBlock, u32(phOff)...)
	structBlock = append(structBlock, phVal...)

	structBlock = append(structBlock, u32(tokenEndNode)...) // end "a"
	structBlock = append(structBlock, u32(tokenEndNode)...) // end root
	structBlock = append(structBlock, u32(tokenEnd)...)

	headerSize := uint32(40)
	offDtStruct := headerSize
	offDtStrings := offDtStruct + uint32(len(structBlock))
	total := offDtStrings + uint32(len(strTab))

	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint32(buf[0:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], total)
	binary.BigEndian.PutUint32(buf[8:12], offDtStruct)
	binary.BigEndian.PutUint32(buf[12:16], offDtStrings)
	binary.BigEndian.PutUint32(buf[16:20], 0) // off_mem_rsvmap, unused by Decode
	binary.BigEndian.PutUint32(buf[20:24], 17)
	binary.BigEndian.PutUint32(buf[24:28], 16)
	binary.BigEndian.PutUint32(buf[28:32], 0)
	binary.BigEndian.PutUint32(buf[32:36], uint32(len(strTab)))
	binary.BigEndian.PutUint32(buf[36:40], uint32(len(structBlock)))

	buf = append(buf, structBlock...)
	buf = append(buf, strTab...)
	require.EqualValues(t, total, len(buf))
	return buf
}

func TestDecodeMinimalBlob(t *testing.T) {
	blob := buildBlob(t)

	root, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "", root.Name())

	compat := root.Prop("compatible")
	require.NotNil(t, compat)
	assert.Equal(t, []byte("x\x00"), compat.Value)

	a := root.Child("a")
	require.NotNil(t, a)
	ph, ok := a.Phandle()
	require.True(t, ok)
	assert.EqualValues(t, 0x10, ph)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	blob := buildBlob(t)
	binary.BigEndian.PutUint32(blob[0:4], 0xdeadbeef)
	_, err := Decode(blob)
	require.Error(t, err)
}

func TestDecodeRejectsShortBlob(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

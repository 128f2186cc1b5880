package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMsgFormatsWithCorrectArgCount(t *testing.T) {
	msg, err := GetMsg(SOverlayApplied, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, "Overlay 3 applied successfully with 2 fragments", msg)
}

func TestGetMsgRejectsWrongArgCount(t *testing.T) {
	_, err := GetMsg(SOverlayApplied, 3)
	require.Error(t, err)
}

func TestGetMsgSingleArg(t *testing.T) {
	msg, err := GetMsg(SOverlayRemoved, 7)
	require.NoError(t, err)
	assert.Equal(t, "Overlay 7 removed successfully", msg)
}

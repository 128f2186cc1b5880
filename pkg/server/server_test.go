package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nirmata/dtoverlay/pkg/overlay"
)

func TestApplyBlobPassesThroughRawBody(t *testing.T) {
	body := []byte{0xd0, 0x0d, 0xfe, 0xed}
	blob, err := applyBlob("application/octet-stream", body)
	require.NoError(t, err)
	assert.Equal(t, body, blob)
}

func TestApplyBlobDecodesYAMLEnvelope(t *testing.T) {
	raw := []byte{0xd0, 0x0d, 0xfe, 0xed, 0x01, 0x02}
	doc := fmt.Sprintf("overlay: %q\n", base64.StdEncoding.EncodeToString(raw))

	blob, err := applyBlob("application/x-yaml", []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, raw, blob)
}

func TestApplyBlobRejectsYAMLEnvelopeMissingOverlayField(t *testing.T) {
	_, err := applyBlob("text/yaml", []byte("notOverlay: abc\n"))
	assert.Error(t, err)
}

func TestApplyBlobRejectsBadBase64InYAMLEnvelope(t *testing.T) {
	_, err := applyBlob("text/yaml", []byte("overlay: \"not base64!!\"\n"))
	assert.Error(t, err)
}

func TestClassifyStatusMapsSentinelErrors(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, classifyStatus(fmt.Errorf("wrap: %w", overlay.ErrInvalid)))
	assert.Equal(t, http.StatusNotFound, classifyStatus(fmt.Errorf("wrap: %w", overlay.ErrNoDev)))
	assert.Equal(t, http.StatusConflict, classifyStatus(fmt.Errorf("wrap: %w", overlay.ErrBusy)))
	assert.Equal(t, http.StatusInternalServerError, classifyStatus(fmt.Errorf("boom")))
}

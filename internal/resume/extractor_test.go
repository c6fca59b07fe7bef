package resume

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	e := NewTextExtractor()

	out, err := e.Extract([]byte("Jane Doe\n\n\n\nBackend engineer.\t \n"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\n\nBackend engineer.", out)
}

func TestExtractMimeHandling(t *testing.T) {
	e := NewTextExtractor()

	_, err := e.Extract([]byte("# Resume"), "text/markdown; charset=utf-8")
	assert.NoError(t, err)

	_, err = e.Extract([]byte("%PDF-1.4"), "application/pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mime type")

	_, err = e.Extract(nil, "text/plain")
	assert.Error(t, err)

	_, err = e.Extract([]byte{0xff, 0xfe, 0x00}, "text/plain")
	assert.Error(t, err)
}

func TestExtractSizeLimit(t *testing.T) {
	e := NewTextExtractor()

	big := strings.Repeat("a", MaxFileBytes+1)
	_, err := e.Extract([]byte(big), "text/plain")
	assert.Error(t, err)
}

func TestExtractStripsControlChars(t *testing.T) {
	e := NewTextExtractor()

	out, err := e.Extract([]byte("line\x00one\nline\ttwo"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "lineone\nline\ttwo", out)
}

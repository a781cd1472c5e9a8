package orchestrator

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// pptx builds a minimal zip package containing the named parts.
func pptx(t *testing.T, parts ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("<xml/>"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestValidator(t *testing.T) {
	v := NewValidator(1 << 20)
	deck := pptx(t, "[Content_Types].xml", "ppt/presentation.xml", "ppt/slides/slide1.xml")

	tests := []struct {
		name     string
		filename string
		data     []byte
		kind     domain.SourceKind
		wantErr  error
	}{
		{name: "pptx", filename: "talk.pptx", data: deck, kind: domain.SourcePPTX},
		{name: "upper case extension", filename: "TALK.PPTX", data: deck, kind: domain.SourcePPTX},
		{name: "pdf", filename: "talk.pdf", data: []byte("%PDF-1.7\n..."), kind: domain.SourcePDF},
		{name: "empty", filename: "talk.pptx", data: nil, wantErr: domain.ErrInput},
		{name: "no filename", filename: " ", data: deck, wantErr: domain.ErrInvalidArgument},
		{name: "not a zip", filename: "talk.pptx", data: []byte("hello"), wantErr: domain.ErrInput},
		{name: "zip without presentation", filename: "talk.pptx", data: pptx(t, "word/document.xml"), wantErr: domain.ErrInput},
		{name: "pdf without header", filename: "talk.pdf", data: []byte("hello"), wantErr: domain.ErrInput},
		{name: "unsupported type", filename: "talk.key", data: deck, wantErr: domain.ErrInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := v.Validate(tt.filename, tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestValidatorSizeLimit(t *testing.T) {
	data := append([]byte("%PDF-"), make([]byte, 100)...)

	_, err := NewValidator(50).Validate("big.pdf", data)
	assert.ErrorIs(t, err, domain.ErrInput)

	_, err = NewValidator(0).Validate("big.pdf", data)
	assert.NoError(t, err, "zero disables the limit")
}

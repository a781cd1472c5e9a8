package orchestrator

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// presentationPart is the part every PowerPoint package contains.
const presentationPart = "ppt/presentation.xml"

// Validator performs the cheap structural check of a submitted deck
type Validator struct {
	maxBytes int64
}

// NewValidator creates a new deck validator. A maxBytes of zero disables
// the size limit.
func NewValidator(maxBytes int64) *Validator {
	return &Validator{maxBytes: maxBytes}
}

// Validate checks that data is a non-empty PowerPoint or PDF document
// within the size limit and returns its kind.
func (v *Validator) Validate(filename string, data []byte) (domain.SourceKind, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("%w: filename is required", domain.ErrInvalidArgument)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", domain.ErrInput, filename)
	}
	if v.maxBytes > 0 && int64(len(data)) > v.maxBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, limit is %d", domain.ErrInput, filename, len(data), v.maxBytes)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pptx":
		if err := validatePPTX(data); err != nil {
			return "", fmt.Errorf("%w: %s: %v", domain.ErrInput, filename, err)
		}
		return domain.SourcePPTX, nil
	case ".pdf":
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return "", fmt.Errorf("%w: %s: missing PDF header", domain.ErrInput, filename)
		}
		return domain.SourcePDF, nil
	default:
		return "", fmt.Errorf("%w: %s: unsupported file type (must be .pptx or .pdf)", domain.ErrInput, filename)
	}
}

// validatePPTX checks the package is a zip archive with a presentation part
func validatePPTX(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("not a zip archive: %v", err)
	}
	for _, f := range zr.File {
		if f.Name == presentationPart {
			return nil
		}
	}
	return fmt.Errorf("missing %s", presentationPart)
}

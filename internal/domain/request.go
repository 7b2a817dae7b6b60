package domain

import (
	"fmt"
	"strings"
)

const (
	FieldContentImage = "content_image"
	FieldStyleImage   = "style_image"
)

type StylizeRequest struct {
	RequestID string
	ClientID  string
	Content   []byte
	Style     []byte

	// HasContent and HasStyle report field presence, which is distinct from an
	// empty upload: a present but empty file is a decode failure, not a client
	// omission.
	HasContent bool
	HasStyle   bool
}

func (r StylizeRequest) Validate() error {
	var missing []string
	if !r.HasContent {
		missing = append(missing, FieldContentImage)
	}
	if !r.HasStyle {
		missing = append(missing, FieldStyleImage)
	}
	if len(missing) == 0 {
		return nil
	}
	return NewError("validate request", ErrMissingField,
		fmt.Errorf("upload both %s and %s (missing: %s)", FieldContentImage, FieldStyleImage, strings.Join(missing, ", ")))
}

package pipeline

import (
	"context"
	"fmt"
	"image"
	"strings"
)

const (
	FilterLinear     = "linear"
	FilterCatmullRom = "catmullrom"
	FilterLanczos    = "lanczos"
	FilterMitchell   = "mitchell"
)

// Transformer decodes raw image bytes and returns an opaque RGB image whose
// longer side equals maxDim.
type Transformer interface {
	Fit(ctx context.Context, input []byte, maxDim int) (*image.NRGBA, error)
}

type Options struct {
	Filter     string
	AutoOrient bool
}

// ValidateFilter rejects unknown filters and the ones that degrade to
// nearest-neighbour sampling when upscaling.
func ValidateFilter(name string) error {
	switch normalizeFilter(name) {
	case FilterLinear, FilterCatmullRom, FilterLanczos, FilterMitchell:
		return nil
	case "nearest", "box":
		return fmt.Errorf("resample filter %q is not smooth enough for style transfer", name)
	default:
		return fmt.Errorf("unknown resample filter %q", name)
	}
}

func normalizeFilter(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return FilterLinear
	case "bilinear":
		return FilterLinear
	case "catmull-rom", "bicubic":
		return FilterCatmullRom
	case "lanczos3":
		return FilterLanczos
	default:
		return name
	}
}

//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/artify/internal/domain"
)

type govipsTransformer struct {
	kernel     vips.Kernel
	autoOrient bool
}

func newGovipsTransformer(opts Options) (govipsTransformer, error) {
	if err := ValidateFilter(opts.Filter); err != nil {
		return govipsTransformer{}, err
	}

	kernel := vips.KernelLinear
	switch normalizeFilter(opts.Filter) {
	case FilterCatmullRom:
		kernel = vips.KernelCubic
	case FilterLanczos:
		kernel = vips.KernelLanczos3
	case FilterMitchell:
		kernel = vips.KernelMitchell
	}

	return govipsTransformer{kernel: kernel, autoOrient: opts.AutoOrient}, nil
}

func (t govipsTransformer) Fit(ctx context.Context, input []byte, maxDim int) (*image.NRGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if len(input) == 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrDecode)
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	defer img.Close()

	if t.autoOrient {
		if err := img.AutoRotate(); err != nil {
			return nil, fmt.Errorf("auto-rotate: %w", err)
		}
	}

	srcW, srcH := img.Width(), img.Height()
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("%w: image has zero size", domain.ErrInvalidImage)
	}

	if err := img.ToColorSpace(vips.InterpretationSRGB); err != nil {
		return nil, fmt.Errorf("convert to srgb: %w", err)
	}
	if img.HasAlpha() {
		if err := img.ExtractBand(0, 3); err != nil {
			return nil, fmt.Errorf("drop alpha: %w", err)
		}
	}

	width, height := ScaledSize(srcW, srcH, maxDim)
	if width != srcW || height != srcH {
		hScale := float64(width) / float64(srcW)
		vScale := float64(height) / float64(srcH)
		if err := img.ResizeWithVScale(hScale, vScale, t.kernel); err != nil {
			return nil, fmt.Errorf("resize image: %w", err)
		}
	}

	out, err := img.ToImage(vips.NewDefaultExportParams())
	if err != nil {
		return nil, fmt.Errorf("export image: %w", err)
	}

	opaque := dropAlpha(out)
	// libvips may land one pixel off the requested size after rounding.
	if b := opaque.Bounds(); b.Dx() != width || b.Dy() != height {
		opaque = imaging.Resize(opaque, width, height, imaging.Linear)
	}
	return opaque, nil
}

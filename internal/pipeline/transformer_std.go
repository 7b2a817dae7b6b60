package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/artify/internal/domain"
	_ "golang.org/x/image/webp"
)

type imagingTransformer struct {
	filter     imaging.ResampleFilter
	autoOrient bool
}

func newImagingTransformer(opts Options) (imagingTransformer, error) {
	if err := ValidateFilter(opts.Filter); err != nil {
		return imagingTransformer{}, err
	}

	var filter imaging.ResampleFilter
	switch normalizeFilter(opts.Filter) {
	case FilterCatmullRom:
		filter = imaging.CatmullRom
	case FilterLanczos:
		filter = imaging.Lanczos
	case FilterMitchell:
		filter = imaging.MitchellNetravali
	default:
		filter = imaging.Linear
	}

	return imagingTransformer{filter: filter, autoOrient: opts.AutoOrient}, nil
}

func (t imagingTransformer) Fit(ctx context.Context, input []byte, maxDim int) (*image.NRGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if len(input) == 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrDecode)
	}

	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(t.autoOrient))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has zero size", domain.ErrInvalidImage)
	}

	opaque := dropAlpha(src)
	width, height := ScaledSize(bounds.Dx(), bounds.Dy(), maxDim)
	if width == 0 {
		return nil, errors.New("max dimension must be positive")
	}
	if width == bounds.Dx() && height == bounds.Dy() {
		return opaque, nil
	}

	return imaging.Resize(opaque, width, height, t.filter), nil
}

// dropAlpha copies src into a zero-origin NRGBA and discards the alpha
// channel. Colour samples are kept as stored; nothing is composited.
func dropAlpha(src image.Image) *image.NRGBA {
	dst := imaging.Clone(src)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

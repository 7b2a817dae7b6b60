package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/dunamismax/artify/internal/domain"
)

// Normalizer turns uploaded image bytes into a model-ready batch of one:
// decoded, forced to RGB, scaled so the longer side equals maxDim and mapped
// to float32 samples in [0, 1]. It holds no per-call state.
type Normalizer struct {
	maxDim      int
	transformer Transformer
}

func NewNormalizer(maxDim int, opts Options) (*Normalizer, error) {
	if maxDim <= 0 {
		return nil, fmt.Errorf("max dimension must be positive, got %d", maxDim)
	}

	transformer, err := newTransformer(opts)
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}

	return &Normalizer{maxDim: maxDim, transformer: transformer}, nil
}

func (n *Normalizer) MaxDim() int {
	return n.maxDim
}

func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (domain.Batch, error) {
	img, err := n.transformer.Fit(ctx, raw, n.maxDim)
	if err != nil {
		return domain.Batch{}, err
	}

	grid, err := GridFromImage(img)
	if err != nil {
		return domain.Batch{}, err
	}
	return domain.Batched(grid), nil
}

// GridFromImage converts 8-bit samples to float32 by dividing by 255. Alpha is ignored.
func GridFromImage(img *image.NRGBA) (domain.PixelGrid, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	grid, err := domain.NewPixelGrid(height, width)
	if err != nil {
		return domain.PixelGrid{}, err
	}

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+3]
			grid.SetRGB(y, x,
				float32(px[0])/255.0,
				float32(px[1])/255.0,
				float32(px[2])/255.0,
			)
		}
	}
	return grid, nil
}

package domain

import "fmt"

// Channels is fixed at three: the model call convention is RGB only.
const Channels = 3

// PixelGrid is a decoded image in HWC order with float32 samples in [0, 1].
type PixelGrid struct {
	Height int
	Width  int
	Pix    []float32
}

func NewPixelGrid(height, width int) (PixelGrid, error) {
	if height <= 0 || width <= 0 {
		return PixelGrid{}, fmt.Errorf("%w: %dx%d", ErrInvalidImage, width, height)
	}
	return PixelGrid{
		Height: height,
		Width:  width,
		Pix:    make([]float32, height*width*Channels),
	}, nil
}

func (g PixelGrid) offset(y, x int) int {
	return (y*g.Width + x) * Channels
}

func (g PixelGrid) RGB(y, x int) (r, gr, b float32) {
	i := g.offset(y, x)
	return g.Pix[i], g.Pix[i+1], g.Pix[i+2]
}

func (g PixelGrid) SetRGB(y, x int, r, gr, b float32) {
	i := g.offset(y, x)
	g.Pix[i], g.Pix[i+1], g.Pix[i+2] = r, gr, b
}

// Batch is a stack of equally sized grids with a leading batch axis, shaped
// (Size, Height, Width, 3). This service only ever builds batches of one.
type Batch struct {
	Size   int
	Height int
	Width  int
	Data   []float32
}

// Batched wraps g in a batch of one. The pixel slice is shared, not copied.
func Batched(g PixelGrid) Batch {
	return Batch{Size: 1, Height: g.Height, Width: g.Width, Data: g.Pix}
}

func (b Batch) Shape() []int64 {
	return []int64{int64(b.Size), int64(b.Height), int64(b.Width), Channels}
}

func (b Batch) Validate() error {
	if b.Size <= 0 || b.Height <= 0 || b.Width <= 0 {
		return fmt.Errorf("%w: non-positive batch shape %v", ErrShape, b.Shape())
	}
	if want := b.Size * b.Height * b.Width * Channels; len(b.Data) != want {
		return fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShape, b.Shape(), want, len(b.Data))
	}
	return nil
}

// Unbatch strips the batch axis. It fails unless the batch holds exactly one grid.
func (b Batch) Unbatch() (PixelGrid, error) {
	if b.Size != 1 {
		return PixelGrid{}, fmt.Errorf("%w: expected batch size 1, got %d", ErrShape, b.Size)
	}
	if err := b.Validate(); err != nil {
		return PixelGrid{}, err
	}
	return PixelGrid{Height: b.Height, Width: b.Width, Pix: b.Data}, nil
}

package pipeline

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/artify/internal/domain"
)

// Encoder turns a model output batch back into a base64 JPEG.
type Encoder struct {
	quality int
}

// NewEncoder keeps the JPEG default quality unless quality is within 1..100.
func NewEncoder(quality int) *Encoder {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Encoder{quality: quality}
}

func (e *Encoder) Encode(b domain.Batch) (string, error) {
	data, _, _, err := e.EncodeJPEG(b)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (e *Encoder) EncodeJPEG(b domain.Batch) ([]byte, int, int, error) {
	grid, err := b.Unbatch()
	if err != nil {
		return nil, 0, 0, err
	}

	img := ImageFromGrid(grid)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), grid.Width, grid.Height, nil
}

func ImageFromGrid(g domain.PixelGrid) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+g.Width*4]
		for x := 0; x < g.Width; x++ {
			r, gr, b := g.RGB(y, x)
			px := row[x*4 : x*4+4]
			px[0] = Quantize(r)
			px[1] = Quantize(gr)
			px[2] = Quantize(b)
			px[3] = 0xff
		}
	}
	return img
}

// Quantize maps a [0, 1] sample to 0..255, clipping out-of-range values
// instead of wrapping them. Ties round to even; NaN maps to 0.
func Quantize(v float32) uint8 {
	f := float64(v) * 255
	switch {
	case math.IsNaN(f), f <= 0:
		return 0
	case f >= 255:
		return 255
	}
	return uint8(math.RoundToEven(f))
}

package pipeline

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"math"
	"testing"

	"github.com/dunamismax/artify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jpegTolerance absorbs chroma subsampling and quantisation noise on flat blocks.
const jpegTolerance = 3

func TestQuantize(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want uint8
	}{
		{name: "black", in: 0, want: 0},
		{name: "white", in: 1, want: 255},
		{name: "above range clips", in: 1.2, want: 255},
		{name: "below range clips", in: -0.3, want: 0},
		{name: "nan", in: float32(math.NaN()), want: 0},
		{name: "positive infinity", in: float32(math.Inf(1)), want: 255},
		{name: "half rounds to even", in: 0.5, want: 128},
		{name: "mid grey", in: 0.2, want: 51},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Quantize(tt.in))
		})
	}
}

func TestEncodeExtremes(t *testing.T) {
	tests := []struct {
		name  string
		value float32
		want  float64
	}{
		{name: "all zero is black", value: 0, want: 0},
		{name: "all one is white", value: 1, want: 255},
		{name: "overshoot clamps to white", value: 1.2, want: 255},
		{name: "undershoot clamps to black", value: -0.5, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := filledBatch(t, 8, 8, tt.value, tt.value, tt.value)

			encoded, err := NewEncoder(0).Encode(batch)
			require.NoError(t, err)

			img := decodeBase64JPEG(t, encoded)
			assert.Equal(t, 8, img.Bounds().Dx())
			assert.Equal(t, 8, img.Bounds().Dy())
			for y := 0; y < 8; y++ {
				for x := 0; x < 8; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					assert.InDelta(t, tt.want, float64(r>>8), jpegTolerance)
					assert.InDelta(t, tt.want, float64(g>>8), jpegTolerance)
					assert.InDelta(t, tt.want, float64(b>>8), jpegTolerance)
				}
			}
		})
	}
}

func TestEncodeRejectsBatchOfTwo(t *testing.T) {
	batch := domain.Batch{Size: 2, Height: 2, Width: 2, Data: make([]float32, 2*2*2*3)}

	_, err := NewEncoder(0).Encode(batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrShape)
}

func TestEncodeJPEGReportsDimensions(t *testing.T) {
	data, w, h, err := NewEncoder(90).EncodeJPEG(filledBatch(t, 5, 9, 0.2, 0.4, 0.6))
	require.NoError(t, err)

	assert.Equal(t, 9, w)
	assert.Equal(t, 5, h)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Width)
	assert.Equal(t, 5, cfg.Height)
}

func TestNewEncoderDefaultsQuality(t *testing.T) {
	assert.Equal(t, jpeg.DefaultQuality, NewEncoder(0).quality)
	assert.Equal(t, jpeg.DefaultQuality, NewEncoder(101).quality)
	assert.Equal(t, 90, NewEncoder(90).quality)
}

func filledBatch(t *testing.T, h, w int, r, g, b float32) domain.Batch {
	t.Helper()

	grid, err := domain.NewPixelGrid(h, w)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			grid.SetRGB(y, x, r, g, b)
		}
	}
	return domain.Batched(grid)
}

func decodeBase64JPEG(t *testing.T, encoded string) image.Image {
	t.Helper()

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/artify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaledSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxDim        int
		wantW, wantH  int
	}{
		{name: "landscape downscale", width: 1024, height: 768, maxDim: 512, wantW: 512, wantH: 384},
		{name: "portrait downscale", width: 600, height: 1000, maxDim: 512, wantW: 307, wantH: 512},
		{name: "square upscale", width: 2, height: 2, maxDim: 512, wantW: 512, wantH: 512},
		{name: "already at bound", width: 512, height: 341, maxDim: 512, wantW: 512, wantH: 341},
		{name: "thin strip keeps one pixel", width: 4000, height: 1, maxDim: 512, wantW: 512, wantH: 1},
		{name: "odd ratio rounds", width: 333, height: 1000, maxDim: 100, wantW: 33, wantH: 100},
		{name: "zero width", width: 0, height: 10, maxDim: 512, wantW: 0, wantH: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := ScaledSize(tt.width, tt.height, tt.maxDim)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestScaledSizeKeepsLongerSideAndAspect(t *testing.T) {
	for _, maxDim := range []int{64, 256, 512} {
		for _, dims := range [][2]int{{1, 1}, {3, 7}, {640, 480}, {1080, 1920}, {4096, 17}, {999, 1000}} {
			w, h := ScaledSize(dims[0], dims[1], maxDim)

			assert.Equal(t, maxDim, max(w, h), "dims=%v maxDim=%d", dims, maxDim)

			// Each side is within half a pixel of its exact scaled value.
			scale := float64(maxDim) / float64(max(dims[0], dims[1]))
			assert.InDelta(t, float64(dims[0])*scale, float64(w), 0.5+1e-9)
			assert.InDelta(t, float64(dims[1])*scale, float64(h), 0.5+1e-9)
		}
	}
}

func TestNormalizeDimensions(t *testing.T) {
	normalizer := newTestNormalizer(t, 64)

	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{name: "landscape", width: 240, height: 120, wantW: 64, wantH: 32},
		{name: "portrait", width: 90, height: 300, wantW: 19, wantH: 64},
		{name: "tiny upscale", width: 2, height: 2, wantW: 64, wantH: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := normalizer.Normalize(context.Background(), buildTestPNG(t, tt.width, tt.height))
			require.NoError(t, err)

			assert.Equal(t, 1, batch.Size)
			assert.Equal(t, tt.wantW, batch.Width)
			assert.Equal(t, tt.wantH, batch.Height)
			assert.Len(t, batch.Data, tt.wantW*tt.wantH*domain.Channels)
			for _, v := range batch.Data {
				require.GreaterOrEqual(t, v, float32(0))
				require.LessOrEqual(t, v, float32(1))
			}
		})
	}
}

func TestNormalizeIsIdempotentOnDimensions(t *testing.T) {
	normalizer := newTestNormalizer(t, 100)

	first, err := normalizer.Normalize(context.Background(), buildTestPNG(t, 333, 1000))
	require.NoError(t, err)

	grid, err := first.Unbatch()
	require.NoError(t, err)
	reencoded := encodePNG(t, ImageFromGrid(grid))

	second, err := normalizer.Normalize(context.Background(), reencoded)
	require.NoError(t, err)

	assert.Equal(t, first.Width, second.Width)
	assert.Equal(t, first.Height, second.Height)
}

func TestNormalizeSolidColour(t *testing.T) {
	normalizer := newTestNormalizer(t, 16)
	src := solidImage(2, 2, color.NRGBA{R: 255, A: 255})

	batch, err := normalizer.Normalize(context.Background(), encodePNG(t, src))
	require.NoError(t, err)

	grid, err := batch.Unbatch()
	require.NoError(t, err)
	r, g, b := grid.RGB(7, 9)
	assert.InDelta(t, 1.0, r, 1e-6)
	assert.InDelta(t, 0.0, g, 1e-6)
	assert.InDelta(t, 0.0, b, 1e-6)
}

func TestNormalizeDropsAlphaWithoutCompositing(t *testing.T) {
	normalizer := newTestNormalizer(t, 4)
	src := solidImage(4, 4, color.NRGBA{R: 10, G: 200, B: 30, A: 64})

	batch, err := normalizer.Normalize(context.Background(), encodePNG(t, src))
	require.NoError(t, err)

	r, g, b := mustGrid(t, batch).RGB(0, 0)
	assert.InDelta(t, 10.0/255, r, 1e-6)
	assert.InDelta(t, 200.0/255, g, 1e-6)
	assert.InDelta(t, 30.0/255, b, 1e-6)
}

func TestNormalizeExpandsGrayscale(t *testing.T) {
	normalizer := newTestNormalizer(t, 3)
	src := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range src.Pix {
		src.Pix[i] = 51
	}

	batch, err := normalizer.Normalize(context.Background(), encodePNG(t, src))
	require.NoError(t, err)

	r, g, b := mustGrid(t, batch).RGB(1, 1)
	assert.InDelta(t, 0.2, r, 1e-6)
	assert.Equal(t, r, g)
	assert.Equal(t, r, b)
}

func TestNormalizeDecodesJPEG(t *testing.T) {
	normalizer := newTestNormalizer(t, 32)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(64, 48, color.NRGBA{B: 255, A: 255}), nil))

	batch, err := normalizer.Normalize(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 32, batch.Width)
	assert.Equal(t, 24, batch.Height)
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	normalizer := newTestNormalizer(t, 512)

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "zero bytes", input: nil},
		{name: "not an image", input: []byte("definitely not a picture")},
		{name: "truncated png", input: buildTestPNG(t, 20, 20)[:40]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizer.Normalize(context.Background(), tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrDecode)
			assert.Contains(t, err.Error(), "decode error")
		})
	}
}

func TestNormalizeHonoursCancelledContext(t *testing.T) {
	normalizer := newTestNormalizer(t, 512)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := normalizer.Normalize(ctx, buildTestPNG(t, 4, 4))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewNormalizerValidation(t *testing.T) {
	_, err := NewNormalizer(0, Options{})
	assert.Error(t, err)

	_, err = NewNormalizer(512, Options{Filter: "nearest"})
	assert.Error(t, err)

	_, err = NewNormalizer(512, Options{Filter: "sinc-of-doom"})
	assert.Error(t, err)

	for _, filter := range []string{"", "linear", "bilinear", "CatmullRom", "lanczos", "mitchell"} {
		n, err := NewNormalizer(512, Options{Filter: filter})
		require.NoError(t, err, filter)
		assert.Equal(t, 512, n.MaxDim())
	}
}

func newTestNormalizer(t testing.TB, maxDim int) *Normalizer {
	t.Helper()

	n, err := NewNormalizer(maxDim, Options{Filter: FilterLinear, AutoOrient: true})
	require.NoError(t, err)
	return n
}

func mustGrid(t *testing.T, b domain.Batch) domain.PixelGrid {
	t.Helper()

	g, err := b.Unbatch()
	require.NoError(t, err)
	return g
}

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return encodePNG(t, img)
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

package domain

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStylizeRequestValidate(t *testing.T) {
	tests := []struct {
		name        string
		req         StylizeRequest
		wantErr     bool
		wantMessage string
	}{
		{
			name: "both present",
			req:  StylizeRequest{HasContent: true, HasStyle: true, Content: []byte{1}, Style: []byte{2}},
		},
		{
			name:    "present but empty is not missing",
			req:     StylizeRequest{HasContent: true, HasStyle: true},
			wantErr: false,
		},
		{
			name:        "content missing",
			req:         StylizeRequest{HasStyle: true},
			wantErr:     true,
			wantMessage: "missing: content_image",
		},
		{
			name:        "both missing",
			req:         StylizeRequest{},
			wantErr:     true,
			wantMessage: "missing: content_image, style_image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingField)
			assert.Contains(t, err.Error(), tt.wantMessage)
		})
	}
}

func TestBatchUnbatch(t *testing.T) {
	grid, err := NewPixelGrid(2, 3)
	require.NoError(t, err)
	grid.SetRGB(1, 2, 0.1, 0.2, 0.3)

	batch := Batched(grid)
	assert.Equal(t, []int64{1, 2, 3, 3}, batch.Shape())

	back, err := batch.Unbatch()
	require.NoError(t, err)
	r, g, b := back.RGB(1, 2)
	assert.InDelta(t, 0.1, r, 1e-6)
	assert.InDelta(t, 0.2, g, 1e-6)
	assert.InDelta(t, 0.3, b, 1e-6)
}

func TestBatchUnbatchRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name  string
		batch Batch
	}{
		{name: "batch of two", batch: Batch{Size: 2, Height: 1, Width: 1, Data: make([]float32, 6)}},
		{name: "empty batch", batch: Batch{Size: 0, Height: 1, Width: 1}},
		{name: "short data", batch: Batch{Size: 1, Height: 2, Width: 2, Data: make([]float32, 5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.batch.Unbatch()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrShape)
		})
	}
}

func TestNewPixelGridRejectsZeroSize(t *testing.T) {
	_, err := NewPixelGrid(0, 10)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestErrorKinds(t *testing.T) {
	err := NewError("normalize content_image", ErrDecode, io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "normalize content_image: decode error: unexpected EOF", err.Error())
	assert.Equal(t, ErrDecode, KindOf(err))

	wrapped := errors.Join(errors.New("outer"), NewError("", ErrInferenceTimeout, nil))
	assert.Equal(t, ErrInferenceTimeout, KindOf(wrapped))
	assert.Nil(t, KindOf(errors.New("plain")))
}

func TestUsageLogPixelsProcessed(t *testing.T) {
	u := UsageLog{ContentWidth: 10, ContentHeight: 10, StyleWidth: 4, StyleHeight: 5}
	assert.Equal(t, int64(120), u.PixelsProcessed())
}

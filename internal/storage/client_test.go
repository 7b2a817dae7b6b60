package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Bucket: "models"}, zerolog.Nop())
	assert.ErrorContains(t, err, "endpoint")

	_, err = NewClient(Config{Endpoint: "localhost:9000"}, zerolog.Nop())
	assert.ErrorContains(t, err, "bucket")

	_, err = NewClient(Config{Endpoint: "localhost:9000", Bucket: "models"}, zerolog.Nop())
	require.NoError(t, err)
}

func TestIsMissingObject(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "no such key", err: minio.ErrorResponse{Code: "NoSuchKey"}, want: true},
		{name: "no such bucket", err: minio.ErrorResponse{Code: "NoSuchBucket"}, want: true},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied"}, want: false},
		{name: "plain error", err: errors.New("dial tcp: connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isMissingObject(tt.err))
		})
	}
}

func TestFetchModelReportsMissingObject(t *testing.T) {
	var downloads atomic.Int32
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			downloads.Add(1)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer registry.Close()

	c, err := NewClient(Config{
		Endpoint: strings.TrimPrefix(registry.URL, "http://"),
		Bucket:   "models",
		Region:   "us-east-1",
	}, zerolog.Nop())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "style.onnx")
	err = c.FetchModel(context.Background(), "style/v1.onnx", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.ErrorContains(t, err, "models/style/v1.onnx")
	assert.Zero(t, downloads.Load(), "download must not start")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteAtomically(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "style.onnx")

	require.NoError(t, writeAtomically(dest, strings.NewReader("weights"), 7))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")
}

func TestWriteAtomicallyRejectsShortDownload(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "style.onnx")

	err := writeAtomically(dest, strings.NewReader("wei"), 7)
	assert.ErrorContains(t, err, "short download")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

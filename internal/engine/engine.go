package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/artify/internal/domain"
)

const (
	KindIdentity  = "identity"
	KindONNX      = "onnx"
	KindTFServing = "tfserving"
)

// Engine is the opaque style-transfer model. Implementations are built once
// at startup and must be safe for concurrent Stylize calls.
type Engine interface {
	Stylize(ctx context.Context, content, style domain.Batch) (domain.Batch, error)
	Name() string
	Close() error
}

type Config struct {
	Kind string

	ONNX      ONNXConfig
	TFServing TFServingConfig
}

type ONNXConfig struct {
	ModelPath      string
	SharedLibrary  string
	ContentInput   string
	StyleInput     string
	Output         string
	IntraOpThreads int
}

type TFServingConfig struct {
	BaseURL      string
	Model        string
	ContentInput string
	StyleInput   string
	Output       string
	Timeout      time.Duration
}

// New builds the engine selected by cfg.Kind.
func New(cfg Config) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "":
		return nil, errors.New("engine kind is required")
	case KindIdentity:
		return Identity{}, nil
	case KindONNX:
		return NewONNX(cfg.ONNX)
	case KindTFServing:
		return NewTFServing(cfg.TFServing)
	default:
		return nil, fmt.Errorf("unsupported engine kind %q", cfg.Kind)
	}
}

// checkOutput verifies the model answered with one RGB image.
func checkOutput(out domain.Batch) error {
	if err := out.Validate(); err != nil {
		return err
	}
	if out.Size != 1 {
		return fmt.Errorf("%w: model returned batch of %d", domain.ErrShape, out.Size)
	}
	return nil
}

// batchFromShape builds a batch from a rank-4 NHWC tensor.
func batchFromShape(shape []int64, data []float32) (domain.Batch, error) {
	if len(shape) != 4 {
		return domain.Batch{}, fmt.Errorf("%w: expected rank 4 output, got shape %v", domain.ErrShape, shape)
	}
	if shape[3] != domain.Channels {
		return domain.Batch{}, fmt.Errorf("%w: expected %d channels, got shape %v", domain.ErrShape, domain.Channels, shape)
	}

	out := domain.Batch{
		Size:   int(shape[0]),
		Height: int(shape[1]),
		Width:  int(shape[2]),
		Data:   data,
	}
	if err := checkOutput(out); err != nil {
		return domain.Batch{}, err
	}
	return out, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dunamismax/artify/internal/domain"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultONNXContentInput = "placeholder"
	defaultONNXStyleInput   = "placeholder_1"
	defaultONNXOutput       = "output_0"
)

var ortInit struct {
	sync.Mutex
	refs int
}

// ONNX runs an exported arbitrary-image-stylization graph through
// onnxruntime. Input sizes vary per request, so it uses a dynamic session
// and allocates tensors per call.
type ONNX struct {
	session *ort.DynamicAdvancedSession
	cfg     ONNXConfig
}

func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx engine requires a model path")
	}
	if cfg.ContentInput == "" {
		cfg.ContentInput = defaultONNXContentInput
	}
	if cfg.StyleInput == "" {
		cfg.StyleInput = defaultONNXStyleInput
	}
	if cfg.Output == "" {
		cfg.Output = defaultONNXOutput
	}

	if err := acquireEnvironment(cfg.SharedLibrary); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("create onnx session options: %w", err)
	}
	defer options.Destroy()

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			releaseEnvironment()
			return nil, fmt.Errorf("set onnx intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.ContentInput, cfg.StyleInput}, []string{cfg.Output},
		options)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNX{session: session, cfg: cfg}, nil
}

func (e *ONNX) Name() string { return KindONNX }

func (e *ONNX) Stylize(ctx context.Context, content, style domain.Batch) (domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return domain.Batch{}, err
	}

	contentTensor, err := ort.NewTensor(ort.NewShape(content.Shape()...), content.Data)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("content tensor: %w", err)
	}
	defer contentTensor.Destroy()

	styleTensor, err := ort.NewTensor(ort.NewShape(style.Shape()...), style.Data)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("style tensor: %w", err)
	}
	defer styleTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{contentTensor, styleTensor}, outputs); err != nil {
		return domain.Batch{}, fmt.Errorf("run session: %w", err)
	}
	defer outputs[0].Destroy()

	result, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return domain.Batch{}, fmt.Errorf("%w: output %q is not a float32 tensor", domain.ErrShape, e.cfg.Output)
	}

	// The tensor owns its buffer, copy before Destroy releases it.
	data := append([]float32(nil), result.GetData()...)
	return batchFromShape(result.GetShape(), data)
}

func (e *ONNX) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	releaseEnvironment()
	return err
}

func acquireEnvironment(sharedLibrary string) error {
	ortInit.Lock()
	defer ortInit.Unlock()

	if ortInit.refs == 0 && !ort.IsInitialized() {
		if sharedLibrary != "" {
			ort.SetSharedLibraryPath(sharedLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnx environment: %w", err)
		}
	}
	ortInit.refs++
	return nil
}

func releaseEnvironment() {
	ortInit.Lock()
	defer ortInit.Unlock()

	ortInit.refs--
	if ortInit.refs <= 0 {
		ortInit.refs = 0
		_ = ort.DestroyEnvironment()
	}
}

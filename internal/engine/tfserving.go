package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/artify/internal/domain"
)

const defaultTFServingTimeout = 60 * time.Second

// TFServing calls a TensorFlow Serving REST predict endpoint hosting the
// stylization model. Tensors travel in the columnar "inputs" JSON format.
type TFServing struct {
	endpoint string
	cfg      TFServingConfig
	client   *http.Client
}

type predictRequest struct {
	Inputs map[string]any `json:"inputs"`
}

type predictResponse struct {
	Outputs json.RawMessage `json:"outputs"`
	Error   string          `json:"error"`
}

func NewTFServing(cfg TFServingConfig) (*TFServing, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("tfserving engine requires a base url")
	}
	if cfg.Model == "" {
		return nil, errors.New("tfserving engine requires a model name")
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
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTFServingTimeout
	}

	return &TFServing{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/v1/models/" + cfg.Model + ":predict",
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (e *TFServing) Name() string { return KindTFServing }

func (e *TFServing) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *TFServing) Stylize(ctx context.Context, content, style domain.Batch) (domain.Batch, error) {
	payload := predictRequest{Inputs: map[string]any{
		e.cfg.ContentInput: nestBatch(content),
		e.cfg.StyleInput:   nestBatch(style),
	}}

	payloadBuf := new(bytes.Buffer)
	if err := json.NewEncoder(payloadBuf).Encode(payload); err != nil {
		return domain.Batch{}, fmt.Errorf("encode predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, payloadBuf)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.client.Do(req)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("predict request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("read predict response: %w", err)
	}

	var result predictResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.Batch{}, fmt.Errorf("decode predict response (status %d): %w", res.StatusCode, err)
	}
	if res.StatusCode != http.StatusOK {
		msg := result.Error
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return domain.Batch{}, fmt.Errorf("predict returned status %d: %s", res.StatusCode, msg)
	}

	tensor, err := e.pickOutput(result.Outputs)
	if err != nil {
		return domain.Batch{}, err
	}
	return flattenBatch(tensor)
}

// pickOutput accepts both response forms: a bare tensor when the signature
// has one output, or an object keyed by output name.
func (e *TFServing) pickOutput(raw json.RawMessage) ([][][][]float32, error) {
	if len(raw) == 0 {
		return nil, errors.New("predict response has no outputs")
	}

	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return nil, fmt.Errorf("decode named outputs: %w", err)
		}
		value, ok := named[e.cfg.Output]
		if !ok {
			return nil, fmt.Errorf("predict response has no output %q", e.cfg.Output)
		}
		raw = value
	}

	var tensor [][][][]float32
	if err := json.Unmarshal(raw, &tensor); err != nil {
		return nil, fmt.Errorf("%w: output is not a rank 4 float tensor: %v", domain.ErrShape, err)
	}
	return tensor, nil
}

func nestBatch(b domain.Batch) [][][][]float32 {
	out := make([][][][]float32, b.Size)
	i := 0
	for n := range out {
		rows := make([][][]float32, b.Height)
		for y := range rows {
			cols := make([][]float32, b.Width)
			for x := range cols {
				cols[x] = b.Data[i : i+domain.Channels : i+domain.Channels]
				i += domain.Channels
			}
			rows[y] = cols
		}
		out[n] = rows
	}
	return out
}

func flattenBatch(t [][][][]float32) (domain.Batch, error) {
	if len(t) == 0 || len(t[0]) == 0 || len(t[0][0]) == 0 {
		return domain.Batch{}, fmt.Errorf("%w: empty output tensor", domain.ErrShape)
	}

	size, height, width := len(t), len(t[0]), len(t[0][0])
	channels := len(t[0][0][0])
	data := make([]float32, 0, size*height*width*domain.Channels)
	for _, img := range t {
		if len(img) != height {
			return domain.Batch{}, fmt.Errorf("%w: ragged output tensor", domain.ErrShape)
		}
		for _, row := range img {
			if len(row) != width {
				return domain.Batch{}, fmt.Errorf("%w: ragged output tensor", domain.ErrShape)
			}
			for _, px := range row {
				if len(px) != channels {
					return domain.Batch{}, fmt.Errorf("%w: ragged output tensor", domain.ErrShape)
				}
				data = append(data, px...)
			}
		}
	}

	return batchFromShape([]int64{int64(size), int64(height), int64(width), int64(channels)}, data)
}

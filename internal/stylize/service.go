package stylize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/artify/internal/domain"
	"github.com/dunamismax/artify/internal/engine"
	"github.com/dunamismax/artify/internal/id"
	"github.com/dunamismax/artify/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type imageNormalizer interface {
	Normalize(ctx context.Context, raw []byte) (domain.Batch, error)
}

type resultEncoder interface {
	Encode(b domain.Batch) (string, error)
}

type Options struct {
	// MaxConcurrent bounds simultaneous engine calls.
	MaxConcurrent int
	// AcquireTimeout bounds the wait for a free inference slot. Zero waits
	// as long as the request context allows.
	AcquireTimeout time.Duration
	// InferenceTimeout bounds a single engine call. Zero disables it.
	InferenceTimeout time.Duration

	UsageStore store.UsageStore
	Registerer prometheus.Registerer
}

type Result struct {
	Image  string
	Width  int
	Height int
	Bytes  int
}

// Service runs one stylize request end to end. Apart from the injected
// engine it keeps no state between requests.
type Service struct {
	logger     zerolog.Logger
	normalizer imageNormalizer
	encoder    resultEncoder
	engine     engine.Engine

	sem              chan struct{}
	acquireTimeout   time.Duration
	inferenceTimeout time.Duration

	usageStore store.UsageStore
	metrics    *metrics
	tracer     trace.Tracer
}

func NewService(logger zerolog.Logger, normalizer imageNormalizer, encoder resultEncoder, eng engine.Engine, opts Options) (*Service, error) {
	if normalizer == nil {
		return nil, errors.New("normalizer is required")
	}
	if encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if eng == nil {
		return nil, errors.New("engine is required")
	}

	return &Service{
		logger:           logger.With().Str("component", "stylize").Str("engine", eng.Name()).Logger(),
		normalizer:       normalizer,
		encoder:          encoder,
		engine:           eng,
		sem:              make(chan struct{}, max(1, opts.MaxConcurrent)),
		acquireTimeout:   opts.AcquireTimeout,
		inferenceTimeout: opts.InferenceTimeout,
		usageStore:       opts.UsageStore,
		metrics:          newMetrics(opts.Registerer, eng.Name()),
		tracer:           otel.Tracer("artify/stylize"),
	}, nil
}

func (s *Service) EngineName() string {
	return s.engine.Name()
}

func (s *Service) Stylize(ctx context.Context, req domain.StylizeRequest) (Result, error) {
	startedAt := time.Now()
	if req.RequestID == "" {
		req.RequestID = id.New()
	}
	if req.ClientID == "" {
		req.ClientID = "anonymous"
	}

	ctx, span := s.tracer.Start(ctx, "stylize.request")
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("engine", s.engine.Name()),
		attribute.Int("content.bytes", len(req.Content)),
		attribute.Int("style.bytes", len(req.Style)),
	)
	defer span.End()

	usage := domain.UsageLog{
		ID:        id.New(),
		RequestID: req.RequestID,
		ClientID:  req.ClientID,
		Engine:    s.engine.Name(),
		Outcome:   domain.OutcomeFailed,
	}

	result, err := s.run(ctx, req, &usage)

	elapsed := time.Since(startedAt)
	usage.ComputeTimeMS = max(1, elapsed.Milliseconds())
	usage.CreatedAt = time.Now().UTC()

	errorKind := ""
	if err != nil {
		if kind := domain.KindOf(err); kind != nil {
			errorKind = kind.Error()
		} else {
			errorKind = "canceled"
		}
		usage.ErrorKind = errorKind

		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind)
		s.logger.Warn().
			Str("request_id", req.RequestID).
			Str("error_kind", errorKind).
			Dur("duration", elapsed).
			Err(err).
			Msg("stylize failed")
	} else {
		usage.Outcome = domain.OutcomeSucceeded
		usage.OutputBytes = result.Bytes

		span.SetStatus(codes.Ok, "stylized")
		s.logger.Info().
			Str("request_id", req.RequestID).
			Int("width", result.Width).
			Int("height", result.Height).
			Int("bytes", result.Bytes).
			Dur("duration", elapsed).
			Msg("stylized")
	}

	s.metrics.requestsTotal.WithLabelValues(usage.Outcome, errorKind).Inc()
	s.metrics.requestDuration.WithLabelValues(usage.Outcome).Observe(elapsed.Seconds())
	s.recordUsage(ctx, usage)

	return result, err
}

func (s *Service) run(ctx context.Context, req domain.StylizeRequest, usage *domain.UsageLog) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	content, err := s.normalize(ctx, stageNormalizeContent, domain.FieldContentImage, req.Content)
	if err != nil {
		return Result{}, err
	}
	usage.ContentWidth, usage.ContentHeight = content.Width, content.Height

	style, err := s.normalize(ctx, stageNormalizeStyle, domain.FieldStyleImage, req.Style)
	if err != nil {
		return Result{}, err
	}
	usage.StyleWidth, usage.StyleHeight = style.Width, style.Height

	output, err := s.infer(ctx, content, style)
	if err != nil {
		return Result{}, err
	}

	_, span := s.tracer.Start(ctx, "stylize.encode")
	defer span.End()
	started := time.Now()

	encoded, err := s.encoder.Encode(output)
	s.metrics.stageDuration.WithLabelValues(stageEncode).Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("encode result: %w", err)
	}

	return Result{
		Image:  encoded,
		Width:  output.Width,
		Height: output.Height,
		Bytes:  len(encoded),
	}, nil
}

func (s *Service) normalize(ctx context.Context, stage, field string, raw []byte) (domain.Batch, error) {
	ctx, span := s.tracer.Start(ctx, "stylize."+stage)
	defer span.End()
	started := time.Now()

	batch, err := s.normalizer.Normalize(ctx, raw)
	s.metrics.stageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		return domain.Batch{}, fmt.Errorf("normalize %s: %w", field, err)
	}

	span.SetAttributes(attribute.Int("image.width", batch.Width), attribute.Int("image.height", batch.Height))
	return batch, nil
}

type inference struct {
	output domain.Batch
	err    error
}

// infer holds an inference slot for as long as the engine call runs, even
// when the caller stops waiting for it on timeout.
func (s *Service) infer(ctx context.Context, content, style domain.Batch) (domain.Batch, error) {
	if err := s.acquire(ctx); err != nil {
		return domain.Batch{}, err
	}

	var (
		inferCtx context.Context
		cancel   context.CancelFunc
	)
	if s.inferenceTimeout > 0 {
		inferCtx, cancel = context.WithTimeout(ctx, s.inferenceTimeout)
	} else {
		inferCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	inferCtx, span := s.tracer.Start(inferCtx, "stylize.inference")
	defer span.End()
	started := time.Now()

	done := make(chan inference, 1)
	go func() {
		defer s.release()
		defer func() {
			if r := recover(); r != nil {
				s.metrics.enginePanics.Inc()
				done <- inference{err: fmt.Errorf("%s engine panic: %v", s.engine.Name(), r)}
			}
		}()
		output, err := s.engine.Stylize(inferCtx, content, style)
		done <- inference{output: output, err: err}
	}()

	var res inference
	select {
	case res = <-done:
	case <-inferCtx.Done():
		res.err = inferCtx.Err()
	}
	s.metrics.stageDuration.WithLabelValues(stageInference).Observe(time.Since(started).Seconds())

	if res.err == nil {
		if err := res.output.Validate(); err != nil {
			res.err = err
		}
	}
	if res.err == nil {
		s.metrics.pixelsProcessedTotal.Add(float64(content.Width*content.Height + style.Width*style.Height))
		return res.output, nil
	}

	span.RecordError(res.err)
	switch {
	case errors.Is(inferCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return domain.Batch{}, domain.NewError("stylize", domain.ErrInferenceTimeout,
			fmt.Errorf("no result from %s engine within %s", s.engine.Name(), s.inferenceTimeout))
	case ctx.Err() != nil:
		return domain.Batch{}, ctx.Err()
	case errors.Is(res.err, domain.ErrShape):
		return domain.Batch{}, fmt.Errorf("stylize: %w", res.err)
	default:
		return domain.Batch{}, domain.NewError("stylize", domain.ErrInference, res.err)
	}
}

func (s *Service) acquire(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "stylize.queue_wait")
	defer span.End()
	started := time.Now()
	defer func() {
		s.metrics.stageDuration.WithLabelValues(stageQueueWait).Observe(time.Since(started).Seconds())
	}()

	select {
	case s.sem <- struct{}{}:
		s.metrics.inflight.Inc()
		return nil
	default:
	}

	waitCtx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}

	select {
	case s.sem <- struct{}{}:
		s.metrics.inflight.Inc()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span.SetStatus(codes.Error, "overloaded")
		return domain.NewError("acquire inference slot", domain.ErrOverloaded,
			fmt.Errorf("all %d slots busy for %s", cap(s.sem), s.acquireTimeout))
	}
}

func (s *Service) release() {
	<-s.sem
	s.metrics.inflight.Dec()
}

func (s *Service) recordUsage(ctx context.Context, usage domain.UsageLog) {
	if usage.Outcome == domain.OutcomeSucceeded {
		s.metrics.outputBytesTotal.Add(float64(usage.OutputBytes))
		s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
	}

	if s.usageStore == nil {
		return
	}
	if err := s.usageStore.CreateUsageLog(context.WithoutCancel(ctx), usage); err != nil {
		s.logger.Error().Str("request_id", usage.RequestID).Err(err).Msg("usage log write failed")
	}
}

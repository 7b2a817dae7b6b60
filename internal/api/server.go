package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"

	"github.com/dunamismax/artify/internal/domain"
	"github.com/dunamismax/artify/internal/stylize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxUploadBytes = 20 << 20
	multipartMemory       = 8 << 20
)

type stylizer interface {
	Stylize(ctx context.Context, req domain.StylizeRequest) (stylize.Result, error)
	EngineName() string
}

type Options struct {
	MaxUploadBytes int64
	// RefinedStatus swaps the blanket 500 for 422/503/504 where the failure
	// kind allows it.
	RefinedStatus  bool
	CORSOrigins    []string
	ClientIDHeader string
	RateLimiter    RateLimiter
	// Registry backs GET /metrics. Nil gets a private registry.
	Registry *prometheus.Registry
}

type Server struct {
	logger         zerolog.Logger
	stylizer       stylizer
	maxUploadBytes int64
	refinedStatus  bool
	corsOrigins    []string
	clientIDHeader string
	rateLimiter    RateLimiter
	metrics        *metrics
	tracer         trace.Tracer
	mux            *http.ServeMux
}

func NewServer(logger zerolog.Logger, svc stylizer, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.ClientIDHeader == "" {
		opts.ClientIDHeader = "X-Client-ID"
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		logger:         logger.With().Str("component", "api").Logger(),
		stylizer:       svc,
		maxUploadBytes: opts.MaxUploadBytes,
		refinedStatus:  opts.RefinedStatus,
		corsOrigins:    opts.CORSOrigins,
		clientIDHeader: opts.ClientIDHeader,
		rateLimiter:    opts.RateLimiter,
		metrics:        newMetrics(opts.Registry),
		tracer:         otel.Tracer("artify/api"),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withTracing(h)
	h = s.withCORS(h)
	h = s.withAccessLog(h)
	h = withRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /stylize", s.handleStylize)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"engine": s.stylizer.EngineName(),
	})
}

func (s *Server) handleStylize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	req, err := s.readStylizeRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.stylizer.Stylize(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"stylized_image": result.Image})
}

func (s *Server) readStylizeRequest(r *http.Request) (domain.StylizeRequest, error) {
	req := domain.StylizeRequest{
		RequestID: requestIDFromContext(r.Context()),
		ClientID:  s.clientID(r),
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		switch {
		case isBodyTooLarge(err):
			return req, domain.NewError("read upload", domain.ErrPayloadTooLarge,
				fmt.Errorf("limit is %d bytes", s.maxUploadBytes))
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			// No form at all: both fields are absent.
			return req, req.Validate()
		default:
			return req, domain.NewError("read upload", domain.ErrMalformedBody, err)
		}
	}
	defer r.MultipartForm.RemoveAll()

	var err error
	if req.Content, req.HasContent, err = readFormFile(r.MultipartForm, domain.FieldContentImage); err != nil {
		return req, err
	}
	if req.Style, req.HasStyle, err = readFormFile(r.MultipartForm, domain.FieldStyleImage); err != nil {
		return req, err
	}
	return req, nil
}

func readFormFile(form *multipart.Form, field string) ([]byte, bool, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, false, nil
	}

	f, err := headers[0].Open()
	if err != nil {
		return nil, true, fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, true, fmt.Errorf("read %s: %w", field, err)
	}
	return data, true, nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

// clientID identifies the caller for rate limiting and usage rows: the
// configured header when present, otherwise the remote IP.
func (s *Server) clientID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(s.clientIDHeader)); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusFor maps an error kind to an HTTP status and a stable code. By
// default every processing failure is a 500, matching the service's
// historical contract.
func (s *Server) statusFor(err error) (int, string) {
	refined := func(status int) int {
		if s.refinedStatus {
			return status
		}
		return http.StatusInternalServerError
	}

	switch domain.KindOf(err) {
	case domain.ErrMissingField:
		return http.StatusBadRequest, "missing_field"
	case domain.ErrMalformedBody:
		return http.StatusBadRequest, "malformed_body"
	case domain.ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case domain.ErrDecode:
		return refined(http.StatusUnprocessableEntity), "decode_error"
	case domain.ErrInvalidImage:
		return refined(http.StatusUnprocessableEntity), "invalid_image"
	case domain.ErrShape:
		return http.StatusInternalServerError, "shape_error"
	case domain.ErrInferenceTimeout:
		return refined(http.StatusGatewayTimeout), "inference_timeout"
	case domain.ErrOverloaded:
		return refined(http.StatusServiceUnavailable), "overloaded"
	case domain.ErrInference:
		return http.StatusInternalServerError, "inference_error"
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return refined(http.StatusServiceUnavailable), "canceled"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := s.statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().
			Str("request_id", requestIDFromContext(r.Context())).
			Str("code", code).
			Err(err).
			Msg("stylize request failed")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

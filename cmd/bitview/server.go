package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-bitview/internal/arrowio"
	"github.com/23skdu/longbow-bitview/internal/bitfield"
	"github.com/23skdu/longbow-bitview/internal/numeric"
)

var (
	valuesFormatted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitview_values_formatted_total",
		Help: "The total number of values rendered",
	}, []string{"width"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bitview_request_duration_seconds",
		Help:    "Time spent processing format requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	requestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitview_request_errors_total",
		Help: "Requests rejected or failed, by handler",
	}, []string{"handler"})
)

// FormatRequest asks for one pattern to be rendered.
type FormatRequest struct {
	Width    int    `cbor:"width"`
	Bits     uint32 `cbor:"bits"`
	Trailing string `cbor:"trailing,omitempty"`
}

// FormatResponse is the rendering of one FormatRequest.
type FormatResponse struct {
	Width  int      `cbor:"width"`
	Bits   uint32   `cbor:"bits"`
	Header string   `cbor:"header"`
	Line   string   `cbor:"line"`
	Fields []uint32 `cbor:"fields"`
	Class  string   `cbor:"class"`
	Value  float64  `cbor:"value"`
}

type Server struct {
	alloc     memory.Allocator
	sem       *semaphore.Weighted
	maxValues int64
	maxBody   int64
}

func NewServer(maxConcurrent int, maxBody int64) *Server {
	return &Server{
		alloc:     memory.NewGoAllocator(),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxValues: int64(maxConcurrent),
		maxBody:   maxBody,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/format", s.handleFormat)
	mux.HandleFunc("/format/arrow", s.handleFormatArrow)
	mux.HandleFunc("/render", s.handleRender)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, srv *Server) {
	log.Info().Str("addr", addr).Msg("Starting Bitview Server")
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("bitview-server")

func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
}

// admit reserves n value slots and returns the matching release. A request
// larger than the whole budget can never be admitted, so it is rejected with
// 413 instead of waiting.
func (s *Server) admit(ctx context.Context, n int) (func(), int, error) {
	if n == 0 {
		return func() {}, http.StatusOK, nil
	}
	weight := int64(n)
	if weight > s.maxValues {
		return nil, http.StatusRequestEntityTooLarge,
			fmt.Errorf("%d values exceeds the per-request limit of %d", n, s.maxValues)
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		return nil, http.StatusServiceUnavailable, err
	}
	return func() { s.sem.Release(weight) }, http.StatusOK, nil
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleFormat")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("format").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.limitBody(w, r)

	var reqs []FormatRequest
	if err := cbor.NewDecoder(r.Body).Decode(&reqs); err != nil {
		span.RecordError(err)
		requestErrors.WithLabelValues("format").Inc()
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	span.SetAttributes(attribute.Int("value_count", len(reqs)))

	// Admission Control
	release, status, err := s.admit(ctx, len(reqs))
	if err != nil {
		span.RecordError(err)
		requestErrors.WithLabelValues("format").Inc()
		log.Warn().Err(err).Int("values", len(reqs)).Msg("Format request not admitted")
		http.Error(w, err.Error(), status)
		return
	}
	defer release()

	resps := make([]FormatResponse, 0, len(reqs))
	for i, req := range reqs {
		width := bitfield.Width(req.Width)
		if !width.Valid() {
			requestErrors.WithLabelValues("format").Inc()
			http.Error(w, fmt.Sprintf("item %d: unsupported width %d", i, req.Width), http.StatusBadRequest)
			return
		}
		if req.Bits&^width.Mask() != 0 {
			requestErrors.WithLabelValues("format").Inc()
			http.Error(w, fmt.Sprintf("item %d: %#x does not fit in %d bits", i, req.Bits, req.Width), http.StatusBadRequest)
			return
		}
		trailing, err := parseTrailing(req.Trailing)
		if err != nil {
			requestErrors.WithLabelValues("format").Inc()
			http.Error(w, fmt.Sprintf("item %d: %v", i, err), http.StatusBadRequest)
			return
		}
		resps = append(resps, FormatResponse{
			Width:  req.Width,
			Bits:   req.Bits,
			Header: width.Header(),
			Line:   width.Format(req.Bits, trailing),
			Fields: width.Layout().Decompose(req.Bits),
			Class:  numeric.Classify(width, req.Bits).String(),
			Value:  numeric.Value(width, req.Bits),
		})
	}

	data, err := cbor.Marshal(resps)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	for _, resp := range resps {
		valuesFormatted.WithLabelValues(bitfield.Width(resp.Width).String()).Inc()
	}

	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleFormatArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleFormatArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("format_arrow").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.limitBody(w, r)

	q := r.URL.Query()
	trailing, err := parseTrailing(q.Get("trailing"))
	if err != nil {
		requestErrors.WithLabelValues("format_arrow").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	width, patterns, err := arrowio.ReadStream(r.Body, s.alloc, q.Get("column"))
	if err != nil {
		span.RecordError(err)
		requestErrors.WithLabelValues("format_arrow").Inc()
		http.Error(w, fmt.Sprintf("Bad Request (Arrow stream): %v", err), http.StatusBadRequest)
		return
	}
	if width == 0 {
		width = bitfield.Width32
	}

	span.SetAttributes(
		attribute.Int("value_count", len(patterns)),
		attribute.String("width", width.String()),
	)

	release, status, err := s.admit(ctx, len(patterns))
	if err != nil {
		span.RecordError(err)
		requestErrors.WithLabelValues("format_arrow").Inc()
		log.Warn().Err(err).Int("values", len(patterns)).Msg("Arrow batch not admitted")
		http.Error(w, err.Error(), status)
		return
	}
	defer release()

	rec := arrowio.BuildBitsRecord(s.alloc, width, patterns, trailing)
	defer rec.Release()
	valuesFormatted.WithLabelValues(width.String()).Add(float64(len(patterns)))

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	w.WriteHeader(http.StatusOK)
	if err := arrowio.WriteStream(w, rec); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("Error writing Arrow stream")
	}
}

// handleRender serves GET /render?width=16&value=1.5 as plain text.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleRender")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("render").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	width := bitfield.Width16
	if ws := q.Get("width"); ws != "" {
		var err error
		if width, err = bitfield.ParseWidth(ws); err != nil {
			requestErrors.WithLabelValues("render").Inc()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	trailing := '\n'
	if q.Has("trailing") {
		var err error
		if trailing, err = parseTrailing(q.Get("trailing")); err != nil {
			requestErrors.WithLabelValues("render").Inc()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	saturate, _ := strconv.ParseBool(q.Get("saturate"))
	bits, err := numeric.ParseToken(q.Get("value"), width, saturate)
	if err != nil {
		span.RecordError(err)
		requestErrors.WithLabelValues("render").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	valuesFormatted.WithLabelValues(width.String()).Inc()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := bitfield.NewPrinter(w).Print(width, bits, trailing); err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Msg("Error writing render response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

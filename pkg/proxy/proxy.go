// Package proxy serves an upstream site with the phrase rewritten in every
// HTML document that passes through.
package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/gulfwatch/pkg/domain"
	"github.com/polisai/gulfwatch/pkg/session"
)

// DefaultMaxBodyBytes bounds the documents the proxy buffers for rewriting.
const DefaultMaxBodyBytes = 4 << 20

// RewrittenHeader carries the number of rewritten text units.
const RewrittenHeader = "X-Gulfwatch-Rewritten"

// Config configures a Handler.
type Config struct {
	Upstream     *url.URL
	MaxBodyBytes int64
	Transport    http.RoundTripper
	Session      session.Options
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Handler is a reverse proxy that rewrites HTML responses.
type Handler struct {
	proxy        *httputil.ReverseProxy
	maxBodyBytes int64
	sessOpts     session.Options
	metrics      *Metrics
	logger       *slog.Logger
}

// NewHandler builds a Handler for cfg.Upstream.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Upstream == nil || cfg.Upstream.Scheme == "" || cfg.Upstream.Host == "" {
		return nil, fmt.Errorf("%w: proxy upstream must be an absolute URL", domain.ErrConfigInvalid)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	sessOpts := cfg.Session
	if sessOpts.Logger == nil {
		sessOpts.Logger = logger
	}

	h := &Handler{
		maxBodyBytes: maxBody,
		sessOpts:     sessOpts,
		metrics:      metrics,
		logger:       logger.With("upstream", cfg.Upstream.String()),
	}

	upstream := cfg.Upstream
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			// Bodies are rewritten as text, so ask for identity encoding.
			pr.Out.Header.Del("Accept-Encoding")
		},
		Transport:      cfg.Transport,
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.handleError,
	}
	return h, nil
}

// Metrics returns the proxy metrics.
func (h *Handler) Metrics() *Metrics { return h.metrics }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeHTTP(w, r)
}

func (h *Handler) modifyResponse(resp *http.Response) error {
	if !rewritable(resp) {
		h.metrics.RecordDocument(OutcomeSkipped, 0, 0)
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("proxy: read upstream body: %w", err)
	}
	if int64(len(data)) > h.maxBodyBytes {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(data), resp.Body), resp.Body}
		h.metrics.RecordDocument(OutcomeTooLarge, 0, 0)
		h.logger.Debug("document passed through unmodified",
			"path", resp.Request.URL.Path,
			"error", domain.ErrDocumentTooLarge)
		return nil
	}
	_ = resp.Body.Close()

	start := time.Now()
	var out bytes.Buffer
	stats, err := session.RewriteHTML(resp.Request.Context(), bytes.NewReader(data), &out, h.sessOpts)
	if err != nil {
		h.logger.Warn("rewrite failed, serving original",
			"path", resp.Request.URL.Path,
			"code", domain.CodeRewriteFailed,
			"error", fmt.Errorf("%w: %w", domain.ErrDocumentInvalid, err))
		h.metrics.RecordDocument(OutcomeFailed, 0, time.Since(start))
		setBody(resp, data)
		return nil
	}

	if stats.Rewritten == 0 {
		h.metrics.RecordDocument(OutcomeUnchanged, 0, time.Since(start))
		setBody(resp, data)
		return nil
	}

	h.metrics.RecordDocument(OutcomeRewritten, stats.Rewritten, time.Since(start))
	setBody(resp, out.Bytes())
	resp.Header.Del("ETag")
	resp.Header.Del("Content-MD5")
	resp.Header.Set(RewrittenHeader, strconv.Itoa(stats.Rewritten))
	h.logger.Debug("document rewritten",
		"path", resp.Request.URL.Path,
		"scanned", stats.Scanned,
		"rewritten", stats.Rewritten)
	return nil
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	h.metrics.RecordUpstreamError()
	derr := &domain.DomainError{
		Err:     fmt.Errorf("%w: %w", domain.ErrUpstreamUnreachable, err),
		Code:    domain.CodeUpstreamUnreachable,
		Message: domain.ErrUpstreamUnreachable.Error(),
	}
	h.logger.Error("upstream request failed", "path", r.URL.Path, "code", derr.Code, "error", derr.Err)

	body := domain.ErrorResponse{
		Code:    derr.Code,
		Message: derr.Message,
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		body.TraceID = sc.TraceID().String()
	}
	status := http.StatusBadGateway
	if ctxErr := r.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, body)
}

// rewritable reports whether resp carries an identity-encoded UTF-8 HTML body.
func rewritable(resp *http.Response) bool {
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return false
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		return false
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		return false
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/html" {
		return false
	}
	if cs, ok := params["charset"]; ok && !strings.EqualFold(cs, "utf-8") && !strings.EqualFold(cs, "utf8") {
		return false
	}
	return true
}

func setBody(resp *http.Response, data []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	resp.Header.Set("Content-Length", strconv.Itoa(len(data)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

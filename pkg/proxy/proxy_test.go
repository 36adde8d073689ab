package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/gulfwatch/pkg/domain"
)

func newProxy(t *testing.T, upstream http.Handler, cfg Config) (*Handler, *httptest.Server) {
	t.Helper()
	origin := httptest.NewServer(upstream)
	t.Cleanup(origin.Close)

	u, err := url.Parse(origin.URL)
	require.NoError(t, err)
	cfg.Upstream = u

	h, err := NewHandler(cfg)
	require.NoError(t, err)

	front := httptest.NewServer(h)
	t.Cleanup(front.Close)
	return h, front
}

func get(t *testing.T, rawURL string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func serve(contentType, encoding, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		if encoding != "" {
			w.Header().Set("Content-Encoding", encoding)
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, body)
	})
}

func TestNewHandler_RequiresUpstream(t *testing.T) {
	_, err := NewHandler(Config{})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = NewHandler(Config{Upstream: &url.URL{Path: "/relative"}})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestHandler_RewritesHTML(t *testing.T) {
	var acceptEncoding string
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acceptEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, `<html><body><p>Welcome to the Gulf of America.</p><code>Gulf of America</code></body></html>`)
	})
	h, front := newProxy(t, upstream, Config{})

	resp, body := get(t, front.URL+"/index.html")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, acceptEncoding)
	assert.Equal(t, `<html><head></head><body><p>Welcome to the Gulf of Mexico.</p><code>Gulf of America</code></body></html>`, body)
	assert.Equal(t, "1", resp.Header.Get(RewrittenHeader))
	assert.Equal(t, strconv.Itoa(len(body)), resp.Header.Get("Content-Length"))
	assert.Empty(t, resp.Header.Get("ETag"))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().documentsTotal.WithLabelValues(OutcomeRewritten)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().unitsRewritten))
}

func TestHandler_UnchangedHTMLKeepsOriginalBytes(t *testing.T) {
	src := "<!DOCTYPE html>\n<p>nothing to see</p>"
	h, front := newProxy(t, serve("text/html", "", src), Config{})

	resp, body := get(t, front.URL)

	assert.Equal(t, src, body)
	assert.Equal(t, `"v1"`, resp.Header.Get("ETag"))
	assert.Empty(t, resp.Header.Get(RewrittenHeader))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().documentsTotal.WithLabelValues(OutcomeUnchanged)))
}

func TestHandler_PassThrough(t *testing.T) {
	const text = "Gulf of America"

	tests := []struct {
		name        string
		contentType string
		encoding    string
	}{
		{name: "json", contentType: "application/json"},
		{name: "plain text", contentType: "text/plain"},
		{name: "encoded html", contentType: "text/html", encoding: "br"},
		{name: "latin1 html", contentType: "text/html; charset=iso-8859-1"},
		{name: "no content type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, front := newProxy(t, serve(tt.contentType, tt.encoding, text), Config{})

			_, body := get(t, front.URL)

			assert.Equal(t, text, body)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().documentsTotal.WithLabelValues(OutcomeSkipped)))
		})
	}
}

func TestHandler_OversizedBodyPassesThrough(t *testing.T) {
	src := "<p>Gulf of America</p>" + strings.Repeat("x", 64)
	h, front := newProxy(t, serve("text/html", "", src), Config{MaxBodyBytes: 16})

	resp, body := get(t, front.URL)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, src, body)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().documentsTotal.WithLabelValues(OutcomeTooLarge)))
}

func TestHandler_UpstreamUnreachable(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	u, err := url.Parse(origin.URL)
	require.NoError(t, err)
	origin.Close()

	h, err := NewHandler(Config{Upstream: u})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/page", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.CodeUpstreamUnreachable, body.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics().upstreamErrors))
}

func TestRewritable(t *testing.T) {
	tests := []struct {
		name   string
		method string
		status int
		header http.Header
		want   bool
	}{
		{name: "html", header: http.Header{"Content-Type": {"text/html"}}, want: true},
		{name: "html utf8", header: http.Header{"Content-Type": {"text/html; charset=UTF-8"}}, want: true},
		{name: "identity", header: http.Header{"Content-Type": {"text/html"}, "Content-Encoding": {"identity"}}, want: true},
		{name: "gzip", header: http.Header{"Content-Type": {"text/html"}, "Content-Encoding": {"gzip"}}},
		{name: "xhtml", header: http.Header{"Content-Type": {"application/xhtml+xml"}}},
		{name: "head", method: http.MethodHead, header: http.Header{"Content-Type": {"text/html"}}},
		{name: "not modified", status: http.StatusNotModified, header: http.Header{"Content-Type": {"text/html"}}},
		{name: "malformed", header: http.Header{"Content-Type": {"; charset=utf-8"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			status := tt.status
			if status == 0 {
				status = http.StatusOK
			}
			resp := &http.Response{
				StatusCode: status,
				Header:     tt.header,
				Request:    httptest.NewRequest(method, "/", nil),
			}
			assert.Equal(t, tt.want, rewritable(resp))
		})
	}
}

func TestAdminHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordDocument(OutcomeRewritten, 2, 0)
	admin := NewAdminHandler(m)

	rec := httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gulfwatch_documents_total{outcome="rewritten"} 1`)
	assert.Contains(t, rec.Body.String(), "gulfwatch_units_rewritten_total 2")
}

func TestMetricsMiddleware(t *testing.T) {
	m := NewMetrics()
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodPost, "418")))
}

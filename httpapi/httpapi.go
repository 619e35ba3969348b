// Package httpapi is the thin HTTP facade over docservice: module
// listing, resource retrieval, and the /subscribe SSE stream. Routing
// and templating are kept deliberately minimal — this layer exists to
// make the service runnable, not as a polished surface.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zigdoc/zigdoc-server/docservice"
	"github.com/zigdoc/zigdoc-server/source"
)

// SubscribeDeadline bounds how long a /subscribe connection is held
// open waiting for a build to finish.
const SubscribeDeadline = 20 * time.Second

// Recorder is called once per request, after the handler has written its
// response, with the matched route pattern, the response status code and
// the time the request started.
type Recorder func(route string, status int, start time.Time)

// Handler wires docservice onto net/http.
type Handler struct {
	svc    *docservice.Service
	log    *slog.Logger
	record Recorder
}

// New returns a Handler backed by svc. record may be nil, in which case
// requests are served without any metrics being recorded.
func New(svc *docservice.Service, log *slog.Logger, record Recorder) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log, record: record}
}

// Routes returns the configured mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /subscribe/{path...}", h.handleSubscribe)
	mux.HandleFunc("GET /{path...}", h.handleDocs)
	return h.withMetrics(mux)
}

// withMetrics records each request's matched route, status code and
// latency once the wrapped handler has served it. r.Pattern is populated
// by ServeMux before the handler runs, so it is read back after next has
// returned.
func (h *Handler) withMetrics(next http.Handler) http.Handler {
	if h.record == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		h.record(route, rec.status, start)
	})
}

// statusRecorder captures the status code written by the wrapped handler
// while passing every call through, including Flush so the /subscribe SSE
// stream keeps working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h1>zigdoc</h1><p>GET /&lt;host&gt;/&lt;org&gt;/&lt;repo&gt;[@&lt;version&gt;] to browse documentation.</p></body></html>")
}

func (h *Handler) handleDocs(w http.ResponseWriter, r *http.Request) {
	loc, err := source.Parse(r.PathValue("path"))
	if err != nil {
		writeSourceError(w, err)
		return
	}

	if loc.Module == "" {
		h.handleModuleList(w, r, loc)
		return
	}

	h.handleResource(w, r, loc)
}

func (h *Handler) handleModuleList(w http.ResponseWriter, r *http.Request, loc source.Source) {
	names, err := h.svc.GetModulesList(r.Context(), loc)
	if err != nil {
		if errors.Is(err, docservice.ErrQueued) {
			writeQueuedPage(w, loc)
			return
		}
		h.log.Error("failed to list modules", "loc", loc.String(), "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h1>%s</h1><ul>", loc.Repository)
	for _, name := range names {
		fmt.Fprintf(w, "<li><a href=\"/%s/%s\">%s</a></li>", loc.String(), name, name)
	}
	fmt.Fprint(w, "</ul></body></html>")
}

func (h *Handler) handleResource(w http.ResponseWriter, r *http.Request, loc source.Source) {
	resource, err := h.svc.GetDocsResource(r.Context(), loc)
	if err != nil {
		switch {
		case errors.Is(err, docservice.ErrQueued):
			writeQueuedPage(w, loc)
		case errors.Is(err, docservice.ErrModuleNotFound):
			http.Error(w, "module not found", http.StatusNotFound)
		case errors.Is(err, docservice.ErrUnrecognizedFileExtension):
			http.Error(w, "unrecognized file extension", http.StatusNotFound)
		default:
			h.log.Error("failed to open resource", "loc", loc.String(), "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	defer resource.Close()

	w.Header().Set("Content-Type", resource.ContentType)
	if _, err := io.Copy(w, resource.File); err != nil {
		h.log.Warn("failed writing response body", "loc", loc.String(), "err", err)
	}
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	loc, err := source.Parse(r.PathValue("path"))
	if err != nil {
		writeSourceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithTimeout(r.Context(), SubscribeDeadline)
	defer cancel()

	select {
	case <-h.svc.Subscribe(ctx, loc):
		if ctx.Err() != nil {
			return
		}
		fmt.Fprint(w, "event: ready\ndata:{}\n\n")
		flusher.Flush()
	case <-ctx.Done():
	}
}

func writeSourceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, source.ErrUnsupportedHost):
		http.Error(w, source.ErrUnsupportedHost.Error(), http.StatusInternalServerError)
	case errors.Is(err, source.ErrInvalidPath):
		http.Error(w, source.ErrInvalidPath.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeQueuedPage(w http.ResponseWriter, loc source.Source) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body><h1>%s</h1><p>Documentation build queued, check back shortly.</p></body></html>", strings.TrimSpace(loc.String()))
}

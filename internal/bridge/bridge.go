// Package bridge exposes the command dispatcher and the event hub to the
// desktop frontend over loopback HTTP.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/qbank/internal/command"
	"github.com/pavelanni/qbank/internal/events"
	"github.com/pavelanni/qbank/internal/i18n"
	"github.com/pavelanni/qbank/internal/store"
)

const (
	maxArgsBytes   = 32 << 20
	heartbeatEvery = 15 * time.Second
)

// Invoker runs a named command.
type Invoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (any, error)
}

// Handler serves the bridge endpoints.
type Handler struct {
	invoker Invoker
	hub     *events.Hub
}

// New creates a bridge handler.
func New(inv Invoker, hub *events.Hub) *Handler {
	return &Handler{invoker: inv, hub: hub}
}

// Routes registers the bridge routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/invoke/{command}", h.handleInvoke)
	r.Get("/events", h.handleEvents)
	r.Get("/healthz", h.handleHealth)
}

// Options configures NewRouter.
type Options struct {
	// AllowedOrigins are the webview origins permitted by CORS.
	AllowedOrigins []string
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter wires the bridge routes behind the standard middleware stack.
func NewRouter(h *Handler, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept-Language", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(i18n.Middleware())
	r.Use(guard(opts.AllowedOrigins))

	h.Routes(r)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// guard rejects browser requests from origins outside allowed, and POSTs
// that are not JSON. A JSON POST always needs a preflight, so a foreign
// page cannot run a command with a simple form or text/plain request.
func guard(allowed []string) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if o := r.Header.Get("Origin"); o != "" && !origins[o] {
				slog.Warn("rejected request from foreign origin", "origin", o, "path", r.URL.Path)
				writeJSON(w, http.StatusForbidden, invokeResponse{Error: http.StatusText(http.StatusForbidden)})
				return
			}
			if r.Method == http.MethodPost {
				mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mt != "application/json" {
					writeJSON(w, http.StatusUnsupportedMediaType, invokeResponse{Error: http.StatusText(http.StatusUnsupportedMediaType)})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type invokeResponse struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "command")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArgsBytes))
	if err != nil {
		err = fmt.Errorf("%w: read arguments: %v", command.ErrBadRequest, err)
		writeJSON(w, http.StatusBadRequest, invokeResponse{Error: command.Message(r.Context(), err)})
		return
	}

	out, err := h.invoker.Invoke(r.Context(), name, body)
	if err != nil {
		writeJSON(w, statusFor(err), invokeResponse{Error: command.Message(r.Context(), err)})
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{Data: out})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, command.ErrUnknownCommand), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, command.ErrBadRequest), errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
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

	sub := h.hub.Subscribe()
	defer sub.Close()
	log := slog.With("subscriber", sub.ID)
	log.Debug("event stream opened")

	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed")
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(msg.Event)
			if err != nil {
				log.Error("encode event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "subscribers": h.hub.Len()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

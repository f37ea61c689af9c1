package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/network"
	"fibermap/core-go/internal/topology"
)

// Network is the set of core calls the adapter exposes. *network.Service satisfies it.
type Network interface {
	Items() []topology.Item
	Item(id string) (topology.Item, error)
	Children(id string) ([]topology.Item, error)
	Add(ctx context.Context, it topology.Item) (topology.Item, error)
	Edit(ctx context.Context, it topology.Item) (topology.Item, error)
	Delete(ctx context.Context, id string) ([]string, error)
	SaveConnection(ctx context.Context, c topology.Connection) error
	Connections() []topology.Connection
	ComputePower(id string) (topology.Reading, error)
	GetHierarchyCounts(id string) (topology.Counts, error)
	CountDescendants(id string, kind topology.Kind) (int, error)
	GetPortMap(id string) (topology.PortMap, error)
	ResolveCascadeChild(odpID string) (string, bool, error)
	PowerChain(id string) ([]topology.Hop, error)
	ResolveStatus(ctx context.Context, id string) (topology.Status, error)
	ResolveStatuses(ctx context.Context, ids []string) (map[string]topology.Status, error)
}

// Pinger reports storage readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	log     zerolog.Logger
	net     Network
	ready   Pinger
	metrics *metrics.Metrics
}

// NewHandler accepts a nil network (routes answer 503) and a nil pinger (ready once the network
// is set).
func NewHandler(log zerolog.Logger, n Network, ready Pinger, m *metrics.Metrics) *Handler {
	return &Handler{log: log, net: n, ready: ready, metrics: m}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/items", func(r chi.Router) {
				r.Get("/", h.handleListItems)
				r.Post("/", h.handleCreateItem)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetItem)
					r.Put("/", h.handleUpdateItem)
					r.Delete("/", h.handleDeleteItem)
					r.Get("/children", h.handleChildren)
					r.Get("/power", h.handlePower)
					r.Get("/chain", h.handlePowerChain)
					r.Get("/counts", h.handleCounts)
					r.Get("/ports", h.handlePorts)
					r.Get("/cascade", h.handleCascade)
					r.Get("/status", h.handleStatus)
				})
			})

			r.Route("/connections", func(r chi.Router) {
				r.Get("/", h.handleListConnections)
				r.Put("/", h.handleSaveConnection)
			})

			r.Post("/status/batch", h.handleStatusBatch)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// writeServiceError maps core errors onto the error envelope.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, id, action string) {
	details := map[string]any{"error": err.Error()}
	if id != "" {
		details["id"] = id
	}
	switch {
	case errors.Is(err, topology.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "item not found", details)
	case errors.Is(err, topology.ErrDuplicateID):
		h.writeError(w, http.StatusConflict, "conflict", "item id already exists", details)
	case errors.Is(err, topology.ErrParentNotFound),
		errors.Is(err, topology.ErrCycle),
		errors.Is(err, topology.ErrKindMismatch),
		errors.Is(err, topology.ErrInvalidItem):
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid item", details)
	case errors.Is(err, network.ErrNoResolver):
		h.writeError(w, http.StatusServiceUnavailable, "status_unavailable", "status resolution is not configured", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out", nil)
	default:
		h.log.Error().Err(err).Str("id", id).Msg(action + " failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to "+action, nil)
	}
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) ensureNetwork(w http.ResponseWriter) bool {
	if h.net == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "network not loaded", nil)
		return false
	}
	return true
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.net == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "network not loaded", nil)
		return
	}
	if h.ready != nil {
		if err := h.ready.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

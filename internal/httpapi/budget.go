package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fibermap/core-go/internal/topology"
)

// maxStatusBatch bounds one status batch request.
const maxStatusBatch = 1000

func (h *Handler) handlePower(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureNetwork(w) {
		return
	}

	reading, err := h.net.ComputePower(id)
	if err != nil {
		h.writeServiceError(w, err, id, "compute power")
		return
	}

	h.writeJSON(w, http.StatusOK, reading)
}

func (h *Handler) handlePowerChain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureNetwork(w) {
		return
	}

	hops, err := h.net.PowerChain(id)
	if err != nil {
		h.writeServiceError(w, err, id, "compute power chain")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "hops": hops})
}

func (h *Handler) handleCounts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureNetwork(w) {
		return
	}

	if raw := r.URL.Query().Get("item_type"); raw != "" {
		kind, ok := topology.ParseKind(raw)
		if !ok {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "unknown item_type", map[string]any{"item_type": raw})
			return
		}
		n, err := h.net.CountDescendants(id, kind)
		if err != nil {
			h.writeServiceError(w, err, id, "count descendants")
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "item_type": kind, "count": n})
		return
	}

	counts, err := h.net.GetHierarchyCounts(id)
	if err != nil {
		h.writeServiceError(w, err, id, "count descendants")
		return
	}

	h.writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) handlePorts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureNetwork(w) {
		return
	}

	ports, err := h.net.GetPortMap(id)
	if err != nil {
		h.writeServiceError(w, err, id, "build port map")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "ports": ports.Ports()})
}

func (h *Handler) handleCascade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureNetwork(w) {
		return
	}

	child, ok, err := h.net.ResolveCascadeChild(id)
	if err != nil {
		h.writeServiceError(w, err, id, "resolve cascade")
		return
	}

	resp := map[string]any{"item_id": id, "found": ok}
	if ok {
		resp["child_id"] = child
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureNetwork(w) {
		return
	}

	st, err := h.net.ResolveStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, id, "resolve status")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "status": st})
}

type statusBatchRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) handleStatusBatch(w http.ResponseWriter, r *http.Request) {
	var req statusBatchRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	ids := make([]string, 0, len(req.IDs))
	for _, id := range req.IDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "ids must not be empty", nil)
		return
	}
	if len(ids) > maxStatusBatch {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "too many ids", map[string]any{"max": maxStatusBatch})
		return
	}
	if !h.ensureNetwork(w) {
		return
	}

	statuses, err := h.net.ResolveStatuses(r.Context(), ids)
	if err != nil {
		h.writeServiceError(w, err, "", "resolve statuses")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	if !h.ensureNetwork(w) {
		return
	}

	conns := h.net.Connections()
	if conns == nil {
		conns = []topology.Connection{}
	}
	h.writeJSON(w, http.StatusOK, conns)
}

func (h *Handler) handleSaveConnection(w http.ResponseWriter, r *http.Request) {
	var req topology.Connection
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.ParentID) == "" || strings.TrimSpace(req.ChildID) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "parent_id and child_id are required", nil)
		return
	}
	if !h.ensureNetwork(w) {
		return
	}

	if err := h.net.SaveConnection(r.Context(), req); err != nil {
		h.writeServiceError(w, err, req.ChildID, "save connection")
		return
	}

	if len(req.Waypoints) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

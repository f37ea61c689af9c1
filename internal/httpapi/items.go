package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fibermap/core-go/internal/topology"
)

type item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	ItemType  topology.Kind   `json:"item_type"`
	ParentID  *string         `json:"parent_id,omitempty"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Status    topology.Status `json:"status"`
	Config    json.RawMessage `json:"config"`
}

type itemWrite struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	ItemType  string          `json:"item_type"`
	ParentID  *string         `json:"parent_id,omitempty"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Status    string          `json:"status,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

func toItem(it topology.Item) item {
	cfg, err := topology.EncodeConfig(it)
	if err != nil {
		cfg = []byte("{}")
	}
	return item{
		ID:        it.ID,
		Name:      it.Name,
		ItemType:  it.Kind,
		ParentID:  it.ParentID,
		Latitude:  it.Latitude,
		Longitude: it.Longitude,
		Status:    it.Status,
		Config:    cfg,
	}
}

func toItems(items []topology.Item) []item {
	out := make([]item, 0, len(items))
	for _, it := range items {
		out = append(out, toItem(it))
	}
	return out
}

func (req itemWrite) item() (topology.Item, error) {
	kind, ok := topology.ParseKind(req.ItemType)
	if !ok {
		return topology.Item{}, fmt.Errorf("%w: unknown item_type %q", topology.ErrInvalidItem, req.ItemType)
	}
	it := topology.Item{
		ID:        req.ID,
		Name:      req.Name,
		Kind:      kind,
		ParentID:  req.ParentID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Status:    topology.ParseStatus(req.Status),
	}
	if err := topology.DecodeConfig(&it, req.Config); err != nil {
		return topology.Item{}, err
	}
	return it, nil
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	if !h.ensureNetwork(w) {
		return
	}

	items := h.net.Items()
	if raw := r.URL.Query().Get("item_type"); raw != "" {
		kind, ok := topology.ParseKind(raw)
		if !ok {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "unknown item_type", map[string]any{"item_type": raw})
			return
		}
		filtered := items[:0]
		for _, it := range items {
			if it.Kind == kind {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	h.writeJSON(w, http.StatusOK, toItems(items))
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemWrite
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !h.ensureNetwork(w) {
		return
	}

	it, err := req.item()
	if err != nil {
		h.writeServiceError(w, err, req.ID, "create item")
		return
	}
	created, err := h.net.Add(r.Context(), it)
	if err != nil {
		h.writeServiceError(w, err, it.ID, "create item")
		return
	}

	h.writeJSON(w, http.StatusCreated, toItem(created))
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureNetwork(w) {
		return
	}

	it, err := h.net.Item(id)
	if err != nil {
		h.writeServiceError(w, err, id, "fetch item")
		return
	}

	h.writeJSON(w, http.StatusOK, toItem(it))
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req itemWrite
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if req.ID != "" && req.ID != id {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "body id does not match path", map[string]any{"id": id})
		return
	}
	if !h.ensureNetwork(w) {
		return
	}

	req.ID = id
	it, err := req.item()
	if err != nil {
		h.writeServiceError(w, err, id, "update item")
		return
	}
	updated, err := h.net.Edit(r.Context(), it)
	if err != nil {
		h.writeServiceError(w, err, id, "update item")
		return
	}

	h.writeJSON(w, http.StatusOK, toItem(updated))
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureNetwork(w) {
		return
	}

	removed, err := h.net.Delete(r.Context(), id)
	if err != nil {
		if len(removed) > 0 {
			h.log.Error().Err(err).Str("id", id).Strs("removed", removed).Msg("delete item stopped part way")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to delete item", map[string]any{"removed": removed})
			return
		}
		h.writeServiceError(w, err, id, "delete item")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *Handler) handleChildren(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureNetwork(w) {
		return
	}

	children, err := h.net.Children(id)
	if err != nil {
		h.writeServiceError(w, err, id, "list children")
		return
	}

	h.writeJSON(w, http.StatusOK, toItems(children))
}

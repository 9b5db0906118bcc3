// Package admin exposes the route table CRUD used by operators and
// deploy tooling. Mutations go to the store; the data plane picks them
// up through the store's change notifications.
package admin

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/errors"
	"github.com/neuragate/gateway/internal/filter"
	"github.com/neuragate/gateway/internal/logging"
	"github.com/neuragate/gateway/internal/route"
	"github.com/neuragate/gateway/internal/route/store"
)

// Handler serves the /admin/routes surface.
type Handler struct {
	store *store.Store
	mux   *http.ServeMux
}

// NewHandler creates the admin handler.
func NewHandler(st *store.Store) *Handler {
	h := &Handler{store: st, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /admin/routes", h.list)
	h.mux.HandleFunc("POST /admin/routes", h.put)
	h.mux.HandleFunc("DELETE /admin/routes/{id}", h.delete)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	defs, err := h.store.All(r.Context())
	if err != nil {
		h.storeError(w, r, "list routes", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(defs)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	var def route.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).
			WithCorrelationID(filter.FromRequest(r).CorrelationID).WriteJSON(w)
		return
	}
	if err := def.Validate(); err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).
			WithCorrelationID(filter.FromRequest(r).CorrelationID).WriteJSON(w)
		return
	}

	if err := h.store.Put(r.Context(), &def); err != nil {
		h.storeError(w, r, "store route", err)
		return
	}

	logging.Info("Route stored", zap.String("route_id", def.ID))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(&def)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.storeError(w, r, "delete route", err)
		return
	}
	logging.Info("Route deleted", zap.String("route_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	info := filter.FromRequest(r)
	logging.Error("Route store operation failed",
		zap.String("op", op), zap.Error(err), logging.Correlation(info.CorrelationID))
	errors.ErrInternalServer.WithDetails("route store unavailable").
		WithCorrelationID(info.CorrelationID).WriteJSON(w)
}

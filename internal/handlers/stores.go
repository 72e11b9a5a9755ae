package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/xelth-com/stocksyncgo/internal/errors"
	"github.com/xelth-com/stocksyncgo/internal/stores"
	"github.com/xelth-com/stocksyncgo/internal/transport"
)

// listStores returns every registered store
func (r *Router) listStores(w http.ResponseWriter, req *http.Request) {
	list, err := r.svc.Registry.List(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch stores")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (r *Router) getStore(w http.ResponseWriter, req *http.Request) {
	store, err := r.svc.Registry.GetByID(req.Context(), pathID(req))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, store)
}

// createStore registers a peer. The shared secret is returned once so the
// operator can configure the other side.
func (r *Router) createStore(w http.ResponseWriter, req *http.Request) {
	var in stores.StoreInput
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	store, err := r.svc.Registry.Create(req.Context(), in)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"store":         store,
		"shared_secret": store.SharedSecret,
	})
}

func (r *Router) updateStore(w http.ResponseWriter, req *http.Request) {
	var in stores.StoreInput
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	store, err := r.svc.Registry.Update(req.Context(), pathID(req), in)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			respondStoreError(w, err)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, store)
}

// deleteStore deactivates the store; history and mappings are kept
func (r *Router) deleteStore(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Registry.Deactivate(req.Context(), pathID(req)); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testStore runs the `test` action against the peer
func (r *Router) testStore(w http.ResponseWriter, req *http.Request) {
	store, err := r.svc.Registry.GetByID(req.Context(), pathID(req))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	res := r.svc.Connectivity.TestConnectivity(req.Context(), transport.PeerFromStore(store))
	respondJSON(w, http.StatusOK, res)
}

func (r *Router) rotateStoreKey(w http.ResponseWriter, req *http.Request) {
	secret, err := r.svc.Registry.RotateSecret(req.Context(), pathID(req))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"shared_secret": secret})
}

// generateKey returns a fresh key without storing it
func (r *Router) generateKey(w http.ResponseWriter, req *http.Request) {
	key, err := stores.GenerateAPIKey()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate key")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"api_key": key})
}

// listRoutes reports which peer endpoint path last worked per store URL
func (r *Router) listRoutes(w http.ResponseWriter, req *http.Request) {
	type routeReporter interface {
		RouteStatuses() []transport.RouteStatus
	}
	rt, ok := r.svc.Connectivity.(routeReporter)
	if !ok {
		respondJSON(w, http.StatusOK, []transport.RouteStatus{})
		return
	}
	respondJSON(w, http.StatusOK, rt.RouteStatuses())
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, stores.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Store not found")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// respondEngineError maps coded engine errors onto admin HTTP statuses
func respondEngineError(w http.ResponseWriter, err error) {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrModuleInactive:
		respondJSON(w, http.StatusConflict, map[string]string{"error": apperrors.MessageOf(err), "code": string(apperrors.ErrModuleInactive)})
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type scanRequest struct {
	SourceStoreID uint `json:"source_store_id"`
	TargetStoreID uint `json:"target_store_id"`
	Force         bool `json:"force"`
}

// scanReferences builds mappings for one store pair
func (r *Router) scanReferences(w http.ResponseWriter, req *http.Request) {
	var body scanRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if body.SourceStoreID == 0 || body.TargetStoreID == 0 {
		respondError(w, http.StatusBadRequest, "source_store_id and target_store_id are required")
		return
	}
	for _, id := range []uint{body.SourceStoreID, body.TargetStoreID} {
		if _, err := r.svc.Registry.GetByID(req.Context(), id); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	res, err := r.svc.Resolver.ScanAndMap(req.Context(), body.SourceStoreID, body.TargetStoreID, body.Force)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (r *Router) duplicateReferences(w http.ResponseWriter, req *http.Request) {
	report, err := r.svc.Resolver.CheckDuplicates(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// listMappings requires ?source= and ?target=; ?active=false includes inactive rows
func (r *Router) listMappings(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	source, err1 := strconv.ParseUint(q.Get("source"), 10, 64)
	target, err2 := strconv.ParseUint(q.Get("target"), 10, 64)
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "source and target store ids are required")
		return
	}

	list, err := r.svc.Resolver.Mappings(req.Context(), uint(source), uint(target), q.Get("active") != "false")
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (r *Router) mappingStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.svc.Resolver.Statistics(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (r *Router) deactivateMapping(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Resolver.Deactivate(req.Context(), pathID(req)); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// discrepancies runs the read-only quantity audit across active stores
func (r *Router) discrepancies(w http.ResponseWriter, req *http.Request) {
	found, err := r.svc.Engine.CheckDiscrepancies(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":         len(found),
		"discrepancies": found,
	})
}

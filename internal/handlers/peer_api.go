package handlers

import (
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/xelth-com/stocksyncgo/internal/errors"
	"github.com/xelth-com/stocksyncgo/internal/sync"
)

// Peer actions
const (
	actionTest        = "test"
	actionUpdateStock = "update_stock"
	actionGetStock    = "get_stock"
)

// peerAPI serves the form-encoded peer protocol. Every outcome is a JSON
// object with a success flag; failures carry a wire code. HTTP status is
// always 200 so older peers that only parse the body keep working.
func (r *Router) peerAPI(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("🔴 Peer API: panic handling %s: %v", req.URL.Path, rec)
			msg := "Internal error"
			if r.svc.Sync.DebugMode {
				msg = fmt.Sprintf("Internal error: %v", rec)
			}
			respondPeerError(w, apperrors.New(apperrors.ErrException, msg))
		}
	}()

	if !r.svc.Sync.Active {
		respondPeerError(w, apperrors.New(apperrors.ErrModuleInactive, "Module is not active in this store"))
		return
	}

	if err := req.ParseForm(); err != nil {
		respondPeerError(w, apperrors.New(apperrors.ErrMissingAction, "Malformed request body"))
		return
	}

	action := strings.TrimSpace(req.PostForm.Get("action"))
	token := req.PostForm.Get("token")
	if token == "" {
		token = req.PostForm.Get("api_key")
	}

	ctx := req.Context()
	switch action {
	case "":
		respondPeerError(w, apperrors.New(apperrors.ErrMissingAction, "Missing action parameter"))

	case actionTest:
		info, err := r.svc.Engine.Ping(ctx, token)
		if err != nil {
			respondPeerError(w, err)
			return
		}
		respondPeer(w, "Connection successful", map[string]interface{}{
			"version":        info.Version,
			"module_version": info.ModuleVersion,
			"timestamp":      info.Timestamp,
			"store_url":      info.StoreURL,
		})

	case actionUpdateStock:
		qty, err := parseQuantity(req.PostForm.Get("quantity"))
		if err != nil {
			respondPeerError(w, err)
			return
		}
		queueID, _ := strconv.ParseInt(req.PostForm.Get("queue_id"), 10, 64)

		res, err := r.svc.Engine.HandleIncomingUpdate(ctx, sync.InboundUpdate{
			Reference: req.PostForm.Get("reference"),
			Quantity:  qty,
			Token:     token,
			QueueID:   queueID,
		})
		if err != nil {
			respondPeerError(w, err)
			return
		}
		respondPeer(w, "Stock updated successfully", map[string]interface{}{
			"reference": res.Reference,
			"quantity":  res.Quantity,
			"queue_id":  res.QueueID,
		})

	case actionGetStock:
		info, err := r.svc.Engine.LookupStock(ctx, token, req.PostForm.Get("reference"))
		if err != nil {
			respondPeerError(w, err)
			return
		}
		respondPeer(w, "Stock retrieved", map[string]interface{}{
			"reference":            info.Reference,
			"quantity":             info.Quantity,
			"id_product":           info.ProductID,
			"id_product_attribute": info.VariantID,
		})

	default:
		respondPeerError(w, apperrors.New(apperrors.ErrInvalidAction, "Invalid action"))
	}
}

func parseQuantity(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apperrors.New(apperrors.ErrInvalidQuantity, "Quantity is required")
	}
	qty, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return 0, apperrors.New(apperrors.ErrInvalidQuantity, "Quantity must be a number")
	}
	return qty, nil
}

func respondPeer(w http.ResponseWriter, message string, payload map[string]interface{}) {
	body := map[string]interface{}{"success": true, "message": message}
	for k, v := range payload {
		body[k] = v
	}
	respondJSON(w, http.StatusOK, body)
}

func respondPeerError(w http.ResponseWriter, err error) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": false,
		"message": apperrors.MessageOf(err),
		"code":    apperrors.CodeOf(err),
	})
}

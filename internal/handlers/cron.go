package handlers

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"time"
)

// cronBudget bounds one scheduled maintenance run
const cronBudget = 5 * time.Minute

// cronProcessQueue is the scheduled maintenance entry point: one queue pass
// followed by retention pruning. It authenticates with X-Cron-Secret, which is
// unrelated to peer tokens.
func (r *Router) cronProcessQueue(w http.ResponseWriter, req *http.Request) {
	secret := r.svc.Config.Server.CronSecret
	given := req.Header.Get("X-Cron-Secret")
	if secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
		respondError(w, http.StatusUnauthorized, "Invalid cron secret")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), cronBudget)
	defer cancel()

	limit := queryInt(req, "limit", r.svc.Sync.BatchSize)
	run, err := r.svc.Engine.ProcessQueue(ctx, limit)
	if err != nil {
		log.Printf("⚠️ Cron: queue pass failed: %v", err)
		respondEngineError(w, err)
		return
	}
	maint, err := r.svc.Engine.Maintain(ctx)
	if err != nil {
		log.Printf("⚠️ Cron: maintenance failed: %v", err)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run":         run,
		"maintenance": maint,
	})
}

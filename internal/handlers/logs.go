package handlers

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/synclog"
)

// listLogs returns recent entries. ?reference= and ?level= narrow the list.
func (r *Router) listLogs(w http.ResponseWriter, req *http.Request) {
	level := models.LogLevel(req.URL.Query().Get("level"))
	if level != "" && !level.Valid() {
		respondError(w, http.StatusBadRequest, "Invalid level")
		return
	}
	limit := queryInt(req, "limit", 100)

	var (
		entries []models.LogEntry
		err     error
	)
	if ref := req.URL.Query().Get("reference"); ref != "" {
		entries, err = r.svc.Log.ByReference(req.Context(), ref, limit)
	} else {
		entries, err = r.svc.Log.Recent(req.Context(), limit, level)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch logs")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (r *Router) logStats(w http.ResponseWriter, req *http.Request) {
	hours := queryInt(req, "hours", 24)
	stats, err := r.svc.Log.Statistics(req.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// exportLogs streams the log as CSV
func (r *Router) exportLogs(w http.ResponseWriter, req *http.Request) {
	f := synclog.Filter{
		Level: models.LogLevel(req.URL.Query().Get("level")),
		Limit: queryInt(req, "limit", 0),
	}
	if f.Level != "" && !f.Level.Valid() {
		respondError(w, http.StatusBadRequest, "Invalid level")
		return
	}
	if hours := queryInt(req, "hours", 0); hours > 0 {
		f.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=stock_sync_logs_%s.csv", time.Now().Format("2006-01-02")))
	w.Header().Set("Cache-Control", "no-store")
	if err := r.svc.Log.ExportCSV(req.Context(), w, f); err != nil {
		// headers are already sent
		log.Printf("⚠️ Log export interrupted: %v", err)
	}
}

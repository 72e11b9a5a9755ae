package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/queue"
)

// listQueue returns recent tasks, optionally filtered by ?status=
func (r *Router) listQueue(w http.ResponseWriter, req *http.Request) {
	status := models.TaskStatus(req.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	var (
		tasks []models.QueueTask
		err   error
	)
	if ref := req.URL.Query().Get("reference"); ref != "" {
		var statuses []models.TaskStatus
		if status != "" {
			statuses = append(statuses, status)
		}
		tasks, err = r.svc.Queue.ByReference(req.Context(), ref, statuses...)
	} else {
		tasks, err = r.svc.Queue.Recent(req.Context(), queryInt(req, "limit", 100), status)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch queue")
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (r *Router) getQueueTask(w http.ResponseWriter, req *http.Request) {
	task, err := r.svc.Queue.Get(req.Context(), pathID(req))
	if errors.Is(err, queue.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logs, err := r.svc.Log.ByQueueTask(req.Context(), task.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task": task, "logs": logs})
}

func (r *Router) queueStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.svc.Queue.Statistics(req.Context(), queryInt(req, "hours", 24))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// processQueue runs one batch now, like the worker would
func (r *Router) processQueue(w http.ResponseWriter, req *http.Request) {
	run, err := r.svc.Engine.ProcessQueue(req.Context(), queryInt(req, "limit", r.svc.Sync.BatchSize))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (r *Router) retryFailed(w http.ResponseWriter, req *http.Request) {
	hours := queryInt(req, "max_age_hours", 24)
	n, err := r.svc.Queue.RetryFailed(req.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n > 0 {
		r.svc.Engine.Trigger()
	}
	respondJSON(w, http.StatusOK, map[string]int64{"requeued": n})
}

func (r *Router) purgeQueue(w http.ResponseWriter, req *http.Request) {
	hours := queryInt(req, "older_than_hours", r.svc.Sync.QueueRetentionDays*24)
	n, err := r.svc.Queue.PurgeTerminal(req.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

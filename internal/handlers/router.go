package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/xelth-com/stocksyncgo/internal/buildinfo"
	"github.com/xelth-com/stocksyncgo/internal/config"
	"github.com/xelth-com/stocksyncgo/internal/middleware"
	"github.com/xelth-com/stocksyncgo/internal/queue"
	"github.com/xelth-com/stocksyncgo/internal/reference"
	"github.com/xelth-com/stocksyncgo/internal/stores"
	"github.com/xelth-com/stocksyncgo/internal/sync"
	"github.com/xelth-com/stocksyncgo/internal/synclog"
	"github.com/xelth-com/stocksyncgo/internal/transport"
	"github.com/xelth-com/stocksyncgo/internal/websocket"
)

// Connectivity probes a peer with the `test` action
type Connectivity interface {
	TestConnectivity(ctx context.Context, peer transport.Peer) transport.ConnectivityResult
}

// Services bundles everything the HTTP surface talks to
type Services struct {
	Config       *config.Config
	Sync         *config.SyncConfig
	Engine       *sync.Engine
	Queue        *queue.Queue
	Log          *synclog.Logger
	Registry     *stores.Registry
	Resolver     *reference.Resolver
	Connectivity Connectivity
	Hub          *websocket.Hub
}

// Router wraps the mux router and the services it exposes
type Router struct {
	*mux.Router
	svc     Services
	limiter *middleware.RateLimiter
}

// Peer API paths: the front-controller path and the direct-script path
const (
	PeerPathFrontController = "/api/stocksync"
	PeerPathDirect          = "/modules/stocksync/api/sync"
)

// NewRouter creates a new HTTP router with all routes
func NewRouter(svc Services) *Router {
	r := &Router{
		Router:  mux.NewRouter(),
		svc:     svc,
		limiter: middleware.NewRateLimiter(svc.Config.Server.RateLimitRPS, svc.Config.Server.RateLimitBurst),
	}

	if err := r.limiter.TrustProxies(svc.Config.Server.TrustedProxies); err != nil {
		log.Printf("⚠️ TRUSTED_PROXIES ignored: %v", err)
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Peer-to-peer API, rate limited per client address
	peer := r.limiter.Middleware(http.HandlerFunc(r.peerAPI))
	r.Handle(PeerPathFrontController, peer).Methods("POST")
	r.Handle(PeerPathDirect, peer).Methods("POST")

	// Scheduled maintenance
	r.HandleFunc("/cron/process-queue", r.cronProcessQueue).Methods("POST")

	// Auth routes
	r.HandleFunc("/auth/login", r.login).Methods("POST")

	// Admin routes (protected)
	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(middleware.AdminAuth(svc.Config.JWTSecret))

	admin.HandleFunc("/stores", r.listStores).Methods("GET")
	admin.HandleFunc("/stores", r.createStore).Methods("POST")
	admin.HandleFunc("/stores/{id:[0-9]+}", r.getStore).Methods("GET")
	admin.HandleFunc("/stores/{id:[0-9]+}", r.updateStore).Methods("PUT")
	admin.HandleFunc("/stores/{id:[0-9]+}", r.deleteStore).Methods("DELETE")
	admin.HandleFunc("/stores/{id:[0-9]+}/test", r.testStore).Methods("POST")
	admin.HandleFunc("/stores/{id:[0-9]+}/rotate-key", r.rotateStoreKey).Methods("POST")
	admin.HandleFunc("/stores/generate-key", r.generateKey).Methods("POST")
	admin.HandleFunc("/routes", r.listRoutes).Methods("GET")

	admin.HandleFunc("/queue", r.listQueue).Methods("GET")
	admin.HandleFunc("/queue/stats", r.queueStats).Methods("GET")
	admin.HandleFunc("/queue/process", r.processQueue).Methods("POST")
	admin.HandleFunc("/queue/retry-failed", r.retryFailed).Methods("POST")
	admin.HandleFunc("/queue/purge", r.purgeQueue).Methods("POST")
	admin.HandleFunc("/queue/{id:[0-9]+}", r.getQueueTask).Methods("GET")

	admin.HandleFunc("/logs", r.listLogs).Methods("GET")
	admin.HandleFunc("/logs/stats", r.logStats).Methods("GET")
	admin.HandleFunc("/logs/export", r.exportLogs).Methods("GET")

	admin.HandleFunc("/references/scan", r.scanReferences).Methods("POST")
	admin.HandleFunc("/references/duplicates", r.duplicateReferences).Methods("GET")
	admin.HandleFunc("/references/mappings", r.listMappings).Methods("GET")
	admin.HandleFunc("/references/mappings/stats", r.mappingStats).Methods("GET")
	admin.HandleFunc("/references/mappings/{id:[0-9]+}", r.deactivateMapping).Methods("DELETE")
	admin.HandleFunc("/discrepancies", r.discrepancies).Methods("GET")

	// Live event feed
	if svc.Hub != nil {
		ws := middleware.AdminAuth(svc.Config.JWTSecret)(http.HandlerFunc(r.serveEvents))
		r.Handle("/ws/events", ws).Methods("GET")
	}

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": buildinfo.Version,
		"active":  r.svc.Sync.Active,
	}
	if run := r.svc.Engine.LastRun(); run != nil {
		status["last_run"] = run.RunID
	}
	respondJSON(w, http.StatusOK, status)
}

func (r *Router) serveEvents(w http.ResponseWriter, req *http.Request) {
	websocket.ServeWs(r.svc.Hub, w, req)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func pathID(req *http.Request) uint {
	id, _ := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
	return uint(id)
}

func queryInt(req *http.Request, key string, def int) int {
	if v := req.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

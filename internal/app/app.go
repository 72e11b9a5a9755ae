// Package app wires the service together. The HTTP server and the CLI share
// it so both see the same engine, queue and log.
package app

import (
	"fmt"
	"log"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/auth"
	"github.com/xelth-com/stocksyncgo/internal/catalog"
	"github.com/xelth-com/stocksyncgo/internal/config"
	"github.com/xelth-com/stocksyncgo/internal/database"
	"github.com/xelth-com/stocksyncgo/internal/handlers"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/queue"
	"github.com/xelth-com/stocksyncgo/internal/reference"
	"github.com/xelth-com/stocksyncgo/internal/stores"
	"github.com/xelth-com/stocksyncgo/internal/sync"
	"github.com/xelth-com/stocksyncgo/internal/synclog"
	"github.com/xelth-com/stocksyncgo/internal/transport"
	"github.com/xelth-com/stocksyncgo/internal/websocket"
)

// referenceCacheTTL bounds how long a resolved reference is trusted
const referenceCacheTTL = 5 * time.Minute

// App holds every long-lived component
type App struct {
	Config *config.Config
	Sync   *config.SyncConfig

	DB        *database.DB
	Catalog   catalog.Catalog
	Index     catalog.ReferenceIndex
	Registry  *stores.Registry
	Queue     *queue.Queue
	Log       *synclog.Logger
	Resolver  *reference.Resolver
	Transport *transport.Client
	Engine    *sync.Engine
	Hub       *websocket.Hub
}

// New connects to the database, runs the startup migration and builds the
// engine with its collaborators. The event hub is started; the queue worker
// is not.
func New(cfg *config.Config, syncCfg *config.SyncConfig) (*App, error) {
	syncCfg.WarnInsecure()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &App{Config: cfg, Sync: syncCfg, DB: db}

	switch cfg.Catalog.Backend {
	case "odoo":
		odoo := catalog.NewOdooCatalog(catalog.OdooConfig{
			URL:        cfg.Catalog.OdooURL,
			Database:   cfg.Catalog.OdooDB,
			Username:   cfg.Catalog.OdooUser,
			Password:   cfg.Catalog.OdooPass,
			LocationID: cfg.Catalog.LocationID,
		})
		a.Catalog, a.Index = odoo, odoo
		log.Printf("📦 Catalog: Odoo at %s", cfg.Catalog.OdooURL)
	default:
		local := catalog.NewLocalCatalog(db.DB)
		a.Catalog, a.Index = local, local
		log.Println("📦 Catalog: local tables")
	}

	a.Hub = websocket.NewHub()
	go a.Hub.Run()

	a.Registry = stores.NewRegistry(db.DB, syncCfg.SelfURL, syncCfg.AllowAllSync)
	a.Queue = queue.New(db.DB)
	a.Queue.Notify = func(task *models.QueueTask) {
		a.Hub.Publish("queue_task", task)
	}
	a.Log = synclog.New(db.DB, syncCfg.LogMaxEntries, syncCfg.DebugMode)
	a.Log.SetPublisher(a.Hub)
	a.Resolver = reference.NewResolver(db.DB, a.Index, referenceCacheTTL)

	a.Transport = transport.New(transport.Config{
		BaseTimeout:        time.Duration(syncCfg.BaseTimeout) * time.Second,
		DeliverRetries:     syncCfg.DeliverRetries,
		ConnectRetries:     syncCfg.ConnectRetries,
		Paths:              syncCfg.EndpointPaths,
		InsecureSkipVerify: syncCfg.TLSInsecureSkipVerify,
		Debug:              syncCfg.DebugMode,
	}, a.Registry)

	tokens := auth.NewValidator(a.Registry, auth.Options{
		Salt:           syncCfg.TokenSalt,
		LegacyLifetime: syncCfg.LegacyTokenLifetime(),
		Insecure:       syncCfg.InsecureAcceptAnyToken,
		Debug:          syncCfg.DebugMode,
	})

	a.Engine = sync.NewEngine(sync.Deps{
		Config:    syncCfg,
		Catalog:   a.Catalog,
		Index:     a.Index,
		Resolver:  a.Resolver,
		Registry:  a.Registry,
		Queue:     a.Queue,
		Log:       a.Log,
		Transport: a.Transport,
		Tokens:    tokens,
		Events:    a.Hub,
	})

	// Only the local catalog raises change events; Odoo changes arrive
	// through its own automation.
	if cfg.Catalog.Backend != "odoo" {
		if err := catalog.RegisterChangeHooks(db.DB, a.Engine); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to register catalog hooks: %w", err)
		}
	}

	return a, nil
}

// Router builds the HTTP surface over the app
func (a *App) Router() *handlers.Router {
	return handlers.NewRouter(handlers.Services{
		Config:       a.Config,
		Sync:         a.Sync,
		Engine:       a.Engine,
		Queue:        a.Queue,
		Log:          a.Log,
		Registry:     a.Registry,
		Resolver:     a.Resolver,
		Connectivity: a.Transport,
		Hub:          a.Hub,
	})
}

// Close stops the worker and the hub, then closes the database
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Stop()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	log.Println("🛑 Closing database connection...")
	return a.DB.Close()
}

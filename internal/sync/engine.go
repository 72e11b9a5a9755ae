// Package sync is the reconciliation engine: it drains the queue towards
// peer stores, applies inbound updates from peers and audits divergence.
package sync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/auth"
	"github.com/xelth-com/stocksyncgo/internal/catalog"
	"github.com/xelth-com/stocksyncgo/internal/config"
	"github.com/xelth-com/stocksyncgo/internal/models"
	"github.com/xelth-com/stocksyncgo/internal/queue"
	"github.com/xelth-com/stocksyncgo/internal/reference"
	"github.com/xelth-com/stocksyncgo/internal/stores"
	"github.com/xelth-com/stocksyncgo/internal/synclog"
	"github.com/xelth-com/stocksyncgo/internal/transport"
)

// Transport is the outbound half of the peer protocol
type Transport interface {
	Deliver(ctx context.Context, task *models.QueueTask, peer transport.Peer) error
	FetchRemoteQuantity(ctx context.Context, peer transport.Peer, ref string) (*transport.RemoteStock, error)
}

// EventPublisher receives engine events for live observers
type EventPublisher interface {
	Publish(eventType string, data interface{})
}

// Deps are the collaborators of an Engine
type Deps struct {
	Config    *config.SyncConfig
	Catalog   catalog.Catalog
	Index     catalog.ReferenceIndex
	Resolver  *reference.Resolver
	Registry  *stores.Registry
	Queue     *queue.Queue
	Log       *synclog.Logger
	Transport Transport
	Tokens    *auth.Validator
	Events    EventPublisher
}

// Engine orchestrates queue processing and the inbound peer protocol
type Engine struct {
	mu sync.Mutex

	cfg       *config.SyncConfig
	catalog   catalog.Catalog
	index     catalog.ReferenceIndex
	resolver  *reference.Resolver
	registry  *stores.Registry
	queue     *queue.Queue
	log       *synclog.Logger
	transport Transport
	tokens    *auth.Validator
	events    EventPublisher
	conflicts *ConflictResolver

	// State
	isRunning bool
	lastRun   *RunResult

	// Channels
	stopChan    chan struct{}
	triggerChan chan struct{}
	done        chan struct{}
}

// NewEngine wires an engine from its collaborators
func NewEngine(d Deps) *Engine {
	return &Engine{
		cfg:         d.Config,
		catalog:     d.Catalog,
		index:       d.Index,
		resolver:    d.Resolver,
		registry:    d.Registry,
		queue:       d.Queue,
		log:         d.Log,
		transport:   d.Transport,
		tokens:      d.Tokens,
		events:      d.Events,
		conflicts:   NewConflictResolver(d.Config.ConflictStrategy, d.Registry, d.Log),
		triggerChan: make(chan struct{}, 1),
	}
}

// Start launches the background worker. Each pass processes one batch and
// then runs retention maintenance.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("sync engine already running")
	}
	e.isRunning = true
	e.stopChan = make(chan struct{})
	e.done = make(chan struct{})

	log.Printf("🔄 Sync Engine starting (interval %v, batch %d, strategy %s)...",
		e.cfg.WorkerInterval(), e.cfg.BatchSize, e.cfg.ConflictStrategy)
	go e.worker(e.stopChan, e.done)
	log.Println("✅ Sync Engine started")
	return nil
}

// Stop halts the worker and waits for an in-flight pass to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return
	}
	log.Println("🛑 Stopping Sync Engine...")
	e.isRunning = false
	close(e.stopChan)
	done := e.done
	e.mu.Unlock()

	<-done
	log.Println("✅ Sync Engine stopped")
}

// Trigger asks the worker for an immediate pass. It never blocks.
func (e *Engine) Trigger() {
	select {
	case e.triggerChan <- struct{}{}:
	default:
	}
}

// LastRun returns the most recent background pass result, if any
func (e *Engine) LastRun() *RunResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

func (e *Engine) worker(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.WorkerInterval())
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			e.pass(ctx)
		case <-e.triggerChan:
			e.pass(ctx)
		case <-stop:
			return
		}
	}
}

func (e *Engine) pass(ctx context.Context) {
	if !e.cfg.Active {
		return
	}

	result, err := e.ProcessQueue(ctx, e.cfg.BatchSize)
	if err != nil {
		log.Printf("⚠️ Sync Engine: queue pass failed: %v", err)
		return
	}
	e.mu.Lock()
	e.lastRun = result
	e.mu.Unlock()

	if _, err := e.Maintain(ctx); err != nil {
		log.Printf("⚠️ Sync Engine: maintenance failed: %v", err)
	}
}

func (e *Engine) publish(eventType string, data interface{}) {
	if e.events != nil {
		e.events.Publish(eventType, data)
	}
}

// self returns this installation's registry row, or a placeholder carrying
// the configured role when the installation is not registered.
func (e *Engine) self(ctx context.Context) *models.Store {
	if store, err := e.registry.CurrentStore(ctx); err == nil {
		return store
	}
	role, _ := models.ParseSyncRole(e.cfg.Role)
	return &models.Store{Name: "local", BaseURL: e.registry.SelfURL(), SyncRole: role, Active: true}
}

func (e *Engine) isSelf(self, store *models.Store) bool {
	if self.ID != 0 && self.ID == store.ID {
		return true
	}
	return self.BaseURL != "" && self.BaseURL == store.BaseURL
}

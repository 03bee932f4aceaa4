package worker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Paranaix/crossbar/router"
)

// Timeouts for blocking orchestrator steps.
const (
	// DefaultReadyTimeout bounds waiting for a service session or uplink
	// bridge to come up during a start operation.
	DefaultReadyTimeout = 10 * time.Second

	// DefaultLeaveTimeout bounds the graceful-leave phase per component
	// during shutdown.
	DefaultLeaveTimeout = 5 * time.Second
)

// Options configures a RouterWorker. Zero values select the NATS-backed
// defaults.
type Options struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// WorkDir is the base for relative paths in transport configuration.
	WorkDir string

	// RouterFactory, Sessions and Bridges default to the NATS-backed
	// implementations sharing the worker's connection.
	RouterFactory router.Factory
	Sessions      router.SessionFactory
	Bridges       router.BridgeFactory

	// Connections is the pool that component `connection:<id>` references
	// resolve against.
	Connections map[string]*nats.Conn

	// ComponentLoaders maps component types to their loaders. Merged over
	// the worker's table; see RegisterComponentLoader.
	ComponentLoaders map[string]ComponentLoader

	// Metrics receives the lifecycle metrics. Nil disables them.
	Metrics prometheus.Registerer

	// ReadyTimeout and LeaveTimeout override the defaults above.
	ReadyTimeout time.Duration
	LeaveTimeout time.Duration
}

// RouterWorker owns every entity its worker process hosts and exposes their
// lifecycle over the management RPC surface.
type RouterWorker struct {
	nodeID   string
	workerID string
	prefix   string
	nc       *nats.Conn
	logger   *slog.Logger
	workDir  string

	routerFactory router.Factory
	sessions      router.SessionFactory
	bridges       router.BridgeFactory
	connections   map[string]*nats.Conn

	realms     *registry[*realmEntity]
	components *registry[*componentEntity]
	transports *registry[*transportEntity]

	uriMu    sync.Mutex
	realmURI map[string]string // realm URI -> realm id

	loaderMu sync.Mutex
	loaders  map[string]ComponentLoader

	subMu sync.Mutex
	subs  []*nats.Subscription

	metrics      *lifecycleMetrics
	readyTimeout time.Duration
	leaveTimeout time.Duration
}

// NewRouterWorker creates the worker for one node/worker id pair. The
// management RPC surface is registered separately via RegisterProcedures.
func NewRouterWorker(nodeID, workerID string, nc *nats.Conn, opts Options) *RouterWorker {
	// The logger is used as provided; callers scope it to the node and
	// worker identity (cmd/crossbar-router does this in setupLogger).
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	routerFactory := opts.RouterFactory
	if routerFactory == nil {
		routerFactory = router.NewFactory(nodeID, nc, logger)
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = router.NewSessionFactory(routerFactory, nc, logger)
	}
	bridges := opts.Bridges
	if bridges == nil {
		bridges = router.NewBridgeFactory(logger)
	}

	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	leaveTimeout := opts.LeaveTimeout
	if leaveTimeout <= 0 {
		leaveTimeout = DefaultLeaveTimeout
	}

	w := &RouterWorker{
		nodeID:        nodeID,
		workerID:      workerID,
		prefix:        fmt.Sprintf("crossbar.node.%s.worker.%s", nodeID, workerID),
		nc:            nc,
		logger:        logger,
		workDir:       opts.WorkDir,
		routerFactory: routerFactory,
		sessions:      sessions,
		bridges:       bridges,
		connections:   opts.Connections,
		realms:        newRegistry[*realmEntity](),
		components:    newRegistry[*componentEntity](),
		transports:    newRegistry[*transportEntity](),
		realmURI:      make(map[string]string),
		loaders:       make(map[string]ComponentLoader),
		metrics:       newLifecycleMetrics(opts.Metrics),
		readyTimeout:  readyTimeout,
		leaveTimeout:  leaveTimeout,
	}
	for typ, loader := range opts.ComponentLoaders {
		w.loaders[typ] = loader
	}
	return w
}

// Prefix returns the subject prefix the management procedures are registered
// under.
func (w *RouterWorker) Prefix() string { return w.prefix }

// claimURI records the URI -> id mapping of a starting realm. It reports
// false when another realm already serves the URI.
func (w *RouterWorker) claimURI(uri, id string) bool {
	w.uriMu.Lock()
	defer w.uriMu.Unlock()
	if _, taken := w.realmURI[uri]; taken {
		return false
	}
	w.realmURI[uri] = id
	return true
}

func (w *RouterWorker) releaseURI(uri string) {
	w.uriMu.Lock()
	defer w.uriMu.Unlock()
	delete(w.realmURI, uri)
}

// realmIDByURI resolves a realm id from its routing URI.
func (w *RouterWorker) realmIDByURI(uri string) (string, bool) {
	w.uriMu.Lock()
	defer w.uriMu.Unlock()
	id, ok := w.realmURI[uri]
	return id, ok
}

// SchemasByRealmURI exposes realm schema dictionaries to schemadoc web
// resources.
func (w *RouterWorker) SchemasByRealmURI(uri string) (map[string]json.RawMessage, bool) {
	id, ok := w.realmIDByURI(uri)
	if !ok {
		return nil, false
	}
	entity, ok := w.realms.get(id)
	if !ok || entity.service == nil {
		return nil, false
	}
	return entity.service.Schemas(), true
}

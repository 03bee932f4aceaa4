package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/errors"
)

// NATSFactory produces per-realm routers over one NATS connection.
type NATSFactory struct {
	nodeID string
	nc     *nats.Conn
	logger *slog.Logger

	mu     sync.Mutex
	realms map[string]*natsRealm // by realm URI
}

// NewFactory creates a router factory for this worker's node.
func NewFactory(nodeID string, nc *nats.Conn, logger *slog.Logger) *NATSFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSFactory{
		nodeID: nodeID,
		nc:     nc,
		logger: logger,
		realms: make(map[string]*natsRealm),
	}
}

// StartRealm implements Factory.
func (f *NATSFactory) StartRealm(uri string) (Realm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.realms[uri]; exists {
		return nil, errors.New(errors.CodeAlreadyRunning, "router for realm '%s' already started", uri)
	}

	r := &natsRealm{
		uri:    uri,
		nc:     f.nc,
		logger: f.logger.With("realm", uri),
		roles:  make(map[string]config.Role),
	}
	f.realms[uri] = r
	f.logger.Info("realm router started", "realm", uri, "node", f.nodeID)
	return r, nil
}

// StopRealm implements Factory.
func (f *NATSFactory) StopRealm(ctx context.Context, uri string) error {
	f.mu.Lock()
	r, ok := f.realms[uri]
	delete(f.realms, uri)
	f.mu.Unlock()

	if !ok {
		return errors.New(errors.CodeNoSuchObject, "no router for realm '%s'", uri)
	}
	return r.Close(ctx)
}

// Realm implements Factory.
func (f *NATSFactory) Realm(uri string) (Realm, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.realms[uri]
	return r, ok
}

// natsRealm is the live router for one realm: a subject namespace plus the
// realm's role table.
type natsRealm struct {
	uri    string
	nc     *nats.Conn
	logger *slog.Logger

	mu           sync.Mutex
	closed       bool
	roles        map[string]config.Role
	traceSub     *nats.Subscription
	traceExclude []string
}

// URI implements Realm.
func (r *natsRealm) URI() string { return r.uri }

// AddRole implements Realm.
func (r *natsRealm) AddRole(role config.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New(errors.CodeNotRunning, "router for realm '%s' is closed", r.uri)
	}
	if _, exists := r.roles[role.Name]; exists {
		return errors.New(errors.CodeAlreadyExists, "role '%s' already registered on realm '%s'", role.Name, r.uri)
	}
	r.roles[role.Name] = role
	return nil
}

// DropRole implements Realm.
func (r *natsRealm) DropRole(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roles[name]; !exists {
		return errors.New(errors.CodeNoSuchObject, "no role '%s' on realm '%s'", name, r.uri)
	}
	delete(r.roles, name)
	return nil
}

// HasRole implements Realm.
func (r *natsRealm) HasRole(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.roles[name]
	return ok
}

// EnableTrace implements Realm. Traffic on the realm's namespace is logged
// until the realm closes. Role-based exclusion is recorded for the log
// output; matching happens downstream of the subject namespace.
func (r *natsRealm) EnableTrace(excludeRoles []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.traceSub != nil || r.nc == nil {
		r.traceExclude = excludeRoles
		return
	}

	prefix := realmPrefix(r.uri)
	sub, err := r.nc.Subscribe(prefix+".>", func(msg *nats.Msg) {
		r.logger.Info("trace", "subject", msg.Subject, "bytes", len(msg.Data))
	})
	if err != nil {
		r.logger.Warn("could not enable traffic tracing", "error", err)
		return
	}
	r.traceSub = sub
	r.traceExclude = excludeRoles
	r.logger.Info("traffic tracing enabled", "exclude_roles", excludeRoles)
}

// Close implements Realm.
func (r *natsRealm) Close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.traceSub != nil {
		if err := r.traceSub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			return err
		}
		r.traceSub = nil
	}
	r.logger.Info("realm router closed")
	return nil
}

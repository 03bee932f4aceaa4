package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/errors"
	"github.com/Paranaix/crossbar/router"
)

// Lifecycle notification topics published under the worker prefix.
const (
	topicComponentStart = "on_component_start"
	topicComponentStop  = "on_component_stop"
)

// ComponentDeps carries the collaborators a component loader may use.
// Connection is the resolved `connection:<id>` reference, nil when the
// component declares none.
type ComponentDeps struct {
	Logger     *slog.Logger
	Connection *nats.Conn
}

// ComponentLoader builds the application session for one component type from
// its configuration. Loaders form a closed table per worker; an unknown
// component type is a configuration error.
type ComponentLoader func(cfg *config.Component, deps ComponentDeps) (router.Session, error)

// RegisterComponentLoader adds a loader for a component type.
func (w *RouterWorker) RegisterComponentLoader(componentType string, loader ComponentLoader) error {
	if componentType == "" || loader == nil {
		return errors.New(errors.CodeInvalidConfiguration,
			"component loader registration requires a type and a loader")
	}
	w.loaderMu.Lock()
	defer w.loaderMu.Unlock()
	if _, exists := w.loaders[componentType]; exists {
		return errors.New(errors.CodeAlreadyExists,
			"a loader for component type '%s' is already registered", componentType)
	}
	w.loaders[componentType] = loader
	return nil
}

func (w *RouterWorker) componentLoader(componentType string) (ComponentLoader, bool) {
	w.loaderMu.Lock()
	defer w.loaderMu.Unlock()
	loader, ok := w.loaders[componentType]
	return loader, ok
}

// GetComponents lists the running components ordered by creation time.
func (w *RouterWorker) GetComponents() []map[string]any {
	entities := w.components.list()
	out := make([]map[string]any, len(entities))
	for i, e := range entities {
		out[i] = e.marshal()
	}
	return out
}

// StartComponent hosts an application component inside the worker. The
// caller id, when given, is excluded from the lifecycle event echo.
func (w *RouterWorker) StartComponent(
	ctx context.Context,
	id string,
	cfg *config.Component,
	callerID string,
) (map[string]any, error) {
	if err := cfg.Validate(); err != nil {
		w.metrics.startFailed("component")
		return nil, err
	}

	conn, err := w.resolveReferences(cfg.References)
	if err != nil {
		w.metrics.startFailed("component")
		return nil, err
	}

	loader, ok := w.componentLoader(cfg.Type)
	if !ok {
		w.metrics.startFailed("component")
		return nil, errors.New(errors.CodeInvalidConfiguration,
			"invalid component type '%s'", cfg.Type)
	}

	if !w.components.reserve(id) {
		w.metrics.startFailed("component")
		return nil, errors.New(errors.CodeAlreadyRunning,
			"could not start component: a component with ID '%s' is already running", id)
	}

	fail := func(err error) (map[string]any, error) {
		w.components.release(id)
		w.metrics.startFailed("component")
		return nil, err
	}

	session, err := loader(cfg, ComponentDeps{
		Logger:     w.logger.With("component", id),
		Connection: conn,
	})
	if err != nil {
		return fail(errors.Wrap(err, errors.CodeClassImportFailed,
			"RouterWorker", "StartComponent", "instantiating component session"))
	}

	// A fault inside the component's own event handling disconnects it,
	// never the worker.
	if local, ok := session.(interface{ SetFatalHandler(func(error)) }); ok {
		local.SetFatalHandler(func(err error) {
			w.logger.Error("component failed, disconnecting it", "component", id, "error", err)
			session.Disconnect()
		})
	}

	session.OnJoin(func() {
		w.publishEvent(topicComponentStart, id, callerID)
	})
	session.OnLeave(func() {
		w.publishEvent(topicComponentStop, id, callerID)
	})

	role := cfg.Role
	if role == "" {
		role = "anonymous"
	}
	if err := w.sessions.Add(ctx, session, role); err != nil {
		return fail(err)
	}

	entity := &componentEntity{
		id:      id,
		created: time.Now().UTC(),
		config:  cfg,
		session: session,
	}
	w.components.commit(id, entity)
	w.metrics.started("component")
	w.logger.Info("component started",
		"component", id, "type", cfg.Type, "realm", cfg.Realm, "role", role)
	return entity.marshal(), nil
}

// StopComponent detaches a component's session and removes it from the
// component registry.
func (w *RouterWorker) StopComponent(ctx context.Context, id string) (map[string]any, error) {
	entity, ok := w.components.get(id)
	if !ok {
		w.metrics.stopFailed("component")
		return nil, errors.New(errors.CodeNoSuchObject,
			"could not stop component: no component with ID '%s' running", id)
	}

	if entity.session.IsConnected() {
		leaveCtx, cancel := context.WithTimeout(ctx, w.leaveTimeout)
		_ = entity.session.Leave(leaveCtx)
		cancel()
	}
	if err := w.sessions.Remove(entity.session); err != nil && !errors.IsNotFound(err) {
		w.metrics.stopFailed("component")
		return nil, errors.Wrap(err, errors.CodeCannotStop,
			"RouterWorker", "StopComponent", "detaching component session")
	}

	w.components.remove(id)
	w.metrics.stopped("component")
	w.logger.Info("component stopped", "component", id)
	return map[string]any{"id": id}, nil
}

// resolveReferences resolves the declarative references of a component
// configuration. Only `connection:<id>` references are understood.
func (w *RouterWorker) resolveReferences(references []string) (*nats.Conn, error) {
	var conn *nats.Conn
	for _, ref := range references {
		kind, refID, found := strings.Cut(ref, ":")
		if !found || kind != "connection" {
			return nil, errors.New(errors.CodeInvalidConfiguration,
				"invalid component configuration: unknown reference kind in '%s'", ref)
		}
		c, ok := w.connections[refID]
		if !ok {
			return nil, errors.New(errors.CodeInvalidConfiguration,
				"invalid component configuration: could not resolve connection '%s'", refID)
		}
		conn = c
	}
	return conn, nil
}

// publishEvent emits a worker-scoped lifecycle notification. The caller id
// rides along so the original caller can skip its own echo.
func (w *RouterWorker) publishEvent(topic, componentID, callerID string) {
	if w.nc == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"id":     componentID,
		"caller": callerID,
	})
	if err != nil {
		return
	}
	if err := w.nc.Publish(w.prefix+"."+topic, payload); err != nil {
		w.logger.Debug("lifecycle event publish failed", "topic", topic, "error", err)
	}
}

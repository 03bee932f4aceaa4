package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/errors"
	"github.com/Paranaix/crossbar/router"
)

// traceExcludeRoles is the default exclusion list when realm tracing is
// enabled: the worker's own service traffic stays out of the trace.
var traceExcludeRoles = []string{"trusted"}

// GetRealms lists the running realms ordered by creation time.
func (w *RouterWorker) GetRealms() []map[string]any {
	entities := w.realms.list()
	out := make([]map[string]any, len(entities))
	for i, e := range entities {
		out[i] = e.marshal()
	}
	return out
}

// StartRealm starts a realm: it validates the configuration, reserves the id
// and the routing URI, creates the routing-core router, registers the
// configured roles, and attaches a service session, committing the realm
// only once the service session reports ready.
func (w *RouterWorker) StartRealm(
	ctx context.Context,
	id string,
	cfg *config.Realm,
	schemas map[string]json.RawMessage,
	enableTrace bool,
) (map[string]any, error) {
	if err := cfg.Validate(); err != nil {
		w.metrics.startFailed("realm")
		return nil, err
	}

	if !w.realms.reserve(id) {
		w.metrics.startFailed("realm")
		return nil, errors.New(errors.CodeAlreadyRunning,
			"could not start realm: a realm with ID '%s' is already running", id)
	}

	uri := cfg.Name
	if !w.claimURI(uri, id) {
		w.realms.release(id)
		w.metrics.startFailed("realm")
		return nil, errors.New(errors.CodeAlreadyRunning,
			"could not start realm: a realm with URI '%s' is already running", uri)
	}

	fail := func(err error) (map[string]any, error) {
		w.releaseURI(uri)
		w.realms.release(id)
		w.metrics.startFailed("realm")
		return nil, err
	}

	rt, err := w.routerFactory.StartRealm(uri)
	if err != nil {
		return fail(err)
	}

	entity := &realmEntity{
		id:      id,
		created: time.Now().UTC(),
		config:  cfg,
		realm:   rt,
		roles:   make(map[string]*roleEntity),
		uplinks: make(map[string]*uplinkEntity),
	}

	for i := range cfg.Roles {
		role := cfg.Roles[i]
		if err := rt.AddRole(role); err != nil {
			_ = w.routerFactory.StopRealm(ctx, uri)
			return fail(err)
		}
		entity.roles[role.Name] = &roleEntity{id: role.Name, config: &role}
	}

	if enableTrace {
		rt.EnableTrace(traceExcludeRoles)
	}

	service := router.NewServiceSession(uri, schemas, w.logger)
	if err := w.sessions.Add(ctx, service, "trusted"); err != nil {
		_ = w.routerFactory.StopRealm(ctx, uri)
		return fail(err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, w.readyTimeout)
	defer cancel()
	if err := service.WaitReady(readyCtx); err != nil {
		_ = w.sessions.Remove(service)
		_ = w.routerFactory.StopRealm(ctx, uri)
		return fail(errors.Wrap(err, errors.CodeRuntime,
			"RouterWorker", "StartRealm", "waiting for realm service session"))
	}
	entity.service = service

	w.realms.commit(id, entity)
	w.metrics.started("realm")
	w.logger.Info("realm started", "realm", id, "uri", uri, "trace", enableTrace)
	return entity.marshal(), nil
}

// StopRealm tears a realm down: the registry entry and URI index go first so
// no new session can attach, then the uplinks, the service session and the
// routing-core router. With closeSessions set, every session still attached
// to the realm is disconnected.
func (w *RouterWorker) StopRealm(ctx context.Context, id string, closeSessions bool) (map[string]any, error) {
	entity, ok := w.realms.remove(id)
	if !ok {
		w.metrics.stopFailed("realm")
		return nil, errors.New(errors.CodeNoSuchObject,
			"could not stop realm: no realm with ID '%s' running", id)
	}
	uri := entity.uri()
	w.releaseURI(uri)

	entity.mu.Lock()
	uplinks := make([]*uplinkEntity, 0, len(entity.uplinks))
	for _, u := range entity.uplinks {
		uplinks = append(uplinks, u)
	}
	entity.uplinks = make(map[string]*uplinkEntity)
	entity.mu.Unlock()

	for _, u := range uplinks {
		if u.bridge != nil {
			_ = w.sessions.Remove(u.bridge)
		}
	}

	if entity.service != nil {
		_ = entity.service.Leave(ctx)
		_ = w.sessions.Remove(entity.service)
	}

	if err := w.routerFactory.StopRealm(ctx, uri); err != nil {
		w.metrics.stopFailed("realm")
		return nil, errors.Wrap(err, errors.CodeCannotStop,
			"RouterWorker", "StopRealm", "stopping realm router")
	}

	closed := 0
	if closeSessions {
		if closer, ok := w.sessions.(interface{ DisconnectRealm(string) int }); ok {
			closed = closer.DisconnectRealm(uri)
		}
	}

	w.metrics.stopped("realm")
	w.logger.Info("realm stopped", "realm", id, "uri", uri, "sessions_closed", closed)
	return map[string]any{"id": id, "sessions_closed": closed}, nil
}

// GetRealmRoles lists the roles of one realm.
func (w *RouterWorker) GetRealmRoles(id string) ([]map[string]any, error) {
	entity, ok := w.realms.get(id)
	if !ok {
		return nil, errors.New(errors.CodeNoSuchObject, "no realm with ID '%s'", id)
	}

	entity.mu.Lock()
	defer entity.mu.Unlock()
	out := make([]map[string]any, 0, len(entity.roles))
	for _, role := range entity.roles {
		out = append(out, role.marshal())
	}
	return out, nil
}

// StartRealmRole registers a role under a running realm, both in the realm's
// role table and in the routing core.
func (w *RouterWorker) StartRealmRole(id, roleID string, cfg *config.Role) (map[string]any, error) {
	entity, ok := w.realms.get(id)
	if !ok {
		w.metrics.startFailed("role")
		return nil, errors.New(errors.CodeNoSuchObject, "no realm with ID '%s'", id)
	}
	if err := cfg.Validate(); err != nil {
		w.metrics.startFailed("role")
		return nil, err
	}

	entity.mu.Lock()
	defer entity.mu.Unlock()
	if _, exists := entity.roles[roleID]; exists {
		w.metrics.startFailed("role")
		return nil, errors.New(errors.CodeAlreadyExists,
			"a role with ID '%s' already exists in realm '%s'", roleID, id)
	}
	if err := entity.realm.AddRole(*cfg); err != nil {
		w.metrics.startFailed("role")
		return nil, err
	}

	role := &roleEntity{id: roleID, config: cfg}
	entity.roles[roleID] = role
	w.metrics.started("role")
	w.logger.Info("role started", "realm", id, "role", roleID, "name", cfg.Name)
	return role.marshal(), nil
}

// StopRealmRole removes a role from the realm's table and from the routing
// core's per-realm table; the two must never diverge.
func (w *RouterWorker) StopRealmRole(id, roleID string) (map[string]any, error) {
	entity, ok := w.realms.get(id)
	if !ok {
		w.metrics.stopFailed("role")
		return nil, errors.New(errors.CodeNoSuchObject, "no realm with ID '%s'", id)
	}

	entity.mu.Lock()
	defer entity.mu.Unlock()
	role, exists := entity.roles[roleID]
	if !exists {
		w.metrics.stopFailed("role")
		return nil, errors.New(errors.CodeNoSuchObject,
			"no role with ID '%s' in realm '%s'", roleID, id)
	}
	delete(entity.roles, roleID)
	if err := entity.realm.DropRole(role.config.Name); err != nil {
		w.logger.Warn("role removal from routing core failed",
			"realm", id, "role", roleID, "error", err)
	}

	w.metrics.stopped("role")
	w.logger.Info("role stopped", "realm", id, "role", roleID)
	return map[string]any{"id": roleID}, nil
}

// GetRealmUplinks lists the uplinks of one realm.
func (w *RouterWorker) GetRealmUplinks(id string) ([]map[string]any, error) {
	entity, ok := w.realms.get(id)
	if !ok {
		return nil, errors.New(errors.CodeNoSuchObject, "no realm with ID '%s'", id)
	}

	entity.mu.Lock()
	defer entity.mu.Unlock()
	out := make([]map[string]any, 0, len(entity.uplinks))
	for _, uplink := range entity.uplinks {
		out = append(out, uplink.marshal())
	}
	return out, nil
}

// StartRealmUplink connects a realm to an upstream router. The uplink entry
// is recorded as a placeholder before the connect so concurrent starts of
// the same id are rejected; on connect failure the placeholder is rolled
// back and the original fault returned.
func (w *RouterWorker) StartRealmUplink(
	ctx context.Context,
	realmID, uplinkID string,
	cfg *config.Uplink,
) (map[string]any, error) {
	entity, ok := w.realms.get(realmID)
	if !ok {
		w.metrics.startFailed("uplink")
		return nil, errors.New(errors.CodeNoSuchObject, "no realm with ID '%s'", realmID)
	}
	if err := cfg.Validate(); err != nil {
		w.metrics.startFailed("uplink")
		return nil, err
	}

	uplink := &uplinkEntity{id: uplinkID, config: cfg}
	entity.mu.Lock()
	if _, exists := entity.uplinks[uplinkID]; exists {
		entity.mu.Unlock()
		w.metrics.startFailed("uplink")
		return nil, errors.New(errors.CodeAlreadyRunning,
			"an uplink with ID '%s' is already running in realm '%s'", uplinkID, realmID)
	}
	entity.uplinks[uplinkID] = uplink
	entity.mu.Unlock()

	fail := func(err error) (map[string]any, error) {
		entity.mu.Lock()
		delete(entity.uplinks, uplinkID)
		entity.mu.Unlock()
		w.metrics.startFailed("uplink")
		return nil, err
	}

	bridge := w.bridges.NewBridge(entity.uri(), *cfg)
	if err := w.sessions.Add(ctx, bridge, "trusted"); err != nil {
		return fail(err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, w.readyTimeout)
	defer cancel()
	if err := bridge.WaitReady(readyCtx); err != nil {
		_ = w.sessions.Remove(bridge)
		return fail(errors.Wrap(err, errors.CodeRuntime,
			"RouterWorker", "StartRealmUplink", "waiting for uplink bridge"))
	}

	entity.mu.Lock()
	uplink.bridge = bridge
	entity.mu.Unlock()

	w.metrics.started("uplink")
	w.logger.Info("uplink started", "realm", realmID, "uplink", uplinkID, "url", cfg.URL)
	return uplink.marshal(), nil
}

// StopRealmUplink closes an uplink's bridge session and removes the entry.
func (w *RouterWorker) StopRealmUplink(ctx context.Context, realmID, uplinkID string) (map[string]any, error) {
	entity, ok := w.realms.get(realmID)
	if !ok {
		w.metrics.stopFailed("uplink")
		return nil, errors.New(errors.CodeNoSuchObject, "no realm with ID '%s'", realmID)
	}

	entity.mu.Lock()
	uplink, exists := entity.uplinks[uplinkID]
	delete(entity.uplinks, uplinkID)
	entity.mu.Unlock()
	if !exists {
		w.metrics.stopFailed("uplink")
		return nil, errors.New(errors.CodeNoSuchObject,
			"no uplink with ID '%s' in realm '%s'", uplinkID, realmID)
	}

	if uplink.bridge != nil {
		_ = uplink.bridge.Leave(ctx)
		_ = w.sessions.Remove(uplink.bridge)
	}

	w.metrics.stopped("uplink")
	w.logger.Info("uplink stopped", "realm", realmID, "uplink", uplinkID)
	return map[string]any{"id": uplinkID}, nil
}

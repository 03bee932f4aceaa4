package worker

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/router"
	"github.com/Paranaix/crossbar/web"
)

// realmEntity is one running realm: the routing-core router for its URI, its
// service session, and the role and uplink tables owned by the realm.
type realmEntity struct {
	id      string
	created time.Time
	config  *config.Realm
	realm   router.Realm
	service *router.ServiceSession

	mu      sync.Mutex
	roles   map[string]*roleEntity
	uplinks map[string]*uplinkEntity
}

func (e *realmEntity) uri() string { return e.config.Name }

func (e *realmEntity) marshal() map[string]any {
	return map[string]any{
		"id":      e.id,
		"created": e.created.UTC().Format(time.RFC3339),
		"config":  e.config,
	}
}

type roleEntity struct {
	id     string
	config *config.Role
}

func (e *roleEntity) marshal() map[string]any {
	return map[string]any{"id": e.id, "config": e.config}
}

// uplinkEntity is recorded as a placeholder (nil bridge) before the upstream
// connect, so concurrent starts of the same uplink id are rejected.
type uplinkEntity struct {
	id     string
	config *config.Uplink
	bridge router.Bridge
}

func (e *uplinkEntity) marshal() map[string]any {
	connected := e.bridge != nil && e.bridge.IsConnected()
	return map[string]any{"id": e.id, "config": e.config, "connected": connected}
}

type componentEntity struct {
	id      string
	created time.Time
	config  *config.Component
	session router.Session
}

func (e *componentEntity) marshal() map[string]any {
	return map[string]any{
		"id":      e.id,
		"created": e.created.UTC().Format(time.RFC3339),
		"config":  e.config,
		"uptime":  time.Since(e.created).Seconds(),
	}
}

// transportEntity is one live listener plus whatever serving state backs it.
// The builder is non-nil only for web transports; closing it releases the
// tree's sessions and handler pools.
type transportEntity struct {
	id       string
	created  time.Time
	config   *config.Transport
	listener net.Listener
	server   transportServer
	builder  *web.Builder
}

func (e *transportEntity) marshal() map[string]any {
	return map[string]any{
		"id":      e.id,
		"created": e.created.UTC().Format(time.RFC3339),
		"config":  e.config,
	}
}

// stop shuts the listener down and releases the serving state.
func (e *transportEntity) stop(ctx context.Context) error {
	var err error
	if e.server != nil {
		err = e.server.close(ctx)
	} else {
		err = e.listener.Close()
	}
	if e.builder != nil {
		e.builder.Close()
	}
	return err
}

package router

import (
	"context"

	"github.com/Paranaix/crossbar/config"
)

// EventHandler receives events delivered to a subscription.
type EventHandler func(topic string, payload []byte)

// Unsubscribe cancels a subscription.
type Unsubscribe func() error

// Session is a routing session attached to exactly one realm. Embedded
// components, uplink bridges, service sessions and the REST-bridge resources
// all speak this interface.
type Session interface {
	// ID returns the session identifier, unique within the worker.
	ID() string

	// RealmURI returns the URI of the realm this session belongs to.
	RealmURI() string

	// IsConnected reports whether the session is currently attached.
	IsConnected() bool

	// Publish emits an event on a topic within the session's realm.
	Publish(ctx context.Context, topic string, payload any) error

	// Call issues a call to a procedure within the session's realm and
	// returns the raw reply payload.
	Call(ctx context.Context, procedure string, payload any) ([]byte, error)

	// Subscribe registers a handler for events on a topic.
	Subscribe(topic string, handler EventHandler) (Unsubscribe, error)

	// Leave detaches gracefully, running leave hooks and draining
	// subscriptions.
	Leave(ctx context.Context) error

	// Disconnect drops the session hard, without leave hooks.
	Disconnect()

	// OnJoin registers a hook fired when the session is attached.
	OnJoin(fn func())

	// OnLeave registers a hook fired when the session leaves.
	OnLeave(fn func())
}

// Realm is a live router for one realm, owned by the routing core.
type Realm interface {
	// URI returns the realm URI.
	URI() string

	// AddRole registers an authorization role with the realm router.
	AddRole(role config.Role) error

	// DropRole removes a role from the realm router.
	DropRole(name string) error

	// HasRole reports whether a role is registered.
	HasRole(name string) bool

	// EnableTrace turns on traffic tracing, excluding the given roles.
	EnableTrace(excludeRoles []string)

	// Close stops the realm router. No new session can attach afterwards.
	Close(ctx context.Context) error
}

// Factory produces and tracks per-realm routers.
type Factory interface {
	// StartRealm creates a router for the given realm URI.
	StartRealm(uri string) (Realm, error)

	// StopRealm stops and removes the router for the given realm URI.
	StopRealm(ctx context.Context, uri string) error

	// Realm returns the live router for a realm URI.
	Realm(uri string) (Realm, bool)
}

// SessionFactory attaches sessions to realm routers.
type SessionFactory interface {
	// Add attaches a session under an authorization role. The realm the
	// session names must have a live router.
	Add(ctx context.Context, s Session, authrole string) error

	// Remove detaches a session.
	Remove(s Session) error
}

// Bridge is an uplink session: locally it behaves as a session on the
// bridged realm, remotely it forwards traffic to an upstream router.
// WaitReady blocks until the upstream connection is established or failed.
type Bridge interface {
	Session
	WaitReady(ctx context.Context) error
}

// BridgeFactory produces uplink bridges.
type BridgeFactory interface {
	NewBridge(realmURI string, cfg config.Uplink) Bridge
}

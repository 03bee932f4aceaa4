// Package config holds the declarative configuration types for everything a
// router worker hosts: realms, roles, uplinks, components and transports,
// including the web path-resource configurations that drive the resource
// tree builder.
package config

import (
	"encoding/json"
	"time"
)

// Realm configures an isolated routing namespace.
type Realm struct {
	// Name is the realm URI, e.g. "com.example.inventory".
	Name string `json:"name" validate:"required"`

	// Roles optionally pre-declares roles started together with the realm.
	Roles []Role `json:"roles,omitempty" validate:"omitempty,dive"`
}

// Role configures an authorization policy within a realm.
type Role struct {
	Name string `json:"name" validate:"required"`

	// Permissions holds URI-pattern grants for sessions under this role.
	Permissions []Permission `json:"permissions,omitempty" validate:"omitempty,dive"`
}

// Permission grants actions on a URI pattern to a role.
type Permission struct {
	URI       string `json:"uri" validate:"required"`
	Publish   bool   `json:"publish,omitempty"`
	Subscribe bool   `json:"subscribe,omitempty"`
	Call      bool   `json:"call,omitempty"`
	Register  bool   `json:"register,omitempty"`
}

// Uplink configures a bridge session from a local realm to a remote router.
type Uplink struct {
	// URL of the upstream router, e.g. "nats://upstream.example.com:4222".
	URL string `json:"url" validate:"required,uri"`

	// Realm is the upstream realm URI to bridge into; defaults to the
	// local realm URI when empty.
	Realm string `json:"realm,omitempty"`

	// ConnectTimeout bounds the upstream handshake. Zero means the bridge
	// default.
	ConnectTimeout Duration `json:"connect_timeout,omitempty"`
}

// Component configures an application session hosted inside the worker.
type Component struct {
	// Type names a constructor in the component loader table.
	Type string `json:"type" validate:"required"`

	// Realm is the URI of the realm the component session joins.
	Realm string `json:"realm" validate:"required"`

	// References declares dependencies on other entities, each of the form
	// "<kind>:<id>". Only the "connection" kind is currently resolvable.
	References []string `json:"references,omitempty"`

	// Extra is passed opaquely to the component constructor.
	Extra json.RawMessage `json:"extra,omitempty"`

	// Role is the authorization role the session joins under.
	// Defaults to "anonymous".
	Role string `json:"role,omitempty"`
}

// Transport configures a network-facing listener.
type Transport struct {
	// Type selects the serving factory: rawsocket, websocket, flashpolicy,
	// websocket.testee, stream.testee or web.
	Type string `json:"type" validate:"required"`

	Endpoint Endpoint `json:"endpoint"`

	// Options applies to web transports only.
	Options *WebOptions `json:"options,omitempty"`

	// Paths maps URL path segments ("/" for root) to path resources.
	// Used by web transports only.
	Paths map[string]*Path `json:"paths,omitempty"`

	// AllowedDomain/AllowedPorts apply to flashpolicy transports.
	AllowedDomain string `json:"allowed_domain,omitempty"`
	AllowedPorts  []int  `json:"allowed_ports,omitempty"`
}

// Endpoint configures the listening side of a transport.
type Endpoint struct {
	// Type is "tcp" or "unix". Defaults to "tcp".
	Type string `json:"type,omitempty" validate:"omitempty,oneof=tcp unix"`

	// Port for tcp endpoints.
	Port int `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// Interface restricts the tcp bind address. Defaults to all interfaces.
	Interface string `json:"interface,omitempty"`

	// Path for unix endpoints.
	Path string `json:"path,omitempty"`

	// Backlog for pending connections. Zero means the platform default.
	Backlog int `json:"backlog,omitempty"`

	TLS *TLS `json:"tls,omitempty"`
}

// TLS configures server-side TLS for an endpoint.
type TLS struct {
	Certificate string `json:"certificate" validate:"required"`
	Key         string `json:"key" validate:"required"`
	CA          string `json:"ca,omitempty"`
}

// WebOptions tunes a composite web transport.
type WebOptions struct {
	AccessLog         bool `json:"access_log,omitempty"`
	DisplayTracebacks bool `json:"display_tracebacks,omitempty"`
	HSTS              bool `json:"hsts,omitempty"`
	HSTSMaxAge        int  `json:"hsts_max_age,omitempty"`
}

// Path configures one node of the web resource tree. Type selects which of
// the remaining fields apply; Validate enforces the per-type requirements.
type Path struct {
	Type string `json:"type" validate:"required"`

	// redirect
	URL string `json:"url,omitempty"`

	// json
	Value json.RawMessage `json:"value,omitempty"`

	// static (directory or package+resource), cgi and upload
	Directory string `json:"directory,omitempty"`
	Package   string `json:"package,omitempty"`
	Resource  string `json:"resource,omitempty"`

	// wsgi
	Module     string `json:"module,omitempty"`
	Object     string `json:"object,omitempty"`
	MaxThreads int    `json:"maxthreads,omitempty" validate:"omitempty,min=1"`

	// cgi
	Processor string `json:"processor,omitempty"`

	// publisher, webhook, caller, upload, websocket, schemadoc
	Realm string `json:"realm,omitempty"`
	Role  string `json:"role,omitempty"`

	// webhook
	Topic string `json:"topic,omitempty"`

	// upload
	TempDirectory string   `json:"temp_directory,omitempty"`
	FormFields    []string `json:"form_fields,omitempty"`

	// resource
	Classname string          `json:"classname,omitempty"`
	Extra     json.RawMessage `json:"extra,omitempty"`

	// path (nested container)
	Paths map[string]*Path `json:"paths,omitempty"`

	// static
	StaticOptions *StaticOptions `json:"options,omitempty"`

	// longpoll
	LongPoll *LongPollOptions `json:"longpoll,omitempty"`
}

// StaticOptions tunes a static directory resource.
type StaticOptions struct {
	EnableDirectoryListing bool              `json:"enable_directory_listing,omitempty"`
	CacheTimeout           *int              `json:"cache_timeout,omitempty"`
	MimeTypes              map[string]string `json:"mime_types,omitempty"`
}

// LongPollOptions tunes a long-poll bridge resource.
type LongPollOptions struct {
	RequestTimeout     Duration `json:"request_timeout,omitempty"`
	SessionTimeout     Duration `json:"session_timeout,omitempty"`
	QueueLimitBytes    int      `json:"queue_limit_bytes,omitempty"`
	QueueLimitMessages int      `json:"queue_limit_messages,omitempty"`
}

// Duration is a time.Duration that marshals as seconds in JSON, matching the
// numeric timeouts used throughout transport configuration.
type Duration time.Duration

// MarshalJSON encodes the duration as a number of seconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Seconds())
}

// UnmarshalJSON decodes a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

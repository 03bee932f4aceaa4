package config

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Paranaix/crossbar/errors"
)

// validate is the shared struct-tag validator. validator.New is expensive, so
// one instance is reused for all checks.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Transport types the worker can serve.
const (
	TransportRawSocket     = "rawsocket"
	TransportWebSocket     = "websocket"
	TransportFlashPolicy   = "flashpolicy"
	TransportWebSocketTest = "websocket.testee"
	TransportStreamTest    = "stream.testee"
	TransportWeb           = "web"
)

// Path resource types understood by the resource tree builder.
const (
	PathWebSocket = "websocket"
	PathStatic    = "static"
	PathWSGI      = "wsgi"
	PathRedirect  = "redirect"
	PathJSON      = "json"
	PathCGI       = "cgi"
	PathLongPoll  = "longpoll"
	PathPublisher = "publisher"
	PathWebhook   = "webhook"
	PathCaller    = "caller"
	PathUpload    = "upload"
	PathResource  = "resource"
	PathSchemaDoc = "schemadoc"
	PathNested    = "path"
)

func invalid(format string, args ...any) error {
	return errors.New(errors.CodeInvalidConfiguration, format, args...)
}

// Validate checks a realm configuration.
func (r *Realm) Validate() error {
	if err := validate.Struct(r); err != nil {
		return invalid("invalid realm configuration: %v", err)
	}
	for i := range r.Roles {
		if err := r.Roles[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a role configuration.
func (r *Role) Validate() error {
	if err := validate.Struct(r); err != nil {
		return invalid("invalid role configuration: %v", err)
	}
	return nil
}

// Validate checks an uplink configuration.
func (u *Uplink) Validate() error {
	if err := validate.Struct(u); err != nil {
		return invalid("invalid uplink configuration: %v", err)
	}
	return nil
}

// Validate checks a component configuration. Reference resolution happens at
// start time; here only the "<kind>:<id>" shape is enforced.
func (c *Component) Validate() error {
	if err := validate.Struct(c); err != nil {
		return invalid("invalid component configuration: %v", err)
	}
	for _, ref := range c.References {
		if kind, id, ok := strings.Cut(ref, ":"); !ok || kind == "" || id == "" {
			return invalid("invalid component reference '%s': expected '<kind>:<id>'", ref)
		}
	}
	return nil
}

// Validate checks a transport configuration, including (for web transports)
// every declared path resource. Validation is fail-fast: the first bad path
// fails the whole transport.
func (t *Transport) Validate() error {
	if err := validate.Struct(t); err != nil {
		return invalid("invalid transport configuration: %v", err)
	}

	switch t.Type {
	case TransportRawSocket, TransportWebSocket, TransportFlashPolicy,
		TransportWebSocketTest, TransportStreamTest:
		// endpoint-only transports

	case TransportWeb:
		for segment, path := range t.Paths {
			if err := checkPathSegment(segment); err != nil {
				return err
			}
			if path == nil {
				return invalid("missing path configuration for '%s'", segment)
			}
			if err := path.Validate(); err != nil {
				return err
			}
		}

	default:
		return invalid("invalid transport type '%s'", t.Type)
	}

	return t.Endpoint.Validate()
}

// Validate checks an endpoint configuration.
func (e *Endpoint) Validate() error {
	if err := validate.Struct(e); err != nil {
		return invalid("invalid endpoint configuration: %v", err)
	}
	switch e.Type {
	case "", "tcp":
		if e.Port == 0 {
			return invalid("tcp endpoint requires a port")
		}
	case "unix":
		if e.Path == "" {
			return invalid("unix endpoint requires a path")
		}
	}
	if e.TLS != nil {
		if err := validate.Struct(e.TLS); err != nil {
			return invalid("invalid endpoint TLS configuration: %v", err)
		}
	}
	return nil
}

// checkPathSegment enforces the path-key convention: "/" for the root, or a
// single URL segment for children. Segments become literal route patterns, so
// the router's pattern metacharacters '{', '}' and '*' are rejected here
// rather than blowing up the mount.
func checkPathSegment(segment string) error {
	if segment == "/" {
		return nil
	}
	if segment == "" || strings.ContainsAny(segment, "/{}*") {
		return invalid("invalid path segment '%s': must be '/' or a single segment without '/', '{', '}' or '*'", segment)
	}
	return nil
}

// pathChecks maps each path-resource type to its structural requirements.
// Unknown types are a configuration error, never a runtime crash. The map is
// populated in init because the nested check recurses through Path.Validate,
// which reads the map.
var pathChecks map[string]func(*Path) error

func init() {
	pathChecks = map[string]func(*Path) error{
		PathWebSocket: func(*Path) error { return nil },
		PathStatic: func(p *Path) error {
			if p.Directory == "" && p.Package == "" {
				return invalid("static path requires a 'directory' or a 'package'")
			}
			if p.Package != "" && p.Resource == "" {
				return invalid("static path with 'package' requires a 'resource'")
			}
			return nil
		},
		PathWSGI: func(p *Path) error {
			if p.Module == "" {
				return invalid("wsgi path requires a 'module'")
			}
			if p.Object == "" {
				return invalid("wsgi path requires an 'object'")
			}
			return nil
		},
		PathRedirect: func(p *Path) error {
			if p.URL == "" {
				return invalid("redirect path requires a 'url'")
			}
			return nil
		},
		PathJSON: func(p *Path) error {
			if len(p.Value) == 0 {
				return invalid("json path requires a 'value'")
			}
			return nil
		},
		PathCGI: func(p *Path) error {
			if p.Directory == "" {
				return invalid("cgi path requires a 'directory'")
			}
			if p.Processor == "" {
				return invalid("cgi path requires a 'processor'")
			}
			return nil
		},
		PathLongPoll:  func(*Path) error { return nil },
		PathPublisher: requireRealm("publisher"),
		PathWebhook: func(p *Path) error {
			if p.Realm == "" {
				return invalid("webhook path requires a 'realm'")
			}
			if p.Topic == "" {
				return invalid("webhook path requires a 'topic'")
			}
			return nil
		},
		PathCaller: requireRealm("caller"),
		PathUpload: func(p *Path) error {
			if p.Realm == "" {
				return invalid("upload path requires a 'realm'")
			}
			if p.Directory == "" {
				return invalid("upload path requires a 'directory'")
			}
			if len(p.FormFields) == 0 {
				return invalid("upload path requires 'form_fields'")
			}
			return nil
		},
		PathResource: func(p *Path) error {
			if p.Classname == "" {
				return invalid("resource path requires a 'classname'")
			}
			return nil
		},
		PathSchemaDoc: requireRealm("schemadoc"),
		PathNested: func(p *Path) error {
			for segment, nested := range p.Paths {
				if err := checkPathSegment(segment); err != nil {
					return err
				}
				if nested == nil {
					return invalid("missing path configuration for '%s'", segment)
				}
				if err := nested.Validate(); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func requireRealm(kind string) func(*Path) error {
	return func(p *Path) error {
		if p.Realm == "" {
			return invalid("%s path requires a 'realm'", kind)
		}
		return nil
	}
}

// Validate checks a path-resource configuration, recursing into nested
// containers.
func (p *Path) Validate() error {
	if p.Type == "" {
		return invalid("path configuration requires a 'type'")
	}
	check, ok := pathChecks[p.Type]
	if !ok {
		return invalid("invalid web path type '%s'", p.Type)
	}
	return check(p)
}

// Package web materializes declarative path configuration into a live
// serving tree. One Builder instance backs one web transport: it tracks the
// routing sessions and worker pools its resources created so a failed build
// or a transport stop can release them again.
package web

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/errors"
	"github.com/Paranaix/crossbar/pkg/worker"
	"github.com/Paranaix/crossbar/router"
)

// SchemaProvider resolves the schema dictionary of a realm by its URI; it is
// how schemadoc resources reach back into the worker's realm index.
type SchemaProvider interface {
	SchemasByRealmURI(uri string) (map[string]json.RawMessage, bool)
}

// Deps carries the collaborators resources need. NewSession defaults to
// router.NewLocalSession.
type Deps struct {
	Sessions   router.SessionFactory
	NewSession func(realmURI string) router.Session
	Schemas    SchemaProvider
	WorkDir    string
	Logger     *slog.Logger
}

// Builder builds the resource tree for one web transport.
type Builder struct {
	deps     Deps
	sessions []router.Session
	pools    []*worker.Pool
	closers  []func()
}

// NewBuilder creates a builder for one transport's path configuration.
func NewBuilder(deps Deps) *Builder {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewSession == nil {
		logger := deps.Logger
		deps.NewSession = func(realmURI string) router.Session {
			return router.NewLocalSession(realmURI, logger)
		}
	}
	return &Builder{deps: deps}
}

// buildFunc constructs one resource kind. nested reports whether the
// resource sits below the tree root.
type buildFunc func(b *Builder, cfg *config.Path, nested bool) (http.Handler, error)

// builders is the closed dispatch table over path-resource types. Unknown
// types are a configuration error, never a runtime crash. The map is
// populated in init because buildNested recurses through Build, which reads
// the map.
var builders map[string]buildFunc

func init() {
	builders = map[string]buildFunc{
		config.PathWebSocket: (*Builder).buildWebSocket,
		config.PathStatic:    (*Builder).buildStatic,
		config.PathWSGI:      (*Builder).buildWSGI,
		config.PathRedirect:  (*Builder).buildRedirect,
		config.PathJSON:      (*Builder).buildJSON,
		config.PathCGI:       (*Builder).buildCGI,
		config.PathLongPoll:  (*Builder).buildLongPoll,
		config.PathPublisher: (*Builder).buildPublisher,
		config.PathWebhook:   (*Builder).buildWebhook,
		config.PathCaller:    (*Builder).buildCaller,
		config.PathUpload:    (*Builder).buildUpload,
		config.PathResource:  (*Builder).buildResource,
		config.PathSchemaDoc: (*Builder).buildSchemaDoc,
		config.PathNested:    (*Builder).buildNested,
	}
}

// Build creates the resource for one path configuration node.
func (b *Builder) Build(cfg *config.Path, nested bool) (http.Handler, error) {
	build, ok := builders[cfg.Type]
	if !ok {
		where := "root"
		if nested {
			where = "nested"
		}
		return nil, errors.New(errors.CodeInvalidConfiguration,
			"invalid web path type '%s' in %s config", cfg.Type, where)
	}
	return build(b, cfg, nested)
}

// BuildTree materializes a full serving tree from a path map: the "/" entry
// becomes the root (defaulting to a 404 page) and every other path is
// attached as a named child. On error the builder's sessions and pools are
// released, so a failed transport start leaves no trace.
func (b *Builder) BuildTree(paths map[string]*config.Path) (http.Handler, error) {
	h, err := b.buildContainer(paths, false)
	if err != nil {
		b.Close()
		return nil, err
	}
	return h, nil
}

// AttachChildren builds and mounts every non-root path under mux,
// iterating in lexicographic order.
func (b *Builder) AttachChildren(mux chi.Router, paths map[string]*config.Path) error {
	segments := make([]string, 0, len(paths))
	for segment := range paths {
		if segment != "/" {
			segments = append(segments, segment)
		}
	}
	sort.Strings(segments)

	for _, segment := range segments {
		child, err := b.Build(paths[segment], true)
		if err != nil {
			return err
		}
		mux.Mount("/"+segment, child)
	}
	return nil
}

// Close releases everything the built tree holds onto: routing sessions are
// detached and handler pools stopped.
func (b *Builder) Close() {
	for _, fn := range b.closers {
		fn()
	}
	b.closers = nil

	for _, s := range b.sessions {
		if err := b.deps.Sessions.Remove(s); err != nil {
			b.deps.Logger.Debug("session removal during tree close failed",
				"session", s.ID(), "error", err)
		}
	}
	b.sessions = nil

	for _, p := range b.pools {
		if err := p.Stop(5 * time.Second); err != nil {
			b.deps.Logger.Warn("handler pool did not stop cleanly", "error", err)
		}
	}
	b.pools = nil
}

// newAttachedSession creates a dedicated role-scoped session for a resource
// and attaches it to the realm's router. The builder keeps a reference for
// teardown.
func (b *Builder) newAttachedSession(realmURI, role string) (router.Session, error) {
	if role == "" {
		role = "anonymous"
	}
	s := b.deps.NewSession(realmURI)
	if err := b.deps.Sessions.Add(context.Background(), s, role); err != nil {
		return nil, err
	}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// writeJSON marshals v onto the response. Headers must be set beforehand.
func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

var errorPage = template.Must(template.New("error").Parse(
	`<!DOCTYPE html><html><body><h1>{{.Code}} {{.Status}}</h1><p>{{.Message}}</p></body></html>`))

// serveErrorPage renders the built-in error page.
func serveErrorPage(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = errorPage.Execute(w, map[string]any{
		"Code":    code,
		"Status":  http.StatusText(code),
		"Message": message,
	})
}

// notFound returns the default root resource: a 404 page.
func (b *Builder) notFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveErrorPage(w, http.StatusNotFound, "no resource at this path")
	})
}

// normalizePath rewrites the request path to the remainder left after mount
// matching, so plain handlers below any nesting depth see paths relative to
// their own mount point. Chi routers cooperate through the route context and
// must not be wrapped.
func normalizePath(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePath != "" {
			r2 := new(http.Request)
			*r2 = *r
			r2.URL = new(url.URL)
			*r2.URL = *r.URL
			r2.URL.Path = rctx.RoutePath
			h.ServeHTTP(w, r2)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// exactPath restricts a leaf handler to its own mount point; nested requests
// below a leaf render the 404 page, matching the tree semantics of container
// resources.
func exactPath(h http.Handler) http.Handler {
	return normalizePath(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "" {
			serveErrorPage(w, http.StatusNotFound, "no resource at this path")
			return
		}
		h.ServeHTTP(w, r)
	}))
}

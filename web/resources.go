package web

import (
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"net/http/cgi"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/errors"
	"github.com/Paranaix/crossbar/pkg/worker"
)

// defaultCacheTimeout is the cache lifetime for static resources: 12 hours.
const defaultCacheTimeout = 12 * 60 * 60

// defaultHandlerThreads sizes a wsgi handler pool when the path config does
// not.
const defaultHandlerThreads = 20

// extraMimeTypes supplements the platform MIME table for static resources.
var extraMimeTypes = map[string]string{
	".svg": "image/svg+xml",
	".jgz": "text/javascript",
}

func (b *Builder) buildJSON(cfg *config.Path, _ bool) (http.Handler, error) {
	value := make([]byte, len(cfg.Value))
	copy(value, cfg.Value)
	return exactPath(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(value)
	})), nil
}

func (b *Builder) buildRedirect(cfg *config.Path, _ bool) (http.Handler, error) {
	return exactPath(http.RedirectHandler(cfg.URL, http.StatusFound)), nil
}

func (b *Builder) buildStatic(cfg *config.Path, _ bool) (http.Handler, error) {
	var files fs.FS
	switch {
	case cfg.Directory != "":
		dir := cfg.Directory
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(b.deps.WorkDir, dir)
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, errors.New(errors.CodeInvalidConfiguration,
				"static path directory '%s' does not exist", dir)
		}
		files = os.DirFS(dir)

	case cfg.Package != "":
		bundle, ok := lookupBundle(cfg.Package)
		if !ok {
			return nil, errors.New(errors.CodeInvalidConfiguration,
				"could not resolve resource '%s' from package '%s': no such bundle",
				cfg.Resource, cfg.Package)
		}
		sub, err := fs.Sub(bundle, cfg.Resource)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidConfiguration,
				"could not resolve resource '%s' from package '%s': %v",
				cfg.Resource, cfg.Package, err)
		}
		files = sub

	default:
		return nil, errors.New(errors.CodeInvalidConfiguration, "static path is missing a web spec")
	}

	h := &staticHandler{
		files:        files,
		cacheTimeout: defaultCacheTimeout,
	}
	if opts := cfg.StaticOptions; opts != nil {
		h.listing = opts.EnableDirectoryListing
		h.mimeTypes = opts.MimeTypes
		if opts.CacheTimeout != nil {
			h.cacheTimeout = *opts.CacheTimeout
		}
	}
	return normalizePath(h), nil
}

// staticHandler serves a file tree with configurable directory listing,
// cache lifetime and MIME overrides. Misses render the 404 page.
type staticHandler struct {
	files        fs.FS
	listing      bool
	cacheTimeout int
	mimeTypes    map[string]string
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		serveErrorPage(w, http.StatusNotFound, "no resource at this path")
		return
	}

	info, err := fs.Stat(h.files, name)
	if err != nil {
		serveErrorPage(w, http.StatusNotFound, "no resource at this path")
		return
	}

	if info.IsDir() {
		index := path.Join(name, "index.html")
		if _, idxErr := fs.Stat(h.files, index); idxErr == nil {
			name = index
		} else if h.listing {
			h.serveListing(w, name)
			return
		} else {
			serveErrorPage(w, http.StatusForbidden, "directory listing is disabled")
			return
		}
	}

	if ct := h.contentType(name); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if h.cacheTimeout > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", h.cacheTimeout))
	}
	http.ServeFileFS(w, r, h.files, name)
}

func (h *staticHandler) contentType(name string) string {
	ext := path.Ext(name)
	if ct, ok := h.mimeTypes[ext]; ok {
		return ct
	}
	if ct, ok := extraMimeTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

func (h *staticHandler) serveListing(w http.ResponseWriter, dir string) {
	entries, err := fs.ReadDir(h.files, dir)
	if err != nil {
		serveErrorPage(w, http.StatusInternalServerError, "could not read directory")
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><h1>Directory listing</h1><ul>")
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintf(w, `<li><a href="%s">%s</a></li>`, name, name)
	}
	fmt.Fprintf(w, "</ul></body></html>")
}

func (b *Builder) buildWSGI(cfg *config.Path, _ bool) (http.Handler, error) {
	h, ok := lookupHandler(cfg.Module, cfg.Object)
	if !ok {
		return nil, errors.New(errors.CodeInvalidConfiguration,
			"handler object '%s' not registered in module '%s'", cfg.Object, cfg.Module)
	}

	threads := cfg.MaxThreads
	if threads <= 0 {
		threads = defaultHandlerThreads
	}

	// The pool starts lazily on the first request and is stopped when the
	// transport's tree closes.
	pool := worker.NewPool(threads, 4*threads)
	b.pools = append(b.pools, pool)

	return normalizePath(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Execute(r.Context(), func() { h.ServeHTTP(w, r) }); err != nil {
			serveErrorPage(w, http.StatusServiceUnavailable, "handler pool unavailable")
		}
	})), nil
}

func (b *Builder) buildCGI(cfg *config.Path, _ bool) (http.Handler, error) {
	dir := cfg.Directory
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(b.deps.WorkDir, dir)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.CodeInvalidConfiguration,
			"cgi path directory '%s' does not exist", dir)
	}
	return normalizePath(&cgiDirectory{dir: dir, processor: cfg.Processor}), nil
}

// cgiDirectory runs one script per request through the configured processor,
// resolving the script from the first path segment under the directory.
type cgiDirectory struct {
	dir       string
	processor string
}

func (h *cgiDirectory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	script := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if script == "" || strings.Contains(script, "/") {
		serveErrorPage(w, http.StatusNotFound, "no script at this path")
		return
	}
	full := filepath.Join(h.dir, script)
	if _, err := os.Stat(full); err != nil {
		serveErrorPage(w, http.StatusNotFound, "no script at this path")
		return
	}
	handler := &cgi.Handler{
		Path: h.processor,
		Args: []string{full},
		Dir:  h.dir,
	}
	handler.ServeHTTP(w, r)
}

func (b *Builder) buildResource(cfg *config.Path, _ bool) (http.Handler, error) {
	ctor, ok := lookupResourceClass(cfg.Classname)
	if !ok {
		return nil, errors.New(errors.CodeClassImportFailed,
			"failed to import class '%s': not registered", cfg.Classname)
	}
	h, err := ctor(cfg.Extra)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeClassImportFailed,
			"Builder", "buildResource", fmt.Sprintf("constructing class '%s'", cfg.Classname))
	}
	return normalizePath(h), nil
}

func (b *Builder) buildSchemaDoc(cfg *config.Path, _ bool) (http.Handler, error) {
	if b.deps.Schemas == nil {
		return nil, errors.New(errors.CodeNoSuchObject, "no realm with URI '%s' configured", cfg.Realm)
	}
	schemas, ok := b.deps.Schemas.SchemasByRealmURI(cfg.Realm)
	if !ok {
		return nil, errors.New(errors.CodeNoSuchObject, "no realm with URI '%s' configured", cfg.Realm)
	}
	doc := map[string]any{
		"realm":   cfg.Realm,
		"schemas": schemas,
	}
	return exactPath(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		writeJSON(w, doc)
	})), nil
}

func (b *Builder) buildNested(cfg *config.Path, _ bool) (http.Handler, error) {
	return b.buildContainer(cfg.Paths, true)
}

// buildContainer assembles a subtree: the "/" entry becomes the subtree root
// (defaulting to 404) and the other paths are mounted as children.
func (b *Builder) buildContainer(paths map[string]*config.Path, rootNested bool) (http.Handler, error) {
	mux := chi.NewRouter()

	var root http.Handler
	if rootCfg, ok := paths["/"]; ok {
		built, err := b.Build(rootCfg, rootNested)
		if err != nil {
			return nil, err
		}
		root = built
	} else {
		root = b.notFound()
	}

	if err := b.AttachChildren(mux, paths); err != nil {
		return nil, err
	}

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		root.ServeHTTP(w, r)
	})
	return mux, nil
}

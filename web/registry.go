package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"sync"

	"github.com/Paranaix/crossbar/errors"
)

// ResourceConstructor builds a generic resource from the path config's
// "extra" value. Registered constructors run arbitrary code at build time by
// design; whoever registers them is trusted.
type ResourceConstructor func(extra json.RawMessage) (http.Handler, error)

// registries holds the process-global lookup tables the builder dispatches
// into: synchronous handlers for wsgi paths, constructors for generic
// resource paths, and named bundles for package-sourced static paths.
var registries = struct {
	mu       sync.RWMutex
	handlers map[string]http.Handler
	classes  map[string]ResourceConstructor
	bundles  map[string]fs.FS
}{
	handlers: make(map[string]http.Handler),
	classes:  make(map[string]ResourceConstructor),
	bundles:  make(map[string]fs.FS),
}

// RegisterHandler registers a synchronous handler under a module/object
// name pair for use by wsgi paths.
func RegisterHandler(module, object string, h http.Handler) error {
	if module == "" || object == "" || h == nil {
		return errors.New(errors.CodeInvalidConfiguration, "handler registration requires module, object and handler")
	}
	key := module + "." + object
	registries.mu.Lock()
	defer registries.mu.Unlock()
	if _, exists := registries.handlers[key]; exists {
		return errors.New(errors.CodeAlreadyExists, "handler '%s' already registered", key)
	}
	registries.handlers[key] = h
	return nil
}

// RegisterResourceClass registers a constructor under a dotted class name
// for use by resource paths.
func RegisterResourceClass(classname string, ctor ResourceConstructor) error {
	if classname == "" || ctor == nil {
		return errors.New(errors.CodeInvalidConfiguration, "resource class registration requires classname and constructor")
	}
	registries.mu.Lock()
	defer registries.mu.Unlock()
	if _, exists := registries.classes[classname]; exists {
		return errors.New(errors.CodeAlreadyExists, "resource class '%s' already registered", classname)
	}
	registries.classes[classname] = ctor
	return nil
}

// RegisterBundle registers a named file tree (typically an embed.FS) that
// static paths can reference through their "package" field.
func RegisterBundle(name string, files fs.FS) error {
	if name == "" || files == nil {
		return errors.New(errors.CodeInvalidConfiguration, "bundle registration requires name and file tree")
	}
	registries.mu.Lock()
	defer registries.mu.Unlock()
	if _, exists := registries.bundles[name]; exists {
		return errors.New(errors.CodeAlreadyExists, "bundle '%s' already registered", name)
	}
	registries.bundles[name] = files
	return nil
}

func lookupHandler(module, object string) (http.Handler, bool) {
	registries.mu.RLock()
	defer registries.mu.RUnlock()
	h, ok := registries.handlers[module+"."+object]
	return h, ok
}

func lookupResourceClass(classname string) (ResourceConstructor, bool) {
	registries.mu.RLock()
	defer registries.mu.RUnlock()
	ctor, ok := registries.classes[classname]
	return ctor, ok
}

func lookupBundle(name string) (fs.FS, bool) {
	registries.mu.RLock()
	defer registries.mu.RUnlock()
	b, ok := registries.bundles[name]
	return b, ok
}

package worker

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/endpoint"
	"github.com/Paranaix/crossbar/errors"
	"github.com/Paranaix/crossbar/web"
)

// transportServer runs one listener's serving loop.
type transportServer interface {
	serve(l net.Listener)
	close(ctx context.Context) error
}

// transportBuilder constructs the serving side of one transport kind. A web
// builder is returned for composite web transports so the transport entity
// can release the tree's sessions and pools on stop.
type transportBuilder func(w *RouterWorker, cfg *config.Transport) (transportServer, *web.Builder, error)

// transportBuilders is the closed table over transport types. Unknown types
// are rejected by config validation before dispatch.
var transportBuilders = map[string]transportBuilder{
	config.TransportRawSocket:     buildRawSocketTransport,
	config.TransportWebSocket:     buildWebSocketTransport,
	config.TransportFlashPolicy:   buildFlashPolicyTransport,
	config.TransportWebSocketTest: buildWebSocketTesteeTransport,
	config.TransportStreamTest:    buildStreamTesteeTransport,
	config.TransportWeb:           buildWebTransport,
}

// GetTransports lists the running transports ordered by creation time.
func (w *RouterWorker) GetTransports() []map[string]any {
	entities := w.transports.list()
	out := make([]map[string]any, len(entities))
	for i, e := range entities {
		out[i] = e.marshal()
	}
	return out
}

// StartTransport binds a listener for one transport. The id is reserved
// before the serving state is built or the port bound, and released again on
// any failure, so a failed start leaves no trace and concurrent starts of
// the same id cannot both win.
func (w *RouterWorker) StartTransport(_ context.Context, id string, cfg *config.Transport) (map[string]any, error) {
	if err := cfg.Validate(); err != nil {
		w.metrics.startFailed("transport")
		return nil, err
	}

	if !w.transports.reserve(id) {
		w.metrics.startFailed("transport")
		return nil, errors.New(errors.CodeAlreadyRunning,
			"could not start transport: a transport with ID '%s' is already running", id)
	}

	fail := func(err error) (map[string]any, error) {
		w.transports.release(id)
		w.metrics.startFailed("transport")
		return nil, err
	}

	build := transportBuilders[cfg.Type]
	server, builder, err := build(w, cfg)
	if err != nil {
		return fail(err)
	}

	listener, err := endpoint.Listen(&cfg.Endpoint, w.workDir)
	if err != nil {
		if builder != nil {
			builder.Close()
		}
		return fail(errors.Wrap(err, errors.CodeCannotListen,
			"RouterWorker", "StartTransport", "binding transport endpoint"))
	}

	go server.serve(listener)

	entity := &transportEntity{
		id:       id,
		created:  time.Now().UTC(),
		config:   cfg,
		listener: listener,
		server:   server,
		builder:  builder,
	}
	w.transports.commit(id, entity)
	w.metrics.started("transport")
	w.logger.Info("transport started",
		"transport", id, "type", cfg.Type, "address", listener.Addr().String())
	return entity.marshal(), nil
}

// StopTransport closes a transport's listener and removes it.
func (w *RouterWorker) StopTransport(ctx context.Context, id string) (map[string]any, error) {
	entity, ok := w.transports.get(id)
	if !ok {
		w.metrics.stopFailed("transport")
		return nil, errors.New(errors.CodeNotRunning,
			"could not stop transport: no transport with ID '%s' running", id)
	}

	if err := entity.stop(ctx); err != nil {
		w.metrics.stopFailed("transport")
		return nil, errors.Wrap(err, errors.CodeCannotStop,
			"RouterWorker", "StopTransport", "closing transport listener")
	}

	w.transports.remove(id)
	w.metrics.stopped("transport")
	w.logger.Info("transport stopped", "transport", id)
	return map[string]any{"id": id}, nil
}

// webDeps assembles the builder dependencies for a web transport tree.
func (w *RouterWorker) webDeps() web.Deps {
	return web.Deps{
		Sessions: w.sessions,
		Schemas:  w,
		WorkDir:  w.workDir,
		Logger:   w.logger,
	}
}

// buildWebTransport materializes the resource tree and applies the transport
// options: access logging, traceback display and HSTS. HSTS without TLS on
// the endpoint is warned about and skipped.
func buildWebTransport(w *RouterWorker, cfg *config.Transport) (transportServer, *web.Builder, error) {
	builder := web.NewBuilder(w.webDeps())
	handler, err := builder.BuildTree(cfg.Paths)
	if err != nil {
		return nil, nil, err
	}

	opts := cfg.Options
	if opts == nil {
		opts = &config.WebOptions{}
	}

	displayTracebacks := opts.DisplayTracebacks
	handler = web.Recoverer(w.logger, displayTracebacks)(handler)

	if opts.HSTS {
		if cfg.Endpoint.TLS != nil {
			maxAge := opts.HSTSMaxAge
			if maxAge <= 0 {
				maxAge = 31536000
			}
			handler = web.HSTS(maxAge)(handler)
		} else {
			w.logger.Warn("HSTS requested for a transport without TLS, skipping")
		}
	}

	if opts.AccessLog {
		handler = web.AccessLog(w.logger)(handler)
	}

	return newHTTPTransport(handler, w), builder, nil
}

// buildWebSocketTransport serves a single websocket endpoint at the root,
// reusing the web tree's websocket resource.
func buildWebSocketTransport(w *RouterWorker, cfg *config.Transport) (transportServer, *web.Builder, error) {
	builder := web.NewBuilder(w.webDeps())
	handler, err := builder.Build(&config.Path{Type: config.PathWebSocket}, false)
	if err != nil {
		return nil, nil, err
	}
	return newHTTPTransport(handler, w), builder, nil
}

// httpTransport wraps an http.Server around a listener.
type httpTransport struct {
	srv    *http.Server
	worker *RouterWorker
}

func newHTTPTransport(handler http.Handler, w *RouterWorker) *httpTransport {
	return &httpTransport{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		worker: w,
	}
}

func (t *httpTransport) serve(l net.Listener) {
	if err := t.srv.Serve(l); err != nil && err != http.ErrServerClosed {
		t.worker.logger.Error("web transport serving loop ended", "error", err)
	}
}

func (t *httpTransport) close(ctx context.Context) error {
	return t.srv.Shutdown(ctx)
}

// Package natsclient wraps NATS connection setup with the options this node
// needs: client naming, connect timeouts, TLS and drain-aware close.
package natsclient

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Options configures a connection.
type Options struct {
	// Name identifies the client on the server side.
	Name string

	// ConnectTimeout bounds the initial dial. Zero means 5s.
	ConnectTimeout time.Duration

	// MaxReconnects limits reconnect attempts; negative means unlimited.
	MaxReconnects int

	// ReconnectWait is the pause between reconnect attempts. Zero means 2s.
	ReconnectWait time.Duration

	// TLS certificate/key/CA file paths; all empty disables TLS config.
	TLSCert string
	TLSKey  string
	TLSCA   string
}

// Connect dials a NATS server and returns the live connection.
func Connect(url string, opts Options) (*nats.Conn, error) {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = 2 * time.Second
	}

	natsOpts := []nats.Option{
		nats.Timeout(opts.ConnectTimeout),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}
	if opts.TLSCert != "" && opts.TLSKey != "" {
		natsOpts = append(natsOpts, nats.ClientCert(opts.TLSCert, opts.TLSKey))
	}
	if opts.TLSCA != "" {
		natsOpts = append(natsOpts, nats.RootCAs(opts.TLSCA))
	}

	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Close drains the connection so in-flight messages are delivered, falling
// back to a hard close when draining fails or the timeout elapses.
func Close(nc *nats.Conn, timeout time.Duration) {
	if nc == nil || nc.IsClosed() {
		return
	}
	done := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(done) })
	if err := nc.Drain(); err != nil {
		nc.Close()
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
		nc.Close()
	}
}

package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/natsclient"
)

// DefaultUplinkTimeout bounds the upstream handshake when the uplink config
// does not set one.
const DefaultUplinkTimeout = 10 * time.Second

// NATSBridgeFactory creates uplink bridges that forward a local realm's
// traffic to an upstream router over a dedicated NATS connection.
type NATSBridgeFactory struct {
	logger *slog.Logger
}

// NewBridgeFactory creates an uplink bridge factory.
func NewBridgeFactory(logger *slog.Logger) *NATSBridgeFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBridgeFactory{logger: logger}
}

// NewBridge implements BridgeFactory.
func (f *NATSBridgeFactory) NewBridge(realmURI string, cfg config.Uplink) Bridge {
	b := &natsBridge{
		LocalSession: NewLocalSession(realmURI, f.logger),
		cfg:          cfg,
		logger:       f.logger.With("realm", realmURI, "uplink", cfg.URL),
		ready:        make(chan error, 1),
	}
	// The upstream handshake starts once the session factory attaches the
	// local side; until then the bridge is a plain detached session.
	b.OnJoin(b.connect)
	b.OnLeave(func() { b.closeRemote() })
	return b
}

// natsBridge is the uplink session: a local session on the bridged realm
// plus a remote connection that local traffic is forwarded onto.
type natsBridge struct {
	*LocalSession

	cfg    config.Uplink
	logger *slog.Logger

	mu     sync.Mutex
	remote *nats.Conn

	ready chan error
	once  sync.Once
}

// connect dials upstream and installs the forwarding subscription. It runs
// on the join hook, so WaitReady observes the original fault when the
// handshake fails.
func (b *natsBridge) connect() {
	timeout := b.cfg.ConnectTimeout.Std()
	if timeout == 0 {
		timeout = DefaultUplinkTimeout
	}

	remote, err := natsclient.Connect(b.cfg.URL, natsclient.Options{
		Name:           "crossbar-uplink-" + b.ID(),
		ConnectTimeout: timeout,
	})
	if err != nil {
		b.signalReady(err)
		return
	}

	upstreamRealm := b.cfg.Realm
	if upstreamRealm == "" {
		upstreamRealm = b.RealmURI()
	}
	remotePrefix := realmPrefix(upstreamRealm)

	// Forward everything published on the local realm namespace onto the
	// upstream realm namespace. Topics arrive already stripped of the local
	// prefix.
	_, err = b.Subscribe(">", func(topic string, payload []byte) {
		subject := remotePrefix + "." + topic
		if pubErr := remote.Publish(subject, payload); pubErr != nil {
			b.logger.Warn("uplink forward failed", "topic", topic, "error", pubErr)
		}
	})
	if err != nil {
		remote.Close()
		b.signalReady(err)
		return
	}

	b.mu.Lock()
	b.remote = remote
	b.mu.Unlock()

	b.logger.Info("realm connected to uplink router")
	b.signalReady(nil)
}

func (b *natsBridge) signalReady(err error) {
	b.once.Do(func() {
		b.ready <- err
		close(b.ready)
	})
}

func (b *natsBridge) closeRemote() {
	b.mu.Lock()
	remote := b.remote
	b.remote = nil
	b.mu.Unlock()
	natsclient.Close(remote, 5*time.Second)
}

// WaitReady implements Bridge.
func (b *natsBridge) WaitReady(ctx context.Context) error {
	select {
	case err := <-b.ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect drops the local session and the upstream connection.
func (b *natsBridge) Disconnect() {
	b.closeRemote()
	b.LocalSession.Disconnect()
}

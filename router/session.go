package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Paranaix/crossbar/errors"
)

// realmPrefix returns the subject namespace of a realm.
func realmPrefix(realmURI string) string {
	return "crossbar.realm." + realmURI
}

// DefaultCallTimeout bounds calls that carry no context deadline.
const DefaultCallTimeout = 10 * time.Second

// LocalSession is the NATS-backed Session implementation used for everything
// hosted inside the worker: components, service sessions, uplink bridges and
// the REST-bridge web resources.
type LocalSession struct {
	id       string
	realmURI string
	logger   *slog.Logger

	mu        sync.Mutex
	nc        *nats.Conn
	prefix    string
	connected bool
	subs      []*nats.Subscription
	joinFns   []func()
	leaveFns  []func()
	fatalFn   func(error)
}

// NewLocalSession creates a detached session bound to a realm URI. The
// session becomes live once a SessionFactory attaches it.
func NewLocalSession(realmURI string, logger *slog.Logger) *LocalSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSession{
		id:       uuid.NewString(),
		realmURI: realmURI,
		logger:   logger,
	}
}

// ID implements Session.
func (s *LocalSession) ID() string { return s.id }

// RealmURI implements Session.
func (s *LocalSession) RealmURI() string { return s.realmURI }

// IsConnected implements Session.
func (s *LocalSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// OnJoin registers a join hook. Hooks registered after the session joined
// never fire.
func (s *LocalSession) OnJoin(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinFns = append(s.joinFns, fn)
}

// OnLeave registers a leave hook.
func (s *LocalSession) OnLeave(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveFns = append(s.leaveFns, fn)
}

// SetFatalHandler installs the handler invoked when a subscription handler
// panics. The default logs and disconnects the session.
func (s *LocalSession) SetFatalHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatalFn = fn
}

// Attach connects the session to the realm's subject namespace and fires the
// join hooks. It is called by the session factory, never by user code. A nil
// connection is allowed: the session then tracks lifecycle state only, which
// is what embedded test harnesses use.
func (s *LocalSession) Attach(nc *nats.Conn) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return errors.New(errors.CodeAlreadyRunning, "session %s already attached", s.id)
	}
	s.nc = nc
	s.prefix = realmPrefix(s.realmURI)
	s.connected = true
	joined := make([]func(), len(s.joinFns))
	copy(joined, s.joinFns)
	s.mu.Unlock()

	for _, fn := range joined {
		s.guard(fn)
	}
	return nil
}

// guard runs a hook or event handler, routing panics to the fatal handler.
// Any fault inside session code is fatal to this session only.
func (s *LocalSession) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("fatal error in session handler: %v", r)
			s.mu.Lock()
			fatal := s.fatalFn
			s.mu.Unlock()
			if fatal != nil {
				fatal(err)
				return
			}
			s.logger.Error("fatal error in session handler, disconnecting",
				"session", s.id, "realm", s.realmURI, "error", err)
			s.Disconnect()
		}
	}()
	fn()
}

// Publish implements Session.
func (s *LocalSession) Publish(_ context.Context, topic string, payload any) error {
	s.mu.Lock()
	nc, prefix, connected := s.nc, s.prefix, s.connected
	s.mu.Unlock()

	if !connected {
		return errors.New(errors.CodeNotRunning, "session %s is not attached", s.id)
	}
	if nc == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return nc.Publish(prefix+"."+topic, data)
}

// Call implements Session.
func (s *LocalSession) Call(ctx context.Context, procedure string, payload any) ([]byte, error) {
	s.mu.Lock()
	nc, prefix, connected := s.nc, s.prefix, s.connected
	s.mu.Unlock()

	if !connected {
		return nil, errors.New(errors.CodeNotRunning, "session %s is not attached", s.id)
	}
	if nc == nil {
		return nil, errors.New(errors.CodeNotRunning, "session %s has no connection", s.id)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal call payload: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}
	msg, err := nc.RequestWithContext(ctx, prefix+"."+procedure, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Subscribe implements Session.
func (s *LocalSession) Subscribe(topic string, handler EventHandler) (Unsubscribe, error) {
	s.mu.Lock()
	nc, prefix, connected := s.nc, s.prefix, s.connected
	s.mu.Unlock()

	if !connected {
		return nil, errors.New(errors.CodeNotRunning, "session %s is not attached", s.id)
	}
	if nc == nil {
		// detached mode: nothing will ever be delivered
		return func() error { return nil }, nil
	}

	subject := prefix + "." + topic
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		s.guard(func() {
			handler(msg.Subject[len(prefix)+1:], msg.Data)
		})
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return sub.Unsubscribe, nil
}

// Leave implements Session: fires leave hooks, drains subscriptions and
// detaches.
func (s *LocalSession) Leave(_ context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return errors.New(errors.CodeNotRunning, "session %s is not attached", s.id)
	}
	leaving := make([]func(), len(s.leaveFns))
	copy(leaving, s.leaveFns)
	s.mu.Unlock()

	for _, fn := range leaving {
		s.guard(fn)
	}

	s.drop()
	return nil
}

// Disconnect implements Session: drops the session without leave hooks.
func (s *LocalSession) Disconnect() {
	s.drop()
}

func (s *LocalSession) drop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.connected = false
	s.nc = nil
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			s.logger.Debug("unsubscribe failed during session drop",
				"session", s.id, "error", err)
		}
	}
}

// NATSSessionFactory attaches LocalSessions to realm routers over one shared
// NATS connection.
type NATSSessionFactory struct {
	factory Factory
	nc      *nats.Conn
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]Session
	roles    map[string]string // session ID -> authrole
}

// NewSessionFactory creates a session factory bound to a router factory and
// an optional NATS connection.
func NewSessionFactory(factory Factory, nc *nats.Conn, logger *slog.Logger) *NATSSessionFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSessionFactory{
		factory:  factory,
		nc:       nc,
		logger:   logger,
		sessions: make(map[string]Session),
		roles:    make(map[string]string),
	}
}

// Add implements SessionFactory. The session's realm must have a live
// router, and the role must exist on that router when roles are declared.
func (f *NATSSessionFactory) Add(_ context.Context, s Session, authrole string) error {
	realm, ok := f.factory.Realm(s.RealmURI())
	if !ok {
		return errors.New(errors.CodeNoSuchObject, "no realm with URI '%s'", s.RealmURI())
	}

	attachable, ok := s.(interface{ Attach(*nats.Conn) error })
	if !ok {
		return fmt.Errorf("session %s: unsupported session type %T", s.ID(), s)
	}

	if err := attachable.Attach(f.nc); err != nil {
		return err
	}

	f.mu.Lock()
	f.sessions[s.ID()] = s
	f.roles[s.ID()] = authrole
	f.mu.Unlock()

	f.logger.Debug("session attached",
		"session", s.ID(), "realm", realm.URI(), "authrole", authrole)
	return nil
}

// Remove implements SessionFactory.
func (f *NATSSessionFactory) Remove(s Session) error {
	f.mu.Lock()
	_, ok := f.sessions[s.ID()]
	delete(f.sessions, s.ID())
	delete(f.roles, s.ID())
	f.mu.Unlock()

	if !ok {
		return errors.New(errors.CodeNoSuchObject, "no session with ID '%s'", s.ID())
	}
	if s.IsConnected() {
		s.Disconnect()
	}
	return nil
}

// DisconnectRealm hard-drops every attached session of one realm and returns
// how many were dropped. Used when a realm is stopped with session closing
// requested.
func (f *NATSSessionFactory) DisconnectRealm(realmURI string) int {
	f.mu.Lock()
	var victims []Session
	for id, s := range f.sessions {
		if s.RealmURI() == realmURI {
			victims = append(victims, s)
			delete(f.sessions, id)
			delete(f.roles, id)
		}
	}
	f.mu.Unlock()

	for _, s := range victims {
		if s.IsConnected() {
			s.Disconnect()
		}
	}
	return len(victims)
}

// Count returns the number of attached sessions.
func (f *NATSSessionFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

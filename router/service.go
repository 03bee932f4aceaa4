package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// ServiceSession is the per-realm service session. It owns the realm's
// schema metadata and performs its own setup (meta-topic subscriptions)
// before declaring itself ready; the realm is only committed once that
// happened.
type ServiceSession struct {
	*LocalSession

	mu      sync.RWMutex
	schemas map[string]json.RawMessage

	ready chan error
	once  sync.Once
}

// NewServiceSession creates the service session for a realm, optionally
// seeded with an initial schema dictionary.
func NewServiceSession(realmURI string, schemas map[string]json.RawMessage, logger *slog.Logger) *ServiceSession {
	if schemas == nil {
		schemas = make(map[string]json.RawMessage)
	}
	s := &ServiceSession{
		LocalSession: NewLocalSession(realmURI, logger),
		schemas:      schemas,
		ready:        make(chan error, 1),
	}
	s.OnJoin(s.setup)
	return s
}

// setup runs once the session factory attached the session. Setup failures
// propagate through WaitReady so the caller never commits a half-initialized
// realm.
func (s *ServiceSession) setup() {
	_, err := s.Subscribe("meta.schema.define", func(_ string, payload []byte) {
		var define struct {
			URI    string          `json:"uri"`
			Schema json.RawMessage `json:"schema"`
		}
		if jsonErr := json.Unmarshal(payload, &define); jsonErr != nil || define.URI == "" {
			return
		}
		s.mu.Lock()
		s.schemas[define.URI] = define.Schema
		s.mu.Unlock()
	})
	s.once.Do(func() {
		s.ready <- err
		close(s.ready)
	})
}

// WaitReady blocks until the session finished its setup or ctx is done.
func (s *ServiceSession) WaitReady(ctx context.Context) error {
	select {
	case err := <-s.ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schemas returns a copy of the realm's schema dictionary.
func (s *ServiceSession) Schemas() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.schemas))
	for uri, schema := range s.schemas {
		out[uri] = schema
	}
	return out
}

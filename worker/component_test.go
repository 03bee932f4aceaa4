package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranaix/crossbar/config"
	xerrors "github.com/Paranaix/crossbar/errors"
	"github.com/Paranaix/crossbar/router"
)

func componentConfig(componentType string) *config.Component {
	return &config.Component{Type: componentType, Realm: "com.example.app"}
}

// echoLoader builds detached local sessions and records what it was given.
type echoLoader struct {
	mu    sync.Mutex
	calls []ComponentDeps
	delay time.Duration
	err   error
}

func (l *echoLoader) load(cfg *config.Component, deps ComponentDeps) (router.Session, error) {
	l.mu.Lock()
	l.calls = append(l.calls, deps)
	delay, err := l.delay, l.err
	l.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return router.NewLocalSession(cfg.Realm, deps.Logger), nil
}

func TestRegisterComponentLoader(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	loader := &echoLoader{}

	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	err := w.RegisterComponentLoader("echo", loader.load)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeAlreadyExists, xerrors.CodeOf(err))

	err = w.RegisterComponentLoader("", loader.load)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidConfiguration, xerrors.CodeOf(err))
}

func TestStartComponent(t *testing.T) {
	w, _, sf, _ := newTestWorker(t)
	loader := &echoLoader{}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	result, err := w.StartComponent(context.Background(), "comp1", componentConfig("echo"), "")
	require.NoError(t, err)
	assert.Equal(t, "comp1", result["id"])
	assert.Contains(t, result, "uptime")

	components := w.GetComponents()
	require.Len(t, components, 1)
	assert.Equal(t, "comp1", components[0]["id"])

	// the component session joins under the default role
	session := sf.lastAdded()
	require.NotNil(t, session)
	assert.Equal(t, "anonymous", sf.roleOf(session))
	assert.Equal(t, "com.example.app", session.RealmURI())
}

func TestStartComponentWithRole(t *testing.T) {
	w, _, sf, _ := newTestWorker(t)
	loader := &echoLoader{}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	cfg := componentConfig("echo")
	cfg.Role = "backend"
	_, err := w.StartComponent(context.Background(), "comp1", cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "backend", sf.roleOf(sf.lastAdded()))
}

func TestStartComponentUnknownType(t *testing.T) {
	w, _, _, _ := newTestWorker(t)

	_, err := w.StartComponent(context.Background(), "comp1", componentConfig("frobnicator"), "")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidConfiguration, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "invalid component type 'frobnicator'")
	assert.Empty(t, w.GetComponents())
}

func TestStartComponentLoaderFailure(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	loader := &echoLoader{err: errors.New("constructor blew up")}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	_, err := w.StartComponent(context.Background(), "comp1", componentConfig("echo"), "")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeClassImportFailed, xerrors.CodeOf(err))
	assert.Empty(t, w.GetComponents())

	// the id is reusable after the failure
	loader.mu.Lock()
	loader.err = nil
	loader.mu.Unlock()
	_, err = w.StartComponent(context.Background(), "comp1", componentConfig("echo"), "")
	require.NoError(t, err)
}

func TestStartComponentDuplicateID(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	loader := &echoLoader{}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	_, err := w.StartComponent(context.Background(), "comp1", componentConfig("echo"), "")
	require.NoError(t, err)

	_, err = w.StartComponent(context.Background(), "comp1", componentConfig("echo"), "")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeAlreadyRunning, xerrors.CodeOf(err))
	assert.Len(t, w.GetComponents(), 1)
}

func TestStartComponentConcurrentSameID(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	loader := &echoLoader{delay: 10 * time.Millisecond}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	const attempts = 16
	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.StartComponent(context.Background(), "comp1", componentConfig("echo"), "")
			if err == nil {
				successes.Add(1)
			} else {
				assert.Equal(t, xerrors.CodeAlreadyRunning, xerrors.CodeOf(err))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Len(t, w.GetComponents(), 1)
}

func TestComponentReferences(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	w.connections = map[string]*nats.Conn{"db": nil}
	loader := &echoLoader{}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	tests := []struct {
		name       string
		references []string
		wantErr    string
	}{
		{name: "resolvable connection", references: []string{"connection:db"}},
		{name: "unknown connection", references: []string{"connection:ghost"},
			wantErr: "could not resolve connection 'ghost'"},
		{name: "unknown kind", references: []string{"realm:realm1"},
			wantErr: "unknown reference kind in 'realm:realm1'"},
		{name: "malformed", references: []string{"db"},
			wantErr: "invalid component reference 'db'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := componentConfig("echo")
			cfg.References = tt.references
			_, err := w.StartComponent(context.Background(), "comp-"+tt.name, cfg, "")
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, xerrors.CodeInvalidConfiguration, xerrors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStopComponent(t *testing.T) {
	w, _, sf, _ := newTestWorker(t)
	loader := &echoLoader{}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	_, err := w.StopComponent(context.Background(), "comp1")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeNoSuchObject, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "no component with ID 'comp1' running")

	_, err = w.StartComponent(context.Background(), "comp1", componentConfig("echo"), "")
	require.NoError(t, err)
	session := sf.lastAdded()

	result, err := w.StopComponent(context.Background(), "comp1")
	require.NoError(t, err)
	assert.Equal(t, "comp1", result["id"])
	assert.Empty(t, w.GetComponents())
	assert.False(t, session.IsConnected())
}

func TestComponentFaultDisconnectsOnlyItself(t *testing.T) {
	w, _, sf, _ := newTestWorker(t)
	require.NoError(t, w.RegisterComponentLoader("faulty",
		func(cfg *config.Component, deps ComponentDeps) (router.Session, error) {
			s := router.NewLocalSession(cfg.Realm, deps.Logger)
			s.OnJoin(func() { panic("handler blew up") })
			return s, nil
		}))
	loader := &echoLoader{}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	_, err := w.StartComponent(context.Background(), "comp1", componentConfig("faulty"), "")
	require.NoError(t, err)
	_, err = w.StartComponent(context.Background(), "comp2", componentConfig("echo"), "")
	require.NoError(t, err)

	sf.mu.Lock()
	first, second := sf.added[0], sf.added[1]
	sf.mu.Unlock()

	// the fault in comp1's join hook disconnected comp1, nothing else
	assert.False(t, first.IsConnected())
	assert.True(t, second.IsConnected())
	assert.Len(t, w.GetComponents(), 2)
}

package worker

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranaix/crossbar/config"
)

func TestClose(t *testing.T) {
	w, rf, sf, _ := newTestWorker(t)
	loader := &echoLoader{}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	_, err := w.StartRealm(context.Background(), "realm1",
		realmConfig("com.example.app"), nil, false)
	require.NoError(t, err)
	_, err = w.StartRealmUplink(context.Background(), "realm1", "uplink1",
		&config.Uplink{URL: "nats://upstream.example.com:4222"})
	require.NoError(t, err)
	_, err = w.StartComponent(context.Background(), "comp1", componentConfig("echo"), "")
	require.NoError(t, err)
	component := sf.lastAdded()

	cfg := transportConfig(config.TransportWeb, freePort(t))
	cfg.Paths = map[string]*config.Path{
		"/": {Type: config.PathJSON, Value: json.RawMessage(`{"a":1}`)},
	}
	_, err = w.StartTransport(context.Background(), "transport1", cfg)
	require.NoError(t, err)
	addr := transportAddr(t, w, "transport1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Close(ctx)

	assert.Empty(t, w.GetComponents())
	assert.Empty(t, w.GetTransports())
	assert.Empty(t, w.GetRealms())
	assert.Contains(t, rf.stoppedURIs(), "com.example.app")
	assert.False(t, component.IsConnected())

	_, dialErr := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, dialErr)
}

func TestCloseSkipsDeadComponentSessions(t *testing.T) {
	w, _, sf, _ := newTestWorker(t)
	loader := &echoLoader{}
	require.NoError(t, w.RegisterComponentLoader("echo", loader.load))

	_, err := w.StartComponent(context.Background(), "comp1", componentConfig("echo"), "")
	require.NoError(t, err)

	// the session died before shutdown; Close must not trip over it
	sf.lastAdded().Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Close(ctx)
	assert.Empty(t, w.GetComponents())
}

func TestCloseIsIdempotent(t *testing.T) {
	w, _, _, _ := newTestWorker(t)

	ctx := context.Background()
	w.Close(ctx)
	w.Close(ctx)
}

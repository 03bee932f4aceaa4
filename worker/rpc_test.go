package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Paranaix/crossbar/errors"
)

func TestProceduresCoverTheManagementSurface(t *testing.T) {
	w, _, _, _ := newTestWorker(t)

	want := []string{
		"get_router_realms", "start_router_realm", "stop_router_realm",
		"get_router_realm_roles", "start_router_realm_role", "stop_router_realm_role",
		"get_router_realm_uplinks", "start_router_realm_uplink", "stop_router_realm_uplink",
		"get_router_components", "start_router_component", "stop_router_component",
		"get_router_transports", "start_router_transport", "stop_router_transport",
	}
	procedures := w.procedures()
	assert.Len(t, procedures, len(want))
	for _, name := range want {
		assert.Contains(t, procedures, name)
	}
}

func TestRealmProcedureRoundTrip(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	procedures := w.procedures()

	result, err := procedures["start_router_realm"](context.Background(),
		json.RawMessage(`{"id":"realm1","config":{"name":"com.example.app"}}`))
	require.NoError(t, err)
	assert.Equal(t, "realm1", result.(map[string]any)["id"])

	result, err = procedures["get_router_realms"](context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, result, 1)

	result, err = procedures["stop_router_realm"](context.Background(),
		json.RawMessage(`{"id":"realm1"}`))
	require.NoError(t, err)
	assert.Equal(t, "realm1", result.(map[string]any)["id"])
	assert.Empty(t, w.GetRealms())
}

func TestProcedureParamValidation(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	procedures := w.procedures()

	tests := []struct {
		name      string
		procedure string
		params    string
	}{
		{name: "empty params", procedure: "start_router_realm", params: ""},
		{name: "malformed json", procedure: "start_router_realm", params: `{"id":`},
		{name: "missing id", procedure: "start_router_realm", params: `{"config":{"name":"com.example.app"}}`},
		{name: "missing config", procedure: "start_router_realm", params: `{"id":"realm1"}`},
		{name: "stop missing id", procedure: "stop_router_realm", params: `{}`},
		{name: "role missing realm", procedure: "start_router_realm_role",
			params: `{"role_id":"role1","config":{"name":"frontend"}}`},
		{name: "uplink missing ids", procedure: "start_router_realm_uplink",
			params: `{"config":{"url":"nats://upstream.example.com:4222"}}`},
		{name: "component missing config", procedure: "start_router_component", params: `{"id":"comp1"}`},
		{name: "transport missing config", procedure: "start_router_transport", params: `{"id":"t1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := procedures[tt.procedure](context.Background(), json.RawMessage(tt.params))
			require.Error(t, err)
			assert.Equal(t, xerrors.CodeInvalidConfiguration, xerrors.CodeOf(err))
		})
	}
}

func TestProcedureErrorsCarryTheirCode(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	procedures := w.procedures()

	_, err := procedures["stop_router_realm"](context.Background(),
		json.RawMessage(`{"id":"ghost"}`))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeNoSuchObject, xerrors.CodeOf(err))

	_, err = procedures["stop_router_transport"](context.Background(),
		json.RawMessage(`{"id":"ghost"}`))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeNotRunning, xerrors.CodeOf(err))
}

func TestManagementCallContainsHandlerPanic(t *testing.T) {
	w, _, _, _ := newTestWorker(t)

	handler := func(context.Context, json.RawMessage) (any, error) {
		panic("corrupted registry entry")
	}
	result, err := w.invoke(context.Background(), w.prefix+".start_router_transport", handler, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, xerrors.CodeRuntime, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "corrupted registry entry")

	// The worker keeps serving after a panicking call.
	_, err = w.procedures()["get_router_realms"](context.Background(), nil)
	assert.NoError(t, err)
}

func TestRegisterProceduresRequiresConnection(t *testing.T) {
	w, _, _, _ := newTestWorker(t)

	err := w.RegisterProcedures()
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidConfiguration, xerrors.CodeOf(err))
}

func TestPrefix(t *testing.T) {
	w, _, _, _ := newTestWorker(t)
	assert.Equal(t, "crossbar.node.node1.worker.router1", w.Prefix())
}

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranaix/crossbar/errors"
)

func TestRealmValidate(t *testing.T) {
	r := &Realm{Name: "com.example.realm1"}
	require.NoError(t, r.Validate())

	empty := &Realm{}
	err := empty.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalidConfiguration(err))
}

func TestComponentValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Component
		wantErr bool
	}{
		{
			name:   "minimal",
			config: Component{Type: "echo", Realm: "com.example.realm1"},
		},
		{
			name:   "with references",
			config: Component{Type: "echo", Realm: "realm1", References: []string{"connection:db1"}},
		},
		{
			name:    "missing type",
			config:  Component{Realm: "realm1"},
			wantErr: true,
		},
		{
			name:    "missing realm",
			config:  Component{Type: "echo"},
			wantErr: true,
		},
		{
			name:    "malformed reference",
			config:  Component{Type: "echo", Realm: "realm1", References: []string{"db1"}},
			wantErr: true,
		},
		{
			name:    "empty reference id",
			config:  Component{Type: "echo", Realm: "realm1", References: []string{"connection:"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidConfiguration(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransportValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Transport
		wantErr bool
	}{
		{
			name:   "rawsocket",
			config: Transport{Type: "rawsocket", Endpoint: Endpoint{Port: 9000}},
		},
		{
			name: "web with json root",
			config: Transport{
				Type:     "web",
				Endpoint: Endpoint{Port: 8080},
				Paths: map[string]*Path{
					"/": {Type: "json", Value: json.RawMessage(`{"a":1}`)},
				},
			},
		},
		{
			name:    "unknown transport type",
			config:  Transport{Type: "carrier-pigeon", Endpoint: Endpoint{Port: 8080}},
			wantErr: true,
		},
		{
			name:    "tcp endpoint without port",
			config:  Transport{Type: "websocket", Endpoint: Endpoint{}},
			wantErr: true,
		},
		{
			name: "web with unknown path type",
			config: Transport{
				Type:     "web",
				Endpoint: Endpoint{Port: 8080},
				Paths: map[string]*Path{
					"ws": {Type: "teleporter"},
				},
			},
			wantErr: true,
		},
		{
			name: "web with multi-segment path key",
			config: Transport{
				Type:     "web",
				Endpoint: Endpoint{Port: 8080},
				Paths: map[string]*Path{
					"a/b": {Type: "websocket"},
				},
			},
			wantErr: true,
		},
		{
			name: "web with route pattern braces in path key",
			config: Transport{
				Type:     "web",
				Endpoint: Endpoint{Port: 8080},
				Paths: map[string]*Path{
					"{bad": {Type: "websocket"},
				},
			},
			wantErr: true,
		},
		{
			name: "web with wildcard in path key",
			config: Transport{
				Type:     "web",
				Endpoint: Endpoint{Port: 8080},
				Paths: map[string]*Path{
					"ws*": {Type: "websocket"},
				},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidConfiguration(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPathValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Path
		wantErr bool
	}{
		{"websocket", Path{Type: "websocket"}, false},
		{"static with directory", Path{Type: "static", Directory: "web"}, false},
		{"static without source", Path{Type: "static"}, true},
		{"static package without resource", Path{Type: "static", Package: "assets"}, true},
		{"wsgi", Path{Type: "wsgi", Module: "app", Object: "handler"}, false},
		{"wsgi missing object", Path{Type: "wsgi", Module: "app"}, true},
		{"redirect", Path{Type: "redirect", URL: "https://example.com"}, false},
		{"redirect missing url", Path{Type: "redirect"}, true},
		{"json", Path{Type: "json", Value: json.RawMessage(`42`)}, false},
		{"json missing value", Path{Type: "json"}, true},
		{"cgi", Path{Type: "cgi", Directory: "cgi-bin", Processor: "/usr/bin/python"}, false},
		{"publisher missing realm", Path{Type: "publisher"}, true},
		{"upload missing form fields", Path{Type: "upload", Realm: "r", Directory: "up"}, true},
		{"resource", Path{Type: "resource", Classname: "myapp.Status"}, false},
		{"schemadoc", Path{Type: "schemadoc", Realm: "com.example.realm1"}, false},
		{"unknown type", Path{Type: "frob"}, true},
		{"empty type", Path{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidConfiguration(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNestedPathValidateRecurses(t *testing.T) {
	p := &Path{
		Type: "path",
		Paths: map[string]*Path{
			"/":   {Type: "json", Value: json.RawMessage(`{}`)},
			"bad": {Type: "nonsense"},
		},
	}
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalidConfiguration(err))
}

func TestNestedPathValidateRejectsRoutePatternSegments(t *testing.T) {
	for _, segment := range []string{"{bad", "bad}", "x*"} {
		p := &Path{
			Type: "path",
			Paths: map[string]*Path{
				segment: {Type: "websocket"},
			},
		}
		err := p.Validate()
		require.Error(t, err, "segment %q", segment)
		assert.True(t, errors.IsInvalidConfiguration(err), "segment %q", segment)
	}
}

func TestDurationJSON(t *testing.T) {
	var lp LongPollOptions
	require.NoError(t, json.Unmarshal([]byte(`{"request_timeout": 10, "session_timeout": 30}`), &lp))
	assert.Equal(t, "10s", lp.RequestTimeout.Std().String())
	assert.Equal(t, "30s", lp.SessionTimeout.Std().String())

	out, err := json.Marshal(lp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"request_timeout":10,"session_timeout":30}`, string(out))
}

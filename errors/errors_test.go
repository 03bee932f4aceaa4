package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationErrorMessage(t *testing.T) {
	err := New(CodeNoSuchObject, "No realm with ID '%s'", "realm1")
	assert.Equal(t, "crossbar.error.no_such_object: No realm with ID 'realm1'", err.Error())
	assert.Equal(t, CodeNoSuchObject, err.Code)
}

func TestWrapPreservesUnderlying(t *testing.T) {
	underlying := io.ErrUnexpectedEOF
	err := Wrap(underlying, CodeCannotListen, "RouterWorker", "StartRouterTransport", "bind failed")

	require.ErrorIs(t, err, underlying)
	assert.Equal(t, CodeCannotListen, CodeOf(err))
	assert.Equal(t, "RouterWorker", err.Component)
	assert.Contains(t, err.Error(), "bind failed")
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"application error", New(CodeAlreadyRunning, "dup"), CodeAlreadyRunning},
		{"wrapped application error", fmt.Errorf("outer: %w", New(CodeNotRunning, "gone")), CodeNotRunning},
		{"plain error", io.EOF, CodeRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestClassificationHelpers(t *testing.T) {
	assert.True(t, IsDuplicate(New(CodeAlreadyRunning, "x")))
	assert.True(t, IsDuplicate(New(CodeAlreadyExists, "x")))
	assert.False(t, IsDuplicate(New(CodeNoSuchObject, "x")))

	assert.True(t, IsNotFound(New(CodeNoSuchObject, "x")))
	assert.True(t, IsNotFound(New(CodeNotRunning, "x")))
	assert.False(t, IsNotFound(io.EOF))

	assert.True(t, IsInvalidConfiguration(New(CodeInvalidConfiguration, "x")))
}

func TestNotImplementedIsLoud(t *testing.T) {
	err := NotImplemented("RouterWorker", "StopRouterRealm")
	assert.Equal(t, CodeNotImplemented, err.Code)
	assert.Contains(t, err.Error(), "RouterWorker.StopRouterRealm")
}

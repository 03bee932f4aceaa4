package endpoint

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranaix/crossbar/config"
)

func TestListenTCP(t *testing.T) {
	ln, err := Listen(&config.Endpoint{Type: "tcp", Interface: "127.0.0.1", Port: 0}, "")
	// Port 0 asks the kernel for a free port; the config validator requires
	// an explicit port but the substrate itself does not care.
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	addr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, addr.Port)
}

func TestListenDefaultsToTCP(t *testing.T) {
	ln, err := Listen(&config.Endpoint{Interface: "127.0.0.1", Port: 0}, "")
	require.NoError(t, err)
	_ = ln.Close()
}

func TestListenUnix(t *testing.T) {
	dir := t.TempDir()
	ln, err := Listen(&config.Endpoint{Type: "unix", Path: "worker.sock"}, dir)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	assert.Equal(t, filepath.Join(dir, "worker.sock"), ln.Addr().String())
}

func TestListenUnknownType(t *testing.T) {
	_, err := Listen(&config.Endpoint{Type: "carrier-pigeon"}, "")
	require.Error(t, err)
}

func TestListenTLSRequiresValidKeyPair(t *testing.T) {
	_, err := Listen(&config.Endpoint{
		Type:      "tcp",
		Interface: "127.0.0.1",
		Port:      0,
		TLS:       &config.TLS{Certificate: "missing.crt", Key: "missing.key"},
	}, t.TempDir())
	require.Error(t, err)
}

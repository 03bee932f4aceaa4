// Package endpoint turns declarative endpoint configuration into live
// network listeners, including server-side TLS.
package endpoint

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/Paranaix/crossbar/config"
)

// Listen binds a listener for the given endpoint configuration. Relative TLS
// and socket paths are resolved against workDir.
func Listen(cfg *config.Endpoint, workDir string) (net.Listener, error) {
	var (
		ln  net.Listener
		err error
	)
	switch cfg.Type {
	case "", "tcp":
		addr := fmt.Sprintf("%s:%d", cfg.Interface, cfg.Port)
		ln, err = net.Listen("tcp", addr)
	case "unix":
		ln, err = net.Listen("unix", resolve(workDir, cfg.Path))
	default:
		return nil, fmt.Errorf("unknown endpoint type '%s'", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.TLS != nil {
		tlsConfig, tlsErr := serverTLS(cfg.TLS, workDir)
		if tlsErr != nil {
			_ = ln.Close()
			return nil, tlsErr
		}
		ln = tls.NewListener(ln, tlsConfig)
	}
	return ln, nil
}

// serverTLS loads the endpoint's certificate and optional client CA.
func serverTLS(cfg *config.TLS, workDir string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(resolve(workDir, cfg.Certificate), resolve(workDir, cfg.Key))
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.CA != "" {
		pem, err := os.ReadFile(resolve(workDir, cfg.CA))
		if err != nil {
			return nil, fmt.Errorf("read TLS CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA file %s", cfg.CA)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

func resolve(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

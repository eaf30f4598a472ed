package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"
)

type TLSConfig struct {
	Enabled           bool
	CertFile          string
	KeyFile           string
	ClientCAFile      string
	RequireClientCert bool
}

// BuildTLSConfig returns nil when TLS is disabled. The serving certificate is
// re-read when the cert file changes on disk, so rotated certificates take
// effect without a restart. A client CA without RequireClientCert verifies
// client certificates only when one is presented.
func BuildTLSConfig(c TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, fmt.Errorf("tls is enabled but cert/key not configured")
	}
	if c.RequireClientCert && c.ClientCAFile == "" {
		return nil, fmt.Errorf("client cert required but client ca file is empty")
	}
	reloader, err := newCertReloader(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, err
	}
	tlsCfg := &tls.Config{GetCertificate: reloader.GetCertificate, MinVersion: tls.VersionTLS12}
	if c.ClientCAFile == "" {
		return tlsCfg, nil
	}

	pool, err := loadCertPool(c.ClientCAFile)
	if err != nil {
		return nil, err
	}
	tlsCfg.ClientCAs = pool
	tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	if c.RequireClientCert {
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, fmt.Errorf("parse client ca pem %s", path)
	}
	return pool, nil
}

type certReloader struct {
	certFile string
	keyFile  string

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

func newCertReloader(certFile, keyFile string) (*certReloader, error) {
	r := &certReloader{certFile: certFile, keyFile: keyFile}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *certReloader) reload() error {
	info, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("stat tls cert: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load tls keypair: %w", err)
	}
	r.cert = &cert
	r.modTime = info.ModTime()
	return nil
}

// GetCertificate serves the current keypair. A keypair that fails to load
// after a change leaves the previous one in service.
func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, err := os.Stat(r.certFile); err == nil && info.ModTime().After(r.modTime) {
		_ = r.reload()
	}
	return r.cert, nil
}

package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jdhub/ratekeeper/pkg/config"
)

// writeSelfSignedCert writes a localhost certificate valid for one day.
func writeSelfSignedCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func TestBuildTLSConfig(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t)

	tests := []struct {
		name        string
		cfg         config.TLSConfig
		wantNil     bool
		wantVersion uint16
		errContains string
	}{
		{name: "disabled", cfg: config.TLSConfig{}, wantNil: true},
		{
			name:        "tls 1.3",
			cfg:         config.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"},
			wantVersion: tls.VersionTLS13,
		},
		{
			name:        "tls 1.2",
			cfg:         config.TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.2"},
			wantVersion: tls.VersionTLS12,
		},
		{
			name:        "missing cert",
			cfg:         config.TLSConfig{Enabled: true, KeyFile: keyFile},
			errContains: "cert_file is required",
		},
		{
			name:        "missing key",
			cfg:         config.TLSConfig{Enabled: true, CertFile: certFile},
			errContains: "key_file is required",
		},
		{
			name:        "unreadable cert",
			cfg:         config.TLSConfig{Enabled: true, CertFile: certFile + ".missing", KeyFile: keyFile},
			errContains: "failed to load certificate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildTLSConfig(&tt.cfg)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("Expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildTLSConfig failed: %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Error("Expected nil config when disabled")
				}
				return
			}
			if got.MinVersion != tt.wantVersion {
				t.Errorf("MinVersion = %x, want %x", got.MinVersion, tt.wantVersion)
			}
			if len(got.Certificates) != 1 {
				t.Errorf("Expected one certificate, got %d", len(got.Certificates))
			}
		})
	}
}

func TestValidateCertificate_Expiry(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t)
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("load key pair: %v", err)
	}

	if err := validateCertificate(&cert, time.Now()); err != nil {
		t.Errorf("Expected valid certificate, got %v", err)
	}
	if err := validateCertificate(&cert, time.Now().Add(48*time.Hour)); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Errorf("Expected expiry error, got %v", err)
	}
	if err := validateCertificate(&cert, time.Now().Add(-48*time.Hour)); err == nil || !strings.Contains(err.Error(), "not yet valid") {
		t.Errorf("Expected not-yet-valid error, got %v", err)
	}
	if err := validateCertificate(&tls.Certificate{}, time.Now()); err == nil {
		t.Error("Expected error for empty chain")
	}
}

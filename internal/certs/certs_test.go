package certs

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	id, err := Generate(Options{Hosts: []string{"capture.local", "10.0.0.7"}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	leaf, err := x509.ParseCertificate(id.Cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	if leaf.Subject.CommonName != "depthcap" {
		t.Errorf("CN: got %q", leaf.Subject.CommonName)
	}
	if got := leaf.NotAfter.Sub(leaf.NotBefore); got != DefaultValidity {
		t.Errorf("validity: got %v", got)
	}
	if !slices.Contains(leaf.DNSNames, "capture.local") || !slices.Contains(leaf.DNSNames, "localhost") {
		t.Errorf("DNS names: %v", leaf.DNSNames)
	}
	found := false
	for _, ip := range leaf.IPAddresses {
		if ip.Equal(net.ParseIP("10.0.0.7")) {
			found = true
		}
	}
	if !found {
		t.Errorf("IP SANs: %v", leaf.IPAddresses)
	}
	if !id.Generated || len(id.FingerprintHex()) != 64 {
		t.Errorf("identity: generated=%v fingerprint=%q", id.Generated, id.FingerprintHex())
	}
	if cfg := id.TLSConfig(); len(cfg.Certificates) != 1 {
		t.Error("TLS config has no certificate")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	id, err := Generate(Options{CommonName: "rig", Validity: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(id.Cert.PrivateKey.(*ecdsa.PrivateKey))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Cert.Certificate[0]}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(certPath, keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Fingerprint != id.Fingerprint || loaded.Generated {
		t.Errorf("loaded identity differs: %+v", loaded)
	}
	if !loaded.NotAfter.Equal(id.NotAfter.Truncate(time.Second)) {
		t.Errorf("NotAfter: got %v, want %v", loaded.NotAfter, id.NotAfter)
	}
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	if _, err := Load("nope.pem", "nope.key"); err == nil {
		t.Fatal("expected error")
	}
}

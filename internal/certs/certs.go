// Package certs provides the TLS identity for the control API. Operators
// can supply a PEM certificate and key; otherwise an ephemeral ECDSA P-256
// certificate is generated at startup.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"time"
)

// DefaultValidity is used when Options.Validity is zero.
const DefaultValidity = 14 * 24 * time.Hour

// Options controls Generate.
type Options struct {
	CommonName string
	// Hosts are extra DNS names or IP literals for the SAN list, on top
	// of localhost and the loopback addresses.
	Hosts    []string
	Validity time.Duration
}

// Identity is a loaded or generated certificate.
type Identity struct {
	Cert        tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
	Generated   bool
}

// FingerprintHex returns the SHA-256 of the leaf in colon-free hex, the
// form curl's --pinnedpubkey tooling and browsers print.
func (id *Identity) FingerprintHex() string {
	return hex.EncodeToString(id.Fingerprint[:])
}

// TLSConfig returns a server config presenting this identity.
func (id *Identity) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.Cert},
		MinVersion:   tls.VersionTLS13,
	}
}

// Load reads a PEM certificate/key pair.
func Load(certFile, keyFile string) (*Identity, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &Identity{
		Cert:        pair,
		Fingerprint: sha256.Sum256(pair.Certificate[0]),
		NotAfter:    leaf.NotAfter,
	}, nil
}

// Generate creates a self-signed certificate for localhost, the loopback
// addresses, and opts.Hosts.
func Generate(opts Options) (*Identity, error) {
	if opts.Validity <= 0 {
		opts.Validity = DefaultValidity
	}
	if opts.CommonName == "" {
		opts.CommonName = "depthcap"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: opts.CommonName},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(opts.Validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range opts.Hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return &Identity{
		Cert:        tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key},
		Fingerprint: sha256.Sum256(der),
		NotAfter:    template.NotAfter,
		Generated:   true,
	}, nil
}

package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// TLS modes accepted by the admin listener.
const (
	TLSOff        = "off"
	TLSSelfSigned = "self-signed"
	TLSCustom     = "custom"
	TLSACME       = "acme"
)

// TLSOptions selects how the admin listener is secured.
type TLSOptions struct {
	Mode     string
	Dir      string // self-signed certificates and the ACME cache live here
	CertFile string
	KeyFile  string
	Domains  []string
}

// TLSSetup is the outcome of LoadTLS. Config is nil when TLS is off.
// Manager is set in ACME mode and must serve HTTP-01 challenges.
type TLSSetup struct {
	Config  *tls.Config
	Manager *autocert.Manager
}

// LoadTLS builds the tls.Config for opts.Mode.
func LoadTLS(opts TLSOptions) (*TLSSetup, error) {
	switch opts.Mode {
	case "", TLSOff:
		return &TLSSetup{}, nil

	case TLSCustom:
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS keypair: %w", err)
		}
		return &TLSSetup{Config: serverTLS(cert)}, nil

	case TLSSelfSigned:
		certPath := filepath.Join(opts.Dir, "admin.crt")
		keyPath := filepath.Join(opts.Dir, "admin.key")
		if !fileExists(certPath) || !fileExists(keyPath) {
			if err := writeSelfSigned(certPath, keyPath, opts.Domains); err != nil {
				return nil, fmt.Errorf("generate TLS certificate: %w", err)
			}
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load TLS keypair: %w", err)
		}
		return &TLSSetup{Config: serverTLS(cert)}, nil

	case TLSACME:
		if len(opts.Domains) == 0 {
			return nil, fmt.Errorf("acme mode needs at least one domain")
		}
		cacheDir := filepath.Join(opts.Dir, "acme-certs")
		if err := os.MkdirAll(cacheDir, 0o700); err != nil {
			return nil, fmt.Errorf("create acme cache: %w", err)
		}
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(opts.Domains...),
			Cache:      autocert.DirCache(cacheDir),
		}
		cfg := m.TLSConfig()
		cfg.MinVersion = tls.VersionTLS12
		return &TLSSetup{Config: cfg, Manager: m}, nil
	}
	return nil, fmt.Errorf("unknown TLS mode %q", opts.Mode)
}

func serverTLS(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// writeSelfSigned creates a P-256 leaf certificate valid for localhost,
// every local interface address and hosts.
func writeSelfSigned(certPath, keyPath string, hosts []string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return err
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"camlink"}, CommonName: "camlink admin"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(2, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else if h != "" {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() {
				tmpl.IPAddresses = append(tmpl.IPAddresses, ipn.IP)
			}
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		return err
	}
	return writePEM(keyPath, "EC PRIVATE KEY", keyDER, 0o600)
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Package tls builds the server-side TLS config of the status API.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"

	defaultValidDays = 365 * 5
)

// Options selects the certificate source. Explicit CertFile/KeyFile win over
// Dir; AutoGenerate only applies to Dir.
type Options struct {
	Enabled      bool
	CertFile     string
	KeyFile      string
	Dir          string
	AutoGenerate bool
	MinVersion   string
	CommonName   string
	DNSNames     []string
	ValidDays    int
}

func parseVersion(ver string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// safeReadFile reads p only if it lies inside baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader re-reads the key pair on every handshake so a renewed
// certificate is picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// Setup returns nil when TLS is disabled.
func Setup(opts Options) (*tls.Config, error) {
	if !opts.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(opts.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := opts.CertFile, opts.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case opts.Dir != "":
		certPath = filepath.Join(opts.Dir, CertFile)
		keyPath = filepath.Join(opts.Dir, KeyFile)
		if opts.AutoGenerate && !filesExist(certPath, keyPath) {
			if err := generate(opts); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
	}

	if !filesExist(certPath, keyPath) {
		return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
	}
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

func filesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(opts Options) error {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	cn := opts.CommonName
	if cn == "" {
		cn = "localhost"
	}
	dns := opts.DNSNames
	if len(dns) == 0 {
		dns = []string{"localhost"}
	}
	days := opts.ValidDays
	if days <= 0 {
		days = defaultValidDays
	}
	return GenerateSelfSigned(CertOptions{
		CommonName:   cn,
		Organization: "gatewarden",
		DNSNames:     dns,
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(opts.Dir, CertFile),
		KeyPath:      filepath.Join(opts.Dir, KeyFile),
		CACertPath:   filepath.Join(opts.Dir, CACertFile),
	})
}

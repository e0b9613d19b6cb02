package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

const (
	certFileName = "cert.pem"
	keyFileName  = "key.pem"
)

// EnsureSelfSigned returns a certificate/key pair under dir, generating a
// self-signed one for hostname when missing. An existing pair is reused as
// long as more than half of the validity window remains.
func EnsureSelfSigned(dir, hostname string, validDays int) (string, string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create cert dir: %w", err)
	}

	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)

	if certUsable(certPath, keyPath, validDays/2) {
		slog.Info("Using existing certificate", "cert", certPath)
		return certPath, keyPath, nil
	}

	slog.Info("Generating self-signed certificate", "hostname", hostname, "valid_days", validDays)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Country:      []string{"US"},
			Province:     []string{"Development"},
			Locality:     []string{"Local"},
			Organization: []string{"MCP Development"},
			CommonName:   hostname,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(0, 0, validDays),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},

		// The cert may be installed as a trust root (see InstallToTrustStore).
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	if hostname != "localhost" && hostname != "127.0.0.1" {
		if ip := net.ParseIP(hostname); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, hostname)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("failed to create certificate: %w", err)
	}

	if err = writePEM(certPath, "CERTIFICATE", der, 0644); err != nil {
		return "", "", err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal key: %w", err)
	}

	if err = writePEM(keyPath, "PRIVATE KEY", keyDER, 0600); err != nil {
		return "", "", err
	}

	slog.Info("Certificate generated", "cert", certPath, "key", keyPath)

	return certPath, keyPath, nil
}

// InstallToTrustStore installs a certificate into the system trust store so
// clients like MCP Inspector stop rejecting the self-signed cert. Requires
// elevated privileges; failures are reported for the caller to log.
func InstallToTrustStore(certPath string) error {
	switch runtime.GOOS {
	case "darwin":
		cmd := exec.Command("security", "add-trusted-cert", "-d", "-r", "trustRoot",
			"-k", "/Library/Keychains/System.keychain", certPath)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("security add-trusted-cert failed: %w: %s", err, output)
		}
		return nil
	case "linux":
		data, err := os.ReadFile(certPath)
		if err != nil {
			return fmt.Errorf("failed to read certificate: %w", err)
		}
		if err = os.WriteFile("/usr/local/share/ca-certificates/mcp-dev.crt", data, 0644); err != nil {
			return fmt.Errorf("failed to copy certificate to trust store: %w", err)
		}
		if output, err := exec.Command("update-ca-certificates").CombinedOutput(); err != nil {
			return fmt.Errorf("update-ca-certificates failed: %w: %s", err, output)
		}
		return nil
	default:
		return fmt.Errorf("trust store installation is not supported on %s", runtime.GOOS)
	}
}

func certUsable(certPath, keyPath string, minDaysLeft int) bool {
	if _, err := os.Stat(keyPath); err != nil {
		return false
	}

	data, err := os.ReadFile(certPath)
	if err != nil {
		return false
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return false
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false
	}

	return time.Now().AddDate(0, 0, minDaysLeft).Before(cert.NotAfter)
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

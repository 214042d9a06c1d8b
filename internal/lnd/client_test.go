package lnd

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lawalletio/card/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

// ============================================================================
// Unit tests — no LND connection required, run with: go test ./internal/lnd/
// ============================================================================

func TestMacaroonCredential_GetRequestMetadata(t *testing.T) {
	cred := macaroonCredential{macaroon: "abcdef1234567890"}

	metadata, err := cred.GetRequestMetadata(context.Background(), "localhost:10009")
	require.NoError(t, err)
	assert.Equal(t, "abcdef1234567890", metadata["macaroon"])
	assert.Len(t, metadata, 1, "metadata should only contain 'macaroon' key")
}

func TestMacaroonCredential_GetRequestMetadata_EmptyMacaroon(t *testing.T) {
	cred := macaroonCredential{macaroon: ""}

	metadata, err := cred.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", metadata["macaroon"])
}

func TestMacaroonCredential_RequireTransportSecurity(t *testing.T) {
	cred := macaroonCredential{macaroon: "test"}
	assert.True(t, cred.RequireTransportSecurity(), "macaroon credentials must require TLS")
}

func TestConfig_DefaultValues(t *testing.T) {
	cfg := Config{
		GRPCHost:     "localhost",
		GRPCPort:     "10009",
		TLSCertPath:  "/path/to/tls.cert",
		MacaroonPath: "/path/to/admin.macaroon",
		Network:      "testnet",
	}

	assert.Equal(t, "localhost", cfg.GRPCHost)
	assert.Equal(t, "10009", cfg.GRPCPort)
	assert.Equal(t, "testnet", cfg.Network)
}

func TestNewClient_InvalidTLSCertPath(t *testing.T) {
	cfg := Config{
		TLSCertPath:  "/nonexistent/path/tls.cert",
		MacaroonPath: "/nonexistent/path/admin.macaroon",
		GRPCHost:     "localhost",
		GRPCPort:     "10009",
	}

	client, err := NewClient(cfg)
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls cert")
	assert.Contains(t, err.Error(), "/nonexistent/path/tls.cert")
}

func TestNewClient_InvalidMacaroonPath(t *testing.T) {
	// Generate a real self-signed TLS cert so the TLS step passes
	// and we can test the macaroon error path.
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "tls.cert")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	err = os.WriteFile(certPath, certPEM, 0644)
	require.NoError(t, err)

	cfg := Config{
		TLSCertPath:  certPath,
		MacaroonPath: "/nonexistent/path/admin.macaroon",
		GRPCHost:     "localhost",
		GRPCPort:     "10009",
	}

	client, err := NewClient(cfg)
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "macaroon")
	assert.Contains(t, err.Error(), "/nonexistent/path/admin.macaroon")
}

func TestInvoice_Fields(t *testing.T) {
	invoice := Invoice{
		Destination: "03pubkey...",
		AmountSats:  50000,
		PaymentHash: "hash123",
		Expiry:      3600,
		Description: "test payment",
		IsExpired:   false,
	}

	assert.Equal(t, int64(50000), invoice.AmountSats)
	assert.Equal(t, int64(3600), invoice.Expiry)
	assert.False(t, invoice.IsExpired)
	assert.Equal(t, int64(50000000), invoice.Msats(), "falls back to sats*1000 when AmountMsat is unset")
}

func TestClient_ZeroValueConstructs(t *testing.T) {
	client := &Client{}
	assert.NotNil(t, client)
}

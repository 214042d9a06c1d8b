// Package lnd provides a gRPC client wrapper around an LND node's invoice
// decoder. The module's only Lightning-facing need (§1's "deliberately out
// of scope: Lightning invoice decoding, treated as a primitive function
// with a stated contract") is decoding a bolt11 string for its amount and
// expiry ahead of a standard LNURL-withdraw callback — it never initiates
// payments or touches LND's on-chain/channel wallets itself (the module
// does not move funds; see spec.md §1 Non-goals).
package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Config carries LND's gRPC connection settings.
type Config struct {
	GRPCHost     string // "localhost" or the LND container's hostname
	GRPCPort     string // 10009
	TLSCertPath  string // path to LND's tls.cert
	MacaroonPath string // path to a macaroon scoped at least to DecodePayReq
	Network      string // "mainnet", "testnet", "regtest"
}

// InvoiceDecoder is the subset of LND the withdrawal dispatcher (C7)
// depends on; internal/withdraw.InvoiceDecoder is satisfied by an adapter
// around *Client.
type InvoiceDecoder interface {
	DecodeInvoice(ctx context.Context, bolt11 string) (*Invoice, error)
	Close() error
}

// Invoice is the decoded subset of a bolt11 payment request this module
// needs: the amount (preferring millisatoshis) and whether it has expired.
type Invoice struct {
	Destination string
	AmountSats  int64
	AmountMsat  int64 // straight from NumMsat; 0 if the invoice didn't set it
	PaymentHash string
	Expiry      int64
	Description string
	IsExpired   bool
}

// Msats returns the invoice amount in millisatoshis, preferring the
// wire-native NumMsat field and falling back to satoshis*1000 (spec.md
// §4.7's "prefer millisatoshis, else satoshis*1000").
func (i *Invoice) Msats() int64 {
	if i.AmountMsat > 0 {
		return i.AmountMsat
	}
	return i.AmountSats * 1000
}

// macaroonCredential implements grpc.PerRPCCredentials, attaching the
// hex-encoded macaroon as gRPC metadata on every RPC call.
type macaroonCredential struct {
	macaroon string
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
	return true
}

// Client is a thin gRPC wrapper around LND's Lightning service, scoped to
// invoice decoding.
type Client struct {
	conn     *grpc.ClientConn
	lnClient lnrpc.LightningClient
	cfg      Config
}

// NewClient dials LND and validates the connection with a GetInfo call —
// fails fast if LND is unreachable, the wallet is locked, or credentials
// are wrong.
func NewClient(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("could not load tls cert from %s: %w", cfg.TLSCertPath, err)
	}

	fileMacaroonData, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon file %s: %w", cfg.MacaroonPath, err)
	}
	macaroonCreds := macaroonCredential{macaroon: hex.EncodeToString(fileMacaroonData)}

	url := cfg.GRPCHost + ":" + cfg.GRPCPort
	conn, err := grpc.NewClient(url, grpc.WithTransportCredentials(creds), grpc.WithPerRPCCredentials(macaroonCreds))
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", url, err)
	}

	lnClient := lnrpc.NewLightningClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := lnClient.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to LND (is it running? wallet unlocked?): %w", err)
	}
	if !info.SyncedToChain {
		fmt.Println("WARNING: LND is not synced to chain — invoice expiry checks may be stale")
	}

	return &Client{conn: conn, lnClient: lnClient, cfg: cfg}, nil
}

// Close closes the underlying gRPC connection to LND.
func (c *Client) Close() error {
	return c.conn.Close()
}

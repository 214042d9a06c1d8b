package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lawalletio/card/config"
	"github.com/lawalletio/card/internal/httpapi"
	"github.com/lawalletio/card/internal/identityprovider"
	"github.com/lawalletio/card/internal/ledger"
	"github.com/lawalletio/card/internal/lifecycle"
	"github.com/lawalletio/card/internal/lnd"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/internal/sun"
	"github.com/lawalletio/card/internal/withdraw"
	"github.com/lawalletio/card/pkg/cache"
	"github.com/lawalletio/card/pkg/logger"
	"github.com/lawalletio/card/pkg/queue"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.ApiConfig

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filename)
	configPath := config.Path(root).Join("config.toml", "..", "..")
	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var dbCfg registry.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	store, err := registry.NewStore(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize registry store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	lndClient, err := lnd.NewClient(lnd.Config{
		GRPCHost:     Cfg.LND.GRPCHost,
		GRPCPort:     Cfg.LND.GRPCPort,
		TLSCertPath:  Cfg.LND.TLSCertPath,
		MacaroonPath: Cfg.LND.MacaroonPath,
		Network:      Cfg.LND.Network,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize lnd client: %w", err)
	}
	defer lndClient.Close()

	bus := queue.NewStreamQueue(cache.Client)

	idp := identityprovider.New(Cfg.IdentityProvider.APIBase, nil)
	ledgerClient := ledger.New(Cfg.LaWallet.APIBaseURL, nil)

	adminPubKeys := splitNonEmpty(Cfg.LaWallet.AdminPubKeys, ":")
	defaultMerchants := splitNonEmpty(Cfg.LaWallet.DefaultTrustedMerchants, ":")
	defaultLimits, err := parseDefaultLimits(Cfg.LaWallet.DefaultLimits)
	if err != nil {
		return fmt.Errorf("failed to parse DEFAULT_LIMITS: %w", err)
	}

	verifier := sun.New(store, Cfg.Nostr.ModuleK1Hex)

	orch := lifecycle.New(store, verifier, bus, idp, lifecycle.Config{
		ModuleK1Hex:        Cfg.Nostr.ModuleK1Hex,
		ModulePrivHex:      Cfg.Nostr.PrivateKeyHex,
		ModulePubHex:       Cfg.Nostr.PublicKeyHex,
		CardWriterPubKey:   Cfg.LaWallet.CardWriterPubKey,
		AdminPubKeys:       adminPubKeys,
		ResetExpirySeconds: Cfg.LaWallet.ResetExpirySeconds,
		DefaultMerchants:   defaultMerchants,
		DefaultLimits:      defaultLimits,
		OutboxStream:       Cfg.LaWallet.OutboxStream,
	})

	dispatcher := withdraw.New(store, verifier, &lndInvoiceAdapter{lndClient}, ledgerClient, bus, withdraw.Config{
		BaseURL:              Cfg.LaWallet.APIBaseURL,
		ModulePrivHex:        Cfg.Nostr.PrivateKeyHex,
		ModulePubHex:         Cfg.Nostr.PublicKeyHex,
		LedgerPubKey:         Cfg.LaWallet.LedgerPubKey,
		BtcGatewayPubKey:     Cfg.LaWallet.BtcGatewayPubKey,
		FederationID:         Cfg.LaWallet.FederationID,
		PaymentRequestExpiry: time.Duration(Cfg.LaWallet.PaymentRequestExpiryInSeconds) * time.Second,
		OutboxStream:         Cfg.LaWallet.OutboxStream,
	})

	srv := httpapi.New(orch, dispatcher, time.Now)

	httpServer := &http.Server{
		Addr:    ":" + Cfg.Server.Port,
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", Cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// lndInvoiceAdapter narrows *lnd.Client onto withdraw.InvoiceDecoder so
// internal/withdraw doesn't import internal/lnd for its own type.
type lndInvoiceAdapter struct {
	client *lnd.Client
}

func (a *lndInvoiceAdapter) DecodeInvoice(ctx context.Context, bolt11 string) (*withdraw.Invoice, error) {
	inv, err := a.client.DecodeInvoice(ctx, bolt11)
	if err != nil {
		return nil, err
	}
	return &withdraw.Invoice{
		AmountSats: inv.AmountSats,
		AmountMsat: inv.AmountMsat,
		IsExpired:  inv.IsExpired,
	}, nil
}

// splitNonEmpty splits a `sep`-joined config string, dropping empty
// elements so an unset env var yields an empty slice rather than [""].
func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDefaultLimits parses spec.md §6's DEFAULT_LIMITS format:
// "name;desc;token;amount;delta" records joined by ":".
func parseDefaultLimits(s string) ([]registry.DefaultLimit, error) {
	if s == "" {
		return nil, nil
	}
	records := strings.Split(s, ":")
	limits := make([]registry.DefaultLimit, 0, len(records))
	for _, record := range records {
		fields := strings.Split(record, ";")
		if len(fields) != 5 {
			return nil, fmt.Errorf("malformed DEFAULT_LIMITS record %q: expected 5 fields, got %d", record, len(fields))
		}
		amount, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed DEFAULT_LIMITS amount %q: %w", fields[3], err)
		}
		delta, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed DEFAULT_LIMITS delta %q: %w", fields[4], err)
		}
		limits = append(limits, registry.DefaultLimit{
			Name:        fields[0],
			Description: fields[1],
			Token:       fields[2],
			Amount:      amount,
			Delta:       delta,
		})
	}
	return limits, nil
}

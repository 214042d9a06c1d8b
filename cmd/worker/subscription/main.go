// Command subscription runs the Inbound Subscription Loop (C8): a Redis
// Streams consumer group that applies holder-published config-change
// events against the registry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/lawalletio/card/config"
	"github.com/lawalletio/card/internal/identityprovider"
	"github.com/lawalletio/card/internal/lifecycle"
	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/internal/subscription"
	"github.com/lawalletio/card/internal/sun"
	"github.com/lawalletio/card/pkg/cache"
	"github.com/lawalletio/card/pkg/logger"
	"github.com/lawalletio/card/pkg/queue"

	"github.com/google/uuid"
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
	configPath := config.Path(root).Join("config.toml", "..", "..", "..")
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

	bus := queue.NewStreamQueue(cache.Client)
	idp := identityprovider.New(Cfg.IdentityProvider.APIBase, nil)
	verifier := sun.New(store, Cfg.Nostr.ModuleK1Hex)

	orch := lifecycle.New(store, verifier, bus, idp, lifecycle.Config{
		ModuleK1Hex:      Cfg.Nostr.ModuleK1Hex,
		ModulePrivHex:    Cfg.Nostr.PrivateKeyHex,
		ModulePubHex:     Cfg.Nostr.PublicKeyHex,
		CardWriterPubKey: Cfg.LaWallet.CardWriterPubKey,
		OutboxStream:     Cfg.LaWallet.OutboxStream,
	})

	consumer := fmt.Sprintf("subscription-%s", uuid.NewString())
	loop := subscription.New(store, bus, subscription.Config{
		Stream:       Cfg.LaWallet.InboxStream,
		Group:        Cfg.LaWallet.SubscriptionConsumerGroup,
		Consumer:     consumer,
		ModulePubHex: Cfg.Nostr.PublicKeyHex,
	}, map[string]subscription.Handler{
		"card-config-change": func(ctx context.Context, ev *nostr.Event, now time.Time) error {
			return orch.ApplyConfigChange(ctx, ev, now)
		},
	}, time.Now)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("subscription loop starting",
		zap.String("stream", Cfg.LaWallet.InboxStream),
		zap.String("group", Cfg.LaWallet.SubscriptionConsumerGroup),
		zap.String("consumer", consumer),
	)

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("subscription loop failed: %w", err)
	}

	logger.Info("subscription loop stopped")
	return nil
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidaldex/dexbot/pkg/app"
	"github.com/tidaldex/dexbot/pkg/blockchain"
	"github.com/tidaldex/dexbot/pkg/config"
	"github.com/tidaldex/dexbot/pkg/logger"
	"github.com/tidaldex/dexbot/pkg/pin"
	"github.com/tidaldex/dexbot/pkg/storage"
	"github.com/tidaldex/dexbot/pkg/swap"
	"github.com/tidaldex/dexbot/pkg/tokens"
	"github.com/tidaldex/dexbot/pkg/txpipe"
	"github.com/tidaldex/dexbot/pkg/vault"
	"github.com/tidaldex/dexbot/pkg/wallet"
)

// Services is the wired wallet core handed to whichever front end drives it.
type Services struct {
	Store    *storage.Store
	Vault    *vault.Vault
	Pins     *pin.Authority
	Wallets  *wallet.Service
	Chain    *blockchain.Client
	Resolver *tokens.Resolver
	Pipeline *txpipe.Pipeline
	Swap     *swap.Router
}

// buildServices constructs every service from config. The swap router is
// optional; it is nil when no router address is configured.
func buildServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	v, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		store.Close()
		return nil, err
	}

	chain, err := blockchain.Dial(ctx, cfg.Chain)
	if err != nil {
		store.Close()
		return nil, err
	}

	pins := pin.NewAuthority(store, v, time.Duration(cfg.Pin.SessionTTLMinutes)*time.Minute)
	wallets := wallet.NewService(store, v)

	list, err := tokens.LoadList(cfg.Tokens.DefaultListPath, cfg.Chain.ChainID)
	if err != nil {
		store.Close()
		chain.Close()
		return nil, err
	}
	resolver := tokens.NewResolver(store, chain, list, cfg.Chain, cfg.Tokens)

	apps, err := app.LoadApps(cfg.Apps.Dir)
	if err != nil {
		store.Close()
		chain.Close()
		return nil, err
	}
	processor := app.NewProcessor(resolver, time.Duration(cfg.Apps.DeadlineWindowSeconds)*time.Second)

	// Compliance is a front-end collaborator; the pipeline accepts a gate
	// from whoever embeds this core.
	pipeline := txpipe.NewPipeline(chain, wallets, pins, resolver, processor, apps, nil)

	svcs := &Services{
		Store:    store,
		Vault:    v,
		Pins:     pins,
		Wallets:  wallets,
		Chain:    chain,
		Resolver: resolver,
		Pipeline: pipeline,
	}
	if cfg.Swap.RouterAddress != "" {
		router, err := swap.NewRouter(chain, resolver, cfg.Swap)
		if err != nil {
			store.Close()
			chain.Close()
			return nil, err
		}
		svcs.Swap = router
	}
	return svcs, nil
}

func (s *Services) Close() {
	s.Pins.Close()
	s.Chain.Close()
	s.Store.Close()
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svcs, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	svcs.Pins.StartSweeper(ctx, time.Duration(cfg.Pin.SweepIntervalMinutes)*time.Minute)

	logger.InfoCF("main", "dexbot running", map[string]any{
		"chain":    cfg.Chain.Name,
		"chain_id": cfg.Chain.ChainID,
		"storage":  cfg.Storage.Driver,
		"swap":     svcs.Swap != nil,
	})

	<-ctx.Done()
	logger.InfoCF("main", "shutting down", nil)
	return nil
}

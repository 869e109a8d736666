package cmd

import (
	"fmt"

	"github.com/seanmck/mailcorr/internal/cache"
	"github.com/seanmck/mailcorr/internal/config"
	"github.com/seanmck/mailcorr/internal/mailbox"
	"github.com/seanmck/mailcorr/internal/mailbox/bridge"
	"github.com/seanmck/mailcorr/internal/mailbox/imapprov"
)

// newProvider builds the configured mailbox backend.
func newProvider() (mailbox.Provider, error) {
	switch cfg.Provider.Kind {
	case config.ProviderKindBridge:
		return bridge.New(cfg.Provider.BridgeURL,
			bridge.WithTimeout(cfg.Provider.Timeout()),
			bridge.WithLogger(logger),
		), nil
	case config.ProviderKindIMAP:
		if cfg.Provider.IMAP.Host == "" {
			return nil, fmt.Errorf("provider kind is imap but [provider.imap] host is not set")
		}
		return imapprov.NewClient(&cfg.Provider.IMAP, imapprov.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

// newMailService wires the cache store, refresher, and retrieval facade.
func newMailService() (*cache.Service, error) {
	provider, err := newProvider()
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(cfg.CacheDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	refresher := cache.NewRefresher(store, provider, logger,
		cache.WithPolicy(cfg.Cache.BootstrapDays, cfg.Cache.MaxGapFetchDays, cfg.Cache.FoldMaxMessages),
	)
	service := cache.NewService(store, provider, refresher, logger,
		cache.WithFallbackCap(cfg.Cache.FallbackCapDays),
	)
	return service, nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/natrelay/tunnel/internal/obs"
	"github.com/natrelay/tunnel/internal/ratelimit"
	"github.com/natrelay/tunnel/internal/relay"
	"github.com/natrelay/tunnel/internal/tlsmaterial"
)

func main() {
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("relay.start", obs.Fields{"public": cfg.PublicAddr, "relay": cfg.RelayAddr, "metrics": cfg.MetricsAddr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *relay.StateStore
	if cfg.RedisAddr != "" {
		s, err := relay.NewStateStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			obs.Error("relay.statestore.connect_failed", obs.Fields{"err": err.Error()})
			os.Exit(1)
		}
		store = s
		defer store.Close()
	}

	rl := ratelimit.NewRateLimiter(0, cfg.PublicConnRate, 0, cfg.PairRequestRate, cfg.PublicConnBurst)

	r := relay.New(relay.Options{
		PublicAddr: cfg.PublicAddr,
		RelayAddr:  cfg.RelayAddr,
		PublicTLS: tlsmaterial.Material{
			Enabled:     cfg.PublicTLS,
			PfxPath:     cfg.PublicPfx,
			Passphrase:  cfg.PublicPassphrase,
			KeyPath:     cfg.PublicKey,
			CertPath:    cfg.PublicCert,
			CertCN:      cfg.PublicCertCN,
			CAPath:      cfg.PublicCaCert,
			RequestCert: cfg.PublicRequestCert,
		},
		RelayTLS: tlsmaterial.Material{
			Enabled:     cfg.RelayTLS,
			PfxPath:     cfg.RelayPfx,
			Passphrase:  cfg.RelayPassphrase,
			KeyPath:     cfg.RelayKey,
			CertPath:    cfg.RelayCert,
			CertCN:      cfg.RelayCertCN,
			CAPath:      cfg.RelayCaCert,
			RequestCert: cfg.RelayRequestCert,
		},
		PublicIdleTimeout: cfg.PublicTimeout,
		RelayIdleTimeout:  cfg.RelayTimeout,
		Secret:            []byte(cfg.RelaySecret),
		KeyFunc:           relay.IdentityKeyFunc,
		KeepAlive:         cfg.KeepAlive,
		RateLimiter:       rl,
		Store:             store,
	})

	go startMetricsServer(cfg.MetricsAddr, r)

	if err := r.ListenAndServe(ctx); err != nil {
		obs.Error("relay.serve_failed", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.Info("relay.shutdown.complete", obs.Fields{})
}

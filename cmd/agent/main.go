package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/natrelay/tunnel/internal/agent"
	"github.com/natrelay/tunnel/internal/obs"
	"github.com/natrelay/tunnel/internal/tlsmaterial"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("agent.start", obs.Fields{"target": cfg.TargetAddr, "relay": cfg.RelayAddr, "pool_size": cfg.RelayNumConn})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := agent.New(agent.Options{
		RelayAddr: cfg.RelayAddr,
		RelayTLS: tlsmaterial.Material{
			Enabled:    cfg.RelayTLS,
			KeyPath:    cfg.RelayClientKey,
			CertPath:   cfg.RelayClientCert,
			CAPath:     cfg.RelayCaCert,
			SkipVerify: !cfg.RelayVerifyCert,
		},
		TargetAddr: cfg.TargetAddr,
		TargetTLS: tlsmaterial.Material{
			Enabled:    cfg.TargetTLS,
			CAPath:     cfg.TargetCaCert,
			SkipVerify: !cfg.TargetVerifyCert,
		},
		Secret:           []byte(cfg.RelaySecret),
		Size:             cfg.RelayNumConn,
		DialTimeout:      cfg.TargetTimeout,
		RelayIdleTimeout: cfg.RelayTimeout,
	})

	go startMetricsServer(cfg.MetricsAddr, a)

	a.Run(ctx)
	obs.Info("agent.shutdown.complete", obs.Fields{})
}

func startMetricsServer(addr string, a *agent.Agent) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if !a.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
	}
}

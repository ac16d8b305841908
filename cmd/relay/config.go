package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/natrelay/tunnel/internal/config"
)

// Config holds all runtime configuration for the relay, resolved from a
// TOML file (if -config is given) overlaid with explicit flags.
type Config struct {
	PublicAddr string
	RelayAddr  string

	PublicTimeout time.Duration
	RelayTimeout  time.Duration

	PublicTLS         bool
	RelayTLS          bool
	PublicPfx         string
	PublicKey         string
	PublicCert        string
	PublicPassphrase  string
	RelayPfx          string
	RelayKey          string
	RelayCert         string
	RelayPassphrase   string
	PublicCertCN      string
	RelayCertCN       string
	PublicCaCert      string
	RelayCaCert       string
	PublicRequestCert bool
	RelayRequestCert  bool

	RelaySecret string
	KeepAlive   time.Duration

	MetricsAddr string
	Debug       bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PublicConnRate  int
	PublicConnBurst int
	PairRequestRate int
}

var cfg Config

func init() {
	configPath := config.PeekConfigFlag(os.Args[1:])
	file, err := config.LoadRelayFile(configPath)
	if err != nil {
		// obs isn't usable yet (flags/debug not parsed), stderr is the honest fallback.
		os.Stderr.WriteString("relay: failed to load config file: " + err.Error() + "\n")
		os.Exit(1)
	}

	flag.String("config", configPath, "path to a TOML config file ([relay] table)")

	flag.StringVar(&cfg.PublicAddr, "public", hostPort(file.PublicHost, file.PublicPort, ":8080"), "public listener address")
	flag.StringVar(&cfg.RelayAddr, "relay", hostPort(file.RelayHost, file.RelayPort, ":9000"), "agent-facing listener address")
	flag.DurationVar(&cfg.PublicTimeout, "public-timeout", durationOr(file.PublicTimeout, 0), "idle timeout for public connections, pending or paired (0 disables it)")
	flag.DurationVar(&cfg.RelayTimeout, "relay-timeout", durationOr(file.RelayTimeout, 0), "idle timeout for agent connections, pending or paired; also bounds how long an agent has to present its secret (0 disables it)")
	flag.BoolVar(&cfg.PublicTLS, "public-tls", file.PublicTLS, "enable TLS on the public listener")
	flag.BoolVar(&cfg.RelayTLS, "relay-tls", file.RelayTLS, "enable TLS on the agent-facing listener")
	flag.StringVar(&cfg.PublicPfx, "public-pfx", file.PublicPfx, "PFX bundle for the public listener's certificate")
	flag.StringVar(&cfg.PublicKey, "public-key", file.PublicKey, "PEM key file for the public listener's certificate")
	flag.StringVar(&cfg.PublicCert, "public-cert", file.PublicCert, "PEM cert file for the public listener's certificate")
	flag.StringVar(&cfg.PublicPassphrase, "public-passphrase", file.PublicPassphrase, "passphrase for -public-pfx")
	flag.StringVar(&cfg.RelayPfx, "relay-pfx", file.RelayPfx, "PFX bundle for the agent-facing listener's certificate")
	flag.StringVar(&cfg.RelayKey, "relay-key", file.RelayKey, "PEM key file for the agent-facing listener's certificate")
	flag.StringVar(&cfg.RelayCert, "relay-cert", file.RelayCert, "PEM cert file for the agent-facing listener's certificate")
	flag.StringVar(&cfg.RelayPassphrase, "relay-passphrase", file.RelayPassphrase, "passphrase for -relay-pfx")
	flag.StringVar(&cfg.PublicCertCN, "public-cert-cn", file.PublicCertCN, "common name for an autogenerated public listener certificate")
	flag.StringVar(&cfg.RelayCertCN, "relay-cert-cn", file.RelayCertCN, "common name for an autogenerated agent-facing certificate")
	flag.StringVar(&cfg.PublicCaCert, "public-ca", file.PublicCaCert, "CA bundle to verify public listener client certificates")
	flag.StringVar(&cfg.RelayCaCert, "relay-ca", file.RelayCaCert, "CA bundle to verify agent-facing client certificates")
	flag.BoolVar(&cfg.PublicRequestCert, "public-request-cert", file.PublicRequestCert, "request a client certificate on the public listener")
	flag.BoolVar(&cfg.RelayRequestCert, "relay-request-cert", file.RelayRequestCert, "request a client certificate on the agent-facing listener")
	flag.StringVar(&cfg.RelaySecret, "relay-secret", file.RelaySecret, "shared secret agents must present on the agent-facing listener")
	flag.DurationVar(&cfg.KeepAlive, "keep-alive", 120*time.Second, "TCP keep-alive period for accepted connections")
	flag.StringVar(&cfg.MetricsAddr, "metrics", defaultStr(file.MetricsAddr, ":9100"), "metrics and health listen address")
	flag.BoolVar(&cfg.Debug, "debug", file.Debug, "enable debug logs")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", file.RedisAddr, "Redis address for cross-instance stats aggregation (empty disables it)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", file.RedisPassword, "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", file.RedisDB, "Redis database index")
	flag.IntVar(&cfg.PublicConnRate, "public-conn-rate", defaultInt(file.PublicConnRate, 50), "public connections allowed per second, per remote IP")
	flag.IntVar(&cfg.PublicConnBurst, "public-conn-burst", defaultInt(file.PublicConnBurst, 100), "public connection burst size")
	flag.IntVar(&cfg.PairRequestRate, "pair-request-rate", defaultInt(file.PairRequestRate, 20), "pairing attempts allowed per second, per tunnel key")
	flag.Parse()
}

func hostPort(host string, port int, def string) string {
	if host == "" && port == 0 {
		return def
	}
	if port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func durationOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

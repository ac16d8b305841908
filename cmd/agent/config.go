package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/natrelay/tunnel/internal/config"
)

// Config holds all runtime configuration for the agent, resolved from a
// TOML file (if -config is given) overlaid with explicit flags.
type Config struct {
	TargetAddr string
	RelayAddr  string

	TargetTLS        bool
	RelayTLS         bool
	TargetVerifyCert bool
	RelayVerifyCert  bool
	TargetCaCert     string
	RelayCaCert      string
	RelayClientKey   string
	RelayClientCert  string

	RelaySecret  string
	RelayNumConn int

	TargetTimeout time.Duration
	RelayTimeout  time.Duration

	MetricsAddr string
	Debug       bool
}

var cfg Config

func init() {
	configPath := config.PeekConfigFlag(os.Args[1:])
	file, err := config.LoadAgentFile(configPath)
	if err != nil {
		os.Stderr.WriteString("agent: failed to load config file: " + err.Error() + "\n")
		os.Exit(1)
	}

	flag.String("config", configPath, "path to a TOML config file ([agent] table)")

	flag.StringVar(&cfg.TargetAddr, "target", hostPort(file.TargetHost, file.TargetPort, "127.0.0.1:3000"), "local target address to expose")
	flag.StringVar(&cfg.RelayAddr, "relay", hostPort(file.RelayHost, file.RelayPort, "127.0.0.1:9000"), "relay agent-facing address")
	flag.BoolVar(&cfg.TargetTLS, "target-tls", file.TargetTLS, "dial the target over TLS")
	flag.BoolVar(&cfg.RelayTLS, "relay-tls", file.RelayTLS, "dial the relay over TLS")
	flag.BoolVar(&cfg.TargetVerifyCert, "target-verify-cert", file.TargetVerifyCert, "verify the target's certificate (only meaningful with -target-tls)")
	flag.BoolVar(&cfg.RelayVerifyCert, "relay-verify-cert", file.RelayVerifyCert, "verify the relay's certificate (only meaningful with -relay-tls)")
	flag.StringVar(&cfg.TargetCaCert, "target-ca", file.TargetCaCert, "CA bundle used to verify the target's certificate")
	flag.StringVar(&cfg.RelayCaCert, "relay-ca", file.RelayCaCert, "CA bundle used to verify the relay's certificate")
	flag.StringVar(&cfg.RelayClientKey, "relay-client-key", file.RelayClientKey, "client key presented to the relay (mTLS)")
	flag.StringVar(&cfg.RelayClientCert, "relay-client-cert", file.RelayClientCert, "client cert presented to the relay (mTLS)")
	flag.StringVar(&cfg.RelaySecret, "relay-secret", file.RelaySecret, "shared secret presented to the relay's agent-facing listener")
	flag.IntVar(&cfg.RelayNumConn, "relay-num-conn", defaultInt(file.RelayNumConn, 5), "warm pool size: outbound connections held open against the relay")
	flag.DurationVar(&cfg.TargetTimeout, "target-timeout", durationOr(file.TargetTimeout, 10*time.Second), "dial timeout for the local target and for the relay")
	flag.DurationVar(&cfg.RelayTimeout, "relay-timeout", durationOr(file.RelayTimeout, 0), "idle timeout for relay-facing pipes, warm or pumping (0 disables it)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", defaultStr(file.MetricsAddr, ":9101"), "metrics and health listen address")
	flag.BoolVar(&cfg.Debug, "debug", file.Debug, "enable debug logs")
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

// Package config loads the relay's and agent's TOML configuration files.
// Values are merged with command-line flags by the cmd/relay and cmd/agent
// binaries: a loaded file supplies defaults, and any flag the operator
// explicitly passed overrides the matching field.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// RelayFile is the [relay] table of a relay TOML config file.
type RelayFile struct {
	PublicHost         string `toml:"publicHost"`
	PublicPort         int    `toml:"publicPort"`
	RelayHost          string `toml:"relayHost"`
	RelayPort          int    `toml:"relayPort"`
	PublicTimeout      string `toml:"publicTimeout"`
	RelayTimeout       string `toml:"relayTimeout"`
	PublicTLS          bool   `toml:"publicTls"`
	RelayTLS           bool   `toml:"relayTls"`
	PublicPfx          string `toml:"publicPfx"`
	PublicKey          string `toml:"publicKey"`
	PublicCert         string `toml:"publicCert"`
	PublicPassphrase   string `toml:"publicPassphrase"`
	RelayPfx           string `toml:"relayPfx"`
	RelayKey           string `toml:"relayKey"`
	RelayCert          string `toml:"relayCert"`
	RelayPassphrase    string `toml:"relayPassphrase"`
	PublicCertCN       string `toml:"publicCertCN"`
	RelayCertCN        string `toml:"relayCertCN"`
	PublicCaCert       string `toml:"publicCaCert"`
	RelayCaCert        string `toml:"relayCaCert"`
	PublicRequestCert  bool   `toml:"publicRequestCert"`
	RelayRequestCert   bool   `toml:"relayRequestCert"`
	RelaySecret        string `toml:"relaySecret"`
	Silent             bool   `toml:"silent"`
	MetricsAddr        string `toml:"metricsAddr"`
	Debug              bool   `toml:"debug"`
	RedisAddr          string `toml:"redisAddr"`
	RedisPassword      string `toml:"redisPassword"`
	RedisDB            int    `toml:"redisDB"`
	PublicConnRate     int    `toml:"publicConnRate"`
	PublicConnBurst    int    `toml:"publicConnBurst"`
	PairRequestRate    int    `toml:"pairRequestRate"`
}

// RelayFileDoc is the top-level document a relay TOML file parses into.
type RelayFileDoc struct {
	Relay RelayFile `toml:"relay"`
}

// LoadRelayFile parses a relay TOML config file. A missing file is not an
// error: callers treat a zero-value RelayFile the same as "no file given".
func LoadRelayFile(path string) (RelayFile, error) {
	if path == "" {
		return RelayFile{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		return RelayFile{}, nil
	}
	var doc RelayFileDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return RelayFile{}, err
	}
	return doc.Relay, nil
}

// AgentFile is the [agent] table of an agent TOML config file.
type AgentFile struct {
	TargetHost       string `toml:"targetHost"`
	TargetPort       int    `toml:"targetPort"`
	RelayHost        string `toml:"relayHost"`
	RelayPort        int    `toml:"relayPort"`
	TargetTLS        bool   `toml:"targetTls"`
	RelayTLS         bool   `toml:"relayTls"`
	TargetVerifyCert bool   `toml:"targetVerifyCert"`
	RelayVerifyCert  bool   `toml:"relayVerifyCert"`
	TargetCaCert     string `toml:"targetCaCert"`
	RelayCaCert      string `toml:"relayCaCert"`
	RelayClientKey   string `toml:"relayClientKey"`
	RelayClientCert  string `toml:"relayClientCert"`
	RelaySecret      string `toml:"relaySecret"`
	RelayNumConn     int    `toml:"relayNumConn"`
	TargetTimeout    string `toml:"targetTimeout"`
	RelayTimeout     string `toml:"relayTimeout"`
	Silent           bool   `toml:"silent"`
	MetricsAddr      string `toml:"metricsAddr"`
	Debug            bool   `toml:"debug"`
}

// AgentFileDoc is the top-level document an agent TOML file parses into.
type AgentFileDoc struct {
	Agent AgentFile `toml:"agent"`
}

// LoadAgentFile parses an agent TOML config file. A missing file is not an
// error.
func LoadAgentFile(path string) (AgentFile, error) {
	if path == "" {
		return AgentFile{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		return AgentFile{}, nil
	}
	var doc AgentFileDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return AgentFile{}, err
	}
	return doc.Agent, nil
}

// PeekConfigFlag scans args (typically os.Args[1:]) for -config/--config
// without touching the flag package's global state, so the config file can
// be loaded before flags are registered and used as their defaults.
func PeekConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(a) > 8 && a[:8] == "-config=":
			return a[8:]
		case len(a) > 9 && a[:9] == "--config=":
			return a[9:]
		}
	}
	return ""
}

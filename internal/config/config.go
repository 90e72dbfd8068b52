// Package config loads YAML configuration shared by the cookie daemon
// and admin binaries, in the same load-then-flag-overrides shape the
// teacher's gRPC server config uses.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML configuration.
type File struct {
	// ControlListen is the local host:port the daemon binds its
	// control socket (a UDP socket in cmd/ipcookied) to, e.g.
	// "0.0.0.0:1442" for all peers.
	ControlListen string `yaml:"control_listen"`

	// AdminListen is the admin-plane gRPC bind address. The admin
	// plane's HTTP mux binds MetricsListen.
	AdminListen string `yaml:"admin_listen"`

	// MetricsListen is the Prometheus /metrics bind address.
	MetricsListen string `yaml:"metrics_listen"`

	// SecretRotationInterval overrides DefaultRotationInterval.
	SecretRotationInterval time.Duration `yaml:"secret_rotation_interval"`

	// AcceptUncookied controls whether a peer with no cache entry at
	// all is treated as cookies-active (true) or cookies-inactive
	// (false) on its first outbound send. Resolved Open Question: the
	// spec leaves this as host policy, and this implementation
	// defaults it to true so a fresh peer is always probed for cookie
	// support before falling back.
	AcceptUncookied bool `yaml:"accept_uncookied"`

	// AdvertisedLifetimeLog2 is the lt_log2 this host advertises in a
	// SET-COOKIE reply to an invalid inbound cookie (the "H" in spec
	// §4.3, chosen so 2^H approximates the secret-rotation half-life).
	AdvertisedLifetimeLog2 uint8 `yaml:"advertised_lifetime_log2"`

	// CacheShardCount and CacheCapacity size the cookie cache.
	CacheShardCount int `yaml:"cache_shard_count"`
	CacheCapacity   int `yaml:"cache_capacity"`

	// SharedStatePath, if set, maps FullState from this file path
	// instead of an anonymous region, so a daemon and its shims can
	// be separate processes.
	SharedStatePath string `yaml:"shared_state_path"`

	// AllowedPeers and DeniedPeers seed the control-socket ACL, each
	// entry a CIDR or bare address.
	AllowedPeers []string `yaml:"allowed_peers"`
	DeniedPeers  []string `yaml:"denied_peers"`

	// TLSCert and TLSKey secure the admin gRPC endpoint, if set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// Default returns the built-in defaults applied before a config file
// and flags are layered on top.
func Default() File {
	return File{
		ControlListen:          "0.0.0.0:1442",
		AdminListen:            ":9443",
		MetricsListen:          ":9090",
		SecretRotationInterval: 120 * time.Second,
		AcceptUncookied:        true,
		AdvertisedLifetimeLog2: 6, // 2^6 = 64s
		CacheShardCount:        64,
		CacheCapacity:          1 << 16,
	}
}

// Load reads and parses a YAML config file at path, starting from
// Default() so unset fields keep their default value.
func Load(path string) (File, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

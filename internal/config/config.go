package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable of the download engine. Values come from
// built-in defaults, then an optional TOML file, then ROMKEEP_* environment
// overrides, in that order.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Transfer TransferConfig `toml:"transfer"`
	Provider ProviderConfig `toml:"provider"`
	Handoff  HandoffConfig  `toml:"handoff"`
}

type EngineConfig struct {
	Workers      int      `toml:"workers"`
	PollInterval Duration `toml:"poll_interval"`
	ProbeTimeout Duration `toml:"probe_timeout"`
}

type TransferConfig struct {
	BinaryName     string   `toml:"binary_name"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	IOTimeout      Duration `toml:"io_timeout"`
	RetriesSleep   Duration `toml:"retries_sleep"`
	// SpoofedUserAgent is what the troubleshoot profile presents instead of
	// the tool's default User-Agent.
	SpoofedUserAgent string `toml:"spoofed_user_agent"`
	// EnableNativeFallback permits the OS-native HTTP client as a last-resort
	// transport once the primary tool is unavailable or exhausted.
	EnableNativeFallback bool `toml:"enable_native_fallback"`
}

type ProviderConfig struct {
	// CanonicalHost is the provider's stable front host.
	CanonicalHost string `toml:"canonical_host"`
	// EdgeHostCount bounds the f1..fN numbered CDN rotation.
	EdgeHostCount int `toml:"edge_host_count"`
}

type HandoffConfig struct {
	Endpoint string `toml:"endpoint"`
	Package  string `toml:"package"`
}

// Duration lets TOML carry values like "250ms" or "45s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Workers:      4,
			PollInterval: Duration(250 * time.Millisecond),
			ProbeTimeout: Duration(3 * time.Second),
		},
		Transfer: TransferConfig{
			BinaryName:       "rclone",
			ConnectTimeout:   Duration(15 * time.Second),
			IOTimeout:        Duration(45 * time.Second),
			RetriesSleep:     Duration(0),
			SpoofedUserAgent: "curl",
		},
		Provider: ProviderConfig{
			CanonicalHost: "myrient.erista.me",
			EdgeHostCount: 8,
		},
		Handoff: HandoffConfig{
			Endpoint: "http://127.0.0.1:9666/flashgot",
			Package:  "romkeep queue",
		},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// empty or absent), and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ROMKEEP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Workers = n
		}
	}
	if v := os.Getenv("ROMKEEP_ENABLE_NATIVE_FALLBACK"); v != "" {
		cfg.Transfer.EnableNativeFallback = parseBool(v)
	}
	if v := os.Getenv("ROMKEEP_TRANSFER_BINARY"); v != "" {
		cfg.Transfer.BinaryName = v
	}
	if v := os.Getenv("ROMKEEP_CANONICAL_HOST"); v != "" {
		cfg.Provider.CanonicalHost = v
	}
	if v := os.Getenv("ROMKEEP_EDGE_HOST_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Provider.EdgeHostCount = n
		}
	}
	if v := os.Getenv("ROMKEEP_HANDOFF_ENDPOINT"); v != "" {
		cfg.Handoff.Endpoint = v
	}
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *Config) validate() error {
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers)
	}
	if c.Engine.PollInterval.Std() <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive")
	}
	if c.Provider.EdgeHostCount < 1 {
		return fmt.Errorf("provider.edge_host_count must be at least 1, got %d", c.Provider.EdgeHostCount)
	}
	if c.Transfer.BinaryName == "" {
		return fmt.Errorf("transfer.binary_name must not be empty")
	}
	return nil
}

// EdgeDomain derives the shared CDN suffix from the canonical host, e.g.
// "myrient.erista.me" -> "erista.me". Numbered edge hosts are f<N>.<suffix>.
func (p ProviderConfig) EdgeDomain() string {
	host := strings.ToLower(strings.TrimSpace(p.CanonicalHost))
	if i := strings.Index(host, "."); i >= 0 {
		return host[i+1:]
	}
	return host
}

// EdgeHost returns the n-th numbered CDN host (1-based).
func (p ProviderConfig) EdgeHost(n int) string {
	return fmt.Sprintf("f%d.%s", n, p.EdgeDomain())
}

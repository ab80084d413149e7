// Package config loads modvault settings from an optional YAML file,
// MODVAULT_* environment variables and built-in defaults, in that order of
// precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HendryAvila/modvault/internal/diagnose"
	"github.com/HendryAvila/modvault/internal/ratelimit"
	"github.com/spf13/viper"
)

// Transports.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Diagnose  diagnose.Config `mapstructure:"diagnose"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	Transport string `mapstructure:"transport"`

	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers identify the client. Empty means the socket peer is
	// the client, which is correct when nothing fronts the service.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	MaxScan int    `mapstructure:"max_scan"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint. An
// empty Endpoint runs the vault text-only.
type EmbeddingConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Model     string        `mapstructure:"model"`
	Dimension int           `mapstructure:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout"`
	APIKey    string        `mapstructure:"api_key"`
}

type AuthConfig struct {
	// Pepper keys the API key digests. Changing it invalidates every key.
	Pepper string `mapstructure:"pepper"`
	// LocalOwner is the identity of every call over stdio.
	LocalOwner string `mapstructure:"local_owner"`
	// BootstrapOwner gets a key at startup if it has none.
	BootstrapOwner string `mapstructure:"bootstrap_owner"`
}

type RateLimitConfig struct {
	AgentTools   ratelimit.Policy `mapstructure:"agent_tools"`
	PublicIngest ratelimit.Policy `mapstructure:"public_ingest"`
	Credentials  ratelimit.Policy `mapstructure:"credentials"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("server.addr", ":8420")
	v.SetDefault("server.transport", TransportHTTP)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("storage.data_dir", filepath.Join(home, ".modvault"))
	v.SetDefault("storage.max_scan", 2000)

	v.SetDefault("embedding.endpoint", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.dimension", 0)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.api_key", "")

	v.SetDefault("auth.pepper", "")
	v.SetDefault("auth.local_owner", "local")
	v.SetDefault("auth.bootstrap_owner", "")

	for key, p := range map[string]ratelimit.Policy{
		"agent_tools":   ratelimit.AgentTools,
		"public_ingest": ratelimit.PublicIngest,
		"credentials":   ratelimit.Credentials,
	} {
		v.SetDefault("ratelimit."+key+".max_attempts", p.MaxAttempts)
		v.SetDefault("ratelimit."+key+".window", p.Window)
		v.SetDefault("ratelimit."+key+".block", p.Block)
	}

	d := diagnose.DefaultConfig()
	v.SetDefault("diagnose.default_limit", d.DefaultLimit)
	v.SetDefault("diagnose.max_limit", d.MaxLimit)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. path may name a file or a directory holding
// modvault.yaml; when empty, the working directory and ~/.modvault are
// searched. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MODVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	explicitFile := false
	if path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			v.SetConfigFile(path)
			explicitFile = true
		} else {
			v.SetConfigName("modvault")
			v.AddConfigPath(path)
		}
	} else {
		v.SetConfigName("modvault")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".modvault"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicitFile || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportHTTP:
		if c.Auth.Pepper == "" {
			return errors.New("auth.pepper is required for the http transport")
		}
		if c.Server.Addr == "" {
			return errors.New("server.addr is required for the http transport")
		}
		if _, err := ratelimit.ParsePrefixes(c.Server.TrustedProxies); err != nil {
			return fmt.Errorf("server.trusted_proxies: %w", err)
		}
	case TransportStdio:
		if strings.TrimSpace(c.Auth.LocalOwner) == "" {
			return errors.New("auth.local_owner is required for the stdio transport")
		}
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Server.Transport, TransportHTTP, TransportStdio)
	}

	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	for name, p := range map[string]ratelimit.Policy{
		"agent_tools":   c.RateLimit.AgentTools,
		"public_ingest": c.RateLimit.PublicIngest,
		"credentials":   c.RateLimit.Credentials,
	} {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("ratelimit.%s: %w", name, err)
		}
	}
	if c.Diagnose.DefaultLimit <= 0 || c.Diagnose.MaxLimit <= 0 {
		return errors.New("diagnose limits must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

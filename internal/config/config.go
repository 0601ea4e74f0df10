package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Enclave    EndpointConfig
	API        EndpointConfig
	Request    RequestConfig
	Wallet     WalletConfig
	Encryption EncryptionConfig
	DevServer  DevServerConfig
}

// EndpointConfig is the base URL of one remote service. Paths such as
// "/auction" or "/clicks" are appended to it verbatim.
type EndpointConfig struct {
	URL string `mapstructure:"url"`
}

type RequestConfig struct {
	Retries     int           `mapstructure:"retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

type WalletConfig struct {
	DetectionTimeout  time.Duration `mapstructure:"detection_timeout"`
	DetectionInterval time.Duration `mapstructure:"detection_interval"`
}

type EncryptionConfig struct {
	// PublicKeyFile overrides the embedded KMS public key (PEM, SPKI).
	PublicKeyFile string `mapstructure:"public_key_file"`
}

type DevServerConfig struct {
	Port           int              `mapstructure:"port"`
	RedisAddr      string           `mapstructure:"redis_addr"`
	RedisPassword  string           `mapstructure:"redis_password"`
	JWTSecret      string           `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration    `mapstructure:"token_ttl"`
	PrivateKeyFile string           `mapstructure:"private_key_file"`
	Campaigns      []CampaignConfig `mapstructure:"campaigns"`
}

// CampaignConfig is one campaign the local emulator can award. Only settable
// from the config file.
type CampaignConfig struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	BannerURI string `mapstructure:"banner_uri"`
	URL       string `mapstructure:"url"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("enclave.url", "http://localhost:8787")
	v.SetDefault("api.url", "http://localhost:8787")
	v.SetDefault("request.retries", 3)
	v.SetDefault("request.timeout", 10*time.Second)
	v.SetDefault("request.backoff_base", time.Second)
	v.SetDefault("wallet.detection_timeout", time.Second)
	v.SetDefault("wallet.detection_interval", 100*time.Millisecond)
	v.SetDefault("devserver.port", 8787)
	v.SetDefault("devserver.redis_addr", "localhost:6379")
	v.SetDefault("devserver.jwt_secret", "prism-devserver-secret")
	v.SetDefault("devserver.token_ttl", 24*time.Hour)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/prism")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"enclave.url":                "PRISM_ENCLAVE_URL",
		"api.url":                    "PRISM_API_URL",
		"request.retries":            "PRISM_RETRIES",
		"request.timeout":            "PRISM_TIMEOUT",
		"request.backoff_base":       "PRISM_BACKOFF_BASE",
		"wallet.detection_timeout":   "PRISM_WALLET_DETECTION_TIMEOUT",
		"wallet.detection_interval":  "PRISM_WALLET_DETECTION_INTERVAL",
		"encryption.public_key_file": "PRISM_PUBLIC_KEY_FILE",
		"devserver.port":             "PRISM_DEVSERVER_PORT",
		"devserver.redis_addr":       "REDIS_ADDR",
		"devserver.redis_password":   "REDIS_PASSWORD",
		"devserver.jwt_secret":       "PRISM_JWT_SECRET",
		"devserver.token_ttl":        "PRISM_TOKEN_TTL",
		"devserver.private_key_file": "PRISM_PRIVATE_KEY_FILE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the fields the SDK cannot run without.
func (c *Config) Validate() error {
	for _, r := range []struct {
		val  string
		name string
	}{
		{c.Enclave.URL, "PRISM_ENCLAVE_URL"},
		{c.API.URL, "PRISM_API_URL"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
		u, err := url.Parse(r.val)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid URL for %s: %q", r.name, r.val)
		}
	}
	if c.Request.Retries < 1 {
		return fmt.Errorf("PRISM_RETRIES must be >= 1, got %d", c.Request.Retries)
	}
	if c.Request.Timeout <= 0 {
		return fmt.Errorf("PRISM_TIMEOUT must be positive, got %s", c.Request.Timeout)
	}
	if c.Wallet.DetectionInterval <= 0 {
		return fmt.Errorf("PRISM_WALLET_DETECTION_INTERVAL must be positive, got %s", c.Wallet.DetectionInterval)
	}
	return nil
}

// EnclaveURL returns the enclave base URL without a trailing slash.
func (c *Config) EnclaveURL() string { return strings.TrimRight(c.Enclave.URL, "/") }

// APIURL returns the tracking API base URL without a trailing slash.
func (c *Config) APIURL() string { return strings.TrimRight(c.API.URL, "/") }

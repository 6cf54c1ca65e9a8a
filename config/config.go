package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/everFinance/ensagent/ens"
	"github.com/everFinance/ensagent/schema"
	"github.com/everFinance/goether"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingRpcUrl      = errors.New("missing_rpc_url")
	ErrMissingPrivateKey  = errors.New("missing_private_key")
	ErrInvalidPrivateKey  = errors.New("invalid_private_key")
	ErrUnsupportedNetwork = ens.ErrUnsupportedNetwork
)

const (
	DefaultNetwork   = ens.Mainnet
	DefaultPort      = ":3000"
	DefaultRateLimit = "60-M"
	DefaultCacheTTL  = 15
)

// Config is built once at process start and passed down explicitly.
type Config struct {
	schema.Config
}

func Default() *Config {
	return &Config{Config: schema.Config{
		Network:       DefaultNetwork,
		Confirmations: 1,
		Port:          DefaultPort,
		MinNameLength: schema.DefaultMinNameLength,
		CacheTTL:      DefaultCacheTTL,
		RateLimit:     DefaultRateLimit,
	}}
}

// LoadFile reads a yaml file on top of the defaults. An empty path returns the defaults.
func LoadFile(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	by, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(by, &c.Config); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv overrides file values with any environment variable that is set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	str("NETWORK", &c.Network)
	str("RPC_URL", &c.RpcUrl)
	str("PRIVATE_KEY", &c.PrivateKey)
	if v, err := strconv.ParseUint(strings.TrimSpace(getenv("CONFIRMATIONS")), 10, 64); err == nil {
		c.Confirmations = v
	}
	str("PORT", &c.Port)
	str("METRIC_PORT", &c.MetricPort)
	num("MIN_NAME_LENGTH", &c.MinNameLength)
	num("CACHE_TTL", &c.CacheTTL)
	str("RATE_LIMIT", &c.RateLimit)
	str("SENTRY_DSN", &c.SentryDsn)
	str("RECOVERY_LOG", &c.Recovery.LogPath)
	str("RECOVERY_DB", &c.Recovery.BoltDir)
	if v := strings.TrimSpace(getenv("KAFKA_URI")); v != "" {
		c.Kafka.Start = true
		c.Kafka.Uri = v
	}
}

// Overrides are call-time values; they win over file and environment.
type Overrides struct {
	Network    string
	RpcUrl     string
	PrivateKey string
}

func (c Config) With(o Overrides) Config {
	if o.Network != "" {
		c.Network = o.Network
	}
	if o.RpcUrl != "" {
		c.RpcUrl = o.RpcUrl
	}
	if o.PrivateKey != "" {
		c.PrivateKey = o.PrivateKey
	}
	return c
}

type Resolved struct {
	Network       ens.Network
	RpcUrl        string
	Confirmations uint64
	Signer        *goether.Signer // nil when resolved for reads only
}

// ResolveRead is enough for availability and price queries.
func (c Config) ResolveRead() (*Resolved, error) {
	name := c.Network
	if name == "" {
		name = DefaultNetwork
	}
	network, err := ens.GetNetwork(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q, supported: %s", ErrUnsupportedNetwork, name, strings.Join(ens.SupportedNetworks(), ", "))
	}
	rpcUrl := strings.TrimSpace(c.RpcUrl)
	if rpcUrl == "" {
		return nil, ErrMissingRpcUrl
	}
	confirmations := c.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}
	return &Resolved{Network: network, RpcUrl: rpcUrl, Confirmations: confirmations}, nil
}

// ResolveSigning additionally requires a usable private key.
func (c Config) ResolveSigning() (*Resolved, error) {
	r, err := c.ResolveRead()
	if err != nil {
		return nil, err
	}
	key := strings.TrimPrefix(strings.TrimSpace(c.PrivateKey), "0x")
	if key == "" {
		return nil, ErrMissingPrivateKey
	}
	signer, err := goether.NewSigner(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	r.Signer = signer
	return r, nil
}

// IsConfigError reports whether err comes from configuration rather than from input or the chain.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingRpcUrl) || errors.Is(err, ErrMissingPrivateKey) ||
		errors.Is(err, ErrInvalidPrivateKey) || errors.Is(err, ErrUnsupportedNetwork)
}

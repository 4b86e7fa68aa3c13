// Package config defines the gateway process's command-line and
// environment configuration, following the teacher's Config-struct-
// plus-Validate idiom (pkg/config/config.go) generalized from an SDK's
// client settings to a server's listen/backend/auth settings.
package config

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every flag/env setting the gateway process needs at
// startup. Use Load to populate it from the command line and
// environment, then Validate to apply defaults and check required
// fields.
type Config struct {
	Port                uint16        `mapstructure:"port"`
	CoordinatorEndpoint string        `mapstructure:"coordinator-endpoint"`
	SecretKey           string        `mapstructure:"secret-key"`
	JWTSecret           string        `mapstructure:"jwt-secret"`
	RedisEndpoint       string        `mapstructure:"redis-endpoint"`
	Network             string        `mapstructure:"network"`
	NetworkEndpoint     string        `mapstructure:"network-endpoint"`
	TokenDuration       time.Duration `mapstructure:"-"`
	TokenDurationHours  int64         `mapstructure:"token-duration"`
	Auth                bool          `mapstructure:"auth"`
	Debug               bool          `mapstructure:"debug"`
	MetricsToken        string        `mapstructure:"metrics-token"`
	MaxUnitOverflow     uint64        `mapstructure:"max-unit-overflow"`

	// ControllerKey is the controller account's private key. In the
	// original service this ciphertext arrives over the wire from the
	// coordinator's account endpoint and is decrypted with SecretKey;
	// this process takes it as a flag instead since no coordinator
	// account endpoint is wired here (see DESIGN.md).
	ControllerKey string `mapstructure:"controller-key"`
}

// Load binds the gateway's flag set via pflag, reads matching
// environment variables via viper (GATEWAY_PORT, GATEWAY_AUTH, ...),
// parses args, and unmarshals the result into a Config.
func Load(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("indexer-gateway", pflag.ContinueOnError)
	flags.Uint16P("port", "p", 8080, "port the service will listen on")
	flags.String("coordinator-endpoint", "http://127.0.0.1:8000", "coordinator service endpoint")
	flags.String("secret-key", "ThisIsYourSecret", "secret key for decrypting the controller key")
	flags.StringP("jwt-secret", "j", "ThisIsYourJWT", "secret key for signing auth tokens")
	flags.String("redis-endpoint", "redis://127.0.0.1/", "redis client address")
	flags.String("network", "", "blockchain network type (mainnet, testnet, local)")
	flags.String("network-endpoint", "", "blockchain network endpoint, overrides the network's default RPC url")
	flags.Int64("token-duration", 12, "auth token duration, in hours")
	flags.BoolP("auth", "a", false, "enable auth")
	flags.BoolP("debug", "d", false, "enable debug mode")
	flags.String("metrics-token", "thisismyAuthtoken", "bearer token for prometheus metrics fetch")
	flags.Uint64("max-unit-overflow", 10, "max overflow allowed when unit is greater than the project's overflow tolerance (parsed into Config; the query engine does not read it)")
	flags.String("controller-key", "", "AES-256-GCM-encrypted controller private key, hex-encoded")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                uint16(v.GetUint("port")),
		CoordinatorEndpoint: v.GetString("coordinator-endpoint"),
		SecretKey:           v.GetString("secret-key"),
		JWTSecret:           v.GetString("jwt-secret"),
		RedisEndpoint:       v.GetString("redis-endpoint"),
		Network:             v.GetString("network"),
		NetworkEndpoint:     v.GetString("network-endpoint"),
		TokenDurationHours:  v.GetInt64("token-duration"),
		Auth:                v.GetBool("auth"),
		Debug:               v.GetBool("debug"),
		MetricsToken:        v.GetString("metrics-token"),
		MaxUnitOverflow:     v.GetUint64("max-unit-overflow"),
		ControllerKey:       v.GetString("controller-key"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills TokenDuration from TokenDurationHours and rejects a
// config with no coordinator or redis endpoint, the two settings the
// process cannot run without.
func (c *Config) Validate() error {
	if c.CoordinatorEndpoint == "" {
		return errors.New("coordinator endpoint is required")
	}
	if c.RedisEndpoint == "" {
		return errors.New("redis endpoint is required")
	}
	if c.TokenDurationHours <= 0 {
		c.TokenDurationHours = 12
	}
	c.TokenDuration = time.Duration(c.TokenDurationHours) * time.Hour
	return nil
}

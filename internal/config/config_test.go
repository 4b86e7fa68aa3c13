package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.TokenDuration.Hours() != 12 {
		t.Fatalf("expected default 12h token duration, got %v", cfg.TokenDuration)
	}
	if cfg.Auth {
		t.Fatal("expected auth to default to false")
	}
	if cfg.Network != "" {
		t.Fatalf("expected an empty default network, got %q", cfg.Network)
	}
}

func TestLoadRejectsMissingCoordinatorEndpoint(t *testing.T) {
	_, err := Load([]string{"--coordinator-endpoint", ""})
	if err == nil {
		t.Fatal("expected an error for an empty coordinator endpoint")
	}
}

func TestLoadRejectsMissingRedisEndpoint(t *testing.T) {
	_, err := Load([]string{"--redis-endpoint", ""})
	if err == nil {
		t.Fatal("expected an error for an empty redis endpoint")
	}
}

func TestLoadAppliesNetworkEndpointOverride(t *testing.T) {
	cfg, err := Load([]string{"--network", "testnet", "--network-endpoint", "http://example.invalid:8545"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != "testnet" {
		t.Fatalf("expected network testnet, got %q", cfg.Network)
	}
	if cfg.NetworkEndpoint != "http://example.invalid:8545" {
		t.Fatalf("expected the override endpoint to be preserved, got %q", cfg.NetworkEndpoint)
	}
}

func TestValidateNormalizesNonPositiveTokenDuration(t *testing.T) {
	cfg := &Config{
		CoordinatorEndpoint: "http://127.0.0.1:8000",
		RedisEndpoint:       "redis://127.0.0.1/",
		TokenDurationHours:  0,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.TokenDurationHours != 12 {
		t.Fatalf("expected token duration hours to default to 12, got %d", cfg.TokenDurationHours)
	}
}

package seed

import (
	"fmt"
	"strconv"
	"strings"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	ModelName string
	Orders    int
	Customers int
	Regions   int
	Seed      int64
}

func DefaultConfig() Config {
	return Config{
		ModelName: "sales",
		Orders:    5000,
		Customers: 200,
		Regions:   6,
		Seed:      42,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "SEMQUERY_SEED_MODEL", &cfg.ModelName); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SEMQUERY_SEED_ORDERS", &cfg.Orders); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SEMQUERY_SEED_CUSTOMERS", &cfg.Customers); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SEMQUERY_SEED_REGIONS", &cfg.Regions); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "SEMQUERY_SEED_RANDOM_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.ModelName) == "" {
		return Config{}, fmt.Errorf("SEMQUERY_SEED_MODEL is required")
	}
	if cfg.Orders <= 0 {
		return Config{}, fmt.Errorf("SEMQUERY_SEED_ORDERS must be > 0")
	}
	if cfg.Customers <= 0 {
		return Config{}, fmt.Errorf("SEMQUERY_SEED_CUSTOMERS must be > 0")
	}
	if cfg.Regions <= 0 || cfg.Regions > len(regionNames) {
		return Config{}, fmt.Errorf("SEMQUERY_SEED_REGIONS must be between 1 and %d", len(regionNames))
	}

	cfg.ModelName = strings.TrimSpace(cfg.ModelName)
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = raw
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

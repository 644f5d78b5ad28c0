package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTPConfig holds the REST listener address.
type HTTPConfig struct {
	Addr string
}

// BusConfig holds message bus settings. An empty RedisURL selects the
// in-process bus.
type BusConfig struct {
	RedisURL       string
	StreamPrefix   string
	Group          string
	Consumer       string
	Block          *time.Duration
	RequestTimeout time.Duration
	JournalPath    string
	LocalShards    int
}

// StoreConfig holds saga store settings. An empty DatabaseURL selects the
// in-memory store, persisted through WALPath when set.
type StoreConfig struct {
	DatabaseURL    string
	WALPath        string
	OutboxInterval time.Duration
	OutboxBatch    int
}

// GatewayConfig holds the owning services' read endpoints. Empty URLs
// select in-memory clients, which suits local development.
type GatewayConfig struct {
	CatalogURL   string
	InventoryURL string
	IdentityURL  string
}

// SyncConfig holds the read-model reconciliation schedule.
type SyncConfig struct {
	Schedule string
}

// LoadHTTP reads the REST listener address from env.
func LoadHTTP() (HTTPConfig, error) {
	addr, err := requiredString("HTTP_ADDR")
	if err != nil {
		return HTTPConfig{}, err
	}
	return HTTPConfig{Addr: addr}, nil
}

// LoadBus reads bus settings from env.
func LoadBus() (BusConfig, error) {
	cfg := BusConfig{
		RedisURL:     strings.TrimSpace(os.Getenv("BUS_REDIS_URL")),
		StreamPrefix: strings.TrimSpace(os.Getenv("BUS_STREAM_PREFIX")),
		Group:        strings.TrimSpace(os.Getenv("BUS_GROUP")),
		Consumer:     strings.TrimSpace(os.Getenv("BUS_CONSUMER")),
		JournalPath:  strings.TrimSpace(os.Getenv("BUS_JOURNAL_PATH")),
	}

	var err error
	if cfg.Block, err = optionalDuration("BUS_BLOCK"); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = durationOrDefault("BUS_REQUEST_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.LocalShards, err = intOrDefault("BUS_LOCAL_SHARDS", 4); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadStore reads saga store settings from env.
func LoadStore() (StoreConfig, error) {
	cfg := StoreConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		WALPath:     strings.TrimSpace(os.Getenv("SAGA_WAL_PATH")),
	}

	var err error
	if cfg.OutboxInterval, err = durationOrDefault("OUTBOX_INTERVAL", 100*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.OutboxBatch, err = intOrDefault("OUTBOX_BATCH", 100); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadGateway reads the owning services' endpoints from env.
func LoadGateway() (GatewayConfig, error) {
	return GatewayConfig{
		CatalogURL:   strings.TrimSpace(os.Getenv("CATALOG_URL")),
		InventoryURL: strings.TrimSpace(os.Getenv("INVENTORY_URL")),
		IdentityURL:  strings.TrimSpace(os.Getenv("IDENTITY_URL")),
	}, nil
}

// LoadSync reads the reconciliation schedule from env.
func LoadSync() (SyncConfig, error) {
	schedule := strings.TrimSpace(os.Getenv("SYNC_SCHEDULE"))
	if schedule == "" {
		schedule = "@every 1m"
	}
	return SyncConfig{Schedule: schedule}, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func durationOrDefault(name string, fallback time.Duration) (time.Duration, error) {
	val, err := optionalDuration(name)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return fallback, nil
	}
	return *val, nil
}

func intOrDefault(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

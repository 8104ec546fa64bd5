package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"synthvault/internal/config"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

// ============================================================================
// Test: defaults and overrides
// ============================================================================

func TestLoadDefaults(t *testing.T) {
	path := writeRegistry(t, "assets:\n  - asset: WETH\n    feed: ETH-USD\n")
	t.Setenv("SYNTH_REGISTRY_FILE", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("NATSURL: got %q", cfg.NATSURL)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Errorf("server addrs: got %q and %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.PersistBatchSize != 50 {
		t.Errorf("PersistBatchSize: got %d, want 50", cfg.PersistBatchSize)
	}
	if cfg.SnapshotInterval != 5*time.Minute {
		t.Errorf("SnapshotInterval: got %v, want 5m", cfg.SnapshotInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeRegistry(t, "assets:\n  - asset: WETH\n    feed: ETH-USD\n")
	t.Setenv("SYNTH_REGISTRY_FILE", path)
	t.Setenv("SYNTH_NATS_URL", "nats://broker:4222")
	t.Setenv("SYNTH_PERSIST_BATCH_SIZE", "200")
	t.Setenv("SYNTH_PERSIST_FLUSH_TIMEOUT", "250ms")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.NATSURL != "nats://broker:4222" {
		t.Errorf("NATSURL: got %q", cfg.NATSURL)
	}
	if cfg.PersistBatchSize != 200 {
		t.Errorf("PersistBatchSize: got %d, want 200", cfg.PersistBatchSize)
	}
	if cfg.PersistFlushTimeout != 250*time.Millisecond {
		t.Errorf("PersistFlushTimeout: got %v, want 250ms", cfg.PersistFlushTimeout)
	}
}

func TestLoadMalformedIntFallsBack(t *testing.T) {
	path := writeRegistry(t, "assets:\n  - asset: WETH\n    feed: ETH-USD\n")
	t.Setenv("SYNTH_REGISTRY_FILE", path)
	t.Setenv("SYNTH_RECORD_CHAN_SIZE", "not-a-number")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RecordChanSize != 1024 {
		t.Errorf("RecordChanSize: got %d, want default 1024", cfg.RecordChanSize)
	}
}

// ============================================================================
// Test: asset registry
// ============================================================================

func TestRegistryParsing(t *testing.T) {
	path := writeRegistry(t, `assets:
  - asset: WETH
    feed: ETH-USD
  - asset: WBTC
    feed: BTC-USD
`)
	t.Setenv("SYNTH_REGISTRY_FILE", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	assets := cfg.AssetNames()
	feeds := cfg.FeedNames()
	if len(assets) != 2 || assets[0] != "WETH" || assets[1] != "WBTC" {
		t.Errorf("assets: got %v", assets)
	}
	if len(feeds) != 2 || feeds[0] != "ETH-USD" || feeds[1] != "BTC-USD" {
		t.Errorf("feeds: got %v", feeds)
	}
}

func TestRegistryMissingFile(t *testing.T) {
	t.Setenv("SYNTH_REGISTRY_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := config.Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want wrapped os.ErrNotExist", err)
	}
}

func TestRegistryEmpty(t *testing.T) {
	path := writeRegistry(t, "assets: []\n")
	t.Setenv("SYNTH_REGISTRY_FILE", path)

	if _, err := config.Load(); err == nil {
		t.Error("expected error for empty registry")
	}
}

func TestRegistryIncompleteEntry(t *testing.T) {
	path := writeRegistry(t, "assets:\n  - asset: WETH\n")
	t.Setenv("SYNTH_REGISTRY_FILE", path)

	if _, err := config.Load(); err == nil {
		t.Error("expected error for entry without a feed")
	}
}

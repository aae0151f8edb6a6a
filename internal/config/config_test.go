package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Chat.DeliveryTimeout != 2*time.Second {
		t.Errorf("DeliveryTimeout = %s, want 2s", cfg.Chat.DeliveryTimeout)
	}
	rule := cfg.MessageRule()
	if rule.Limit != 5 || rule.Window != 10*time.Second {
		t.Errorf("MessageRule = %+v, want 5 per 10s", rule)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("WORKER_POOL_SIZE", "8")
	t.Setenv("DELIVERY_TIMEOUT", "500ms")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("MESSAGE_RATE_LIMIT", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.WS(); got.ListenAddr != ":9090" || got.WorkerPoolSize != 8 {
		t.Errorf("WS() = %+v", got)
	}
	if got := cfg.Hub().DeliveryTimeout; got != 500*time.Millisecond {
		t.Errorf("Hub().DeliveryTimeout = %s, want 500ms", got)
	}
	if got := cfg.NATSClient().URL; got != "nats://nats:4222" {
		t.Errorf("NATSClient().URL = %q", got)
	}
	if got := cfg.MessageRule().Limit; got != 20 {
		t.Errorf("MessageRule().Limit = %d, want 20", got)
	}
}

func TestLoadRejectsBadPoolSize(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted WORKER_POOL_SIZE=0")
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DB_DSN is missing")
	}

	t.Setenv("DB_DSN", "postgres://localhost/dm")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWT_SECRET is missing")
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "file::memory:")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PUSH_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SEND_RATE_LIMIT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.PushTimeout != 750*time.Millisecond {
		t.Errorf("PushTimeout = %v, want 750ms", cfg.PushTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.SendRateLimit != 30 {
		t.Errorf("SendRateLimit = %d, want fallback 30", cfg.SendRateLimit)
	}
	if cfg.S3.Enabled() {
		t.Error("S3 should be disabled without S3_ENDPOINT")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DSN", "x")
	t.Setenv("JWT_SECRET", "y")
	t.Setenv("DB_DRIVER", "mysql")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

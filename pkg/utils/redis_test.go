package utils

import (
	"context"
	"testing"
	"time"
)

func TestRedisConfig_Defaults(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if got.PoolSize != 20 {
		t.Fatalf("unexpected pool size: %d", got.PoolSize)
	}
	if got.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected dial timeout: %v", got.DialTimeout)
	}
}

func TestAcquireConcurrencyCap_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireConcurrencyCap(ctx, nil, "k", 1, time.Minute); err == nil {
		t.Fatalf("nil client must be rejected")
	}
}

func TestConcurrencyScriptsCompile(t *testing.T) {
	if concurrencyAcquireScript == nil || concurrencyReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

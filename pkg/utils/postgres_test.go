package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 25 || got.MaxIdleConns != 25 {
		t.Fatalf("unexpected pool sizes: %+v", got)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %v", got.PingTimeout)
	}
}

func TestPostgresPoolConfig_ExplicitValuesKept(t *testing.T) {
	in := PostgresPoolConfig{MaxOpenConns: 5, ConnMaxLifetime: time.Minute}
	got := in.withDefaults()
	if got.MaxOpenConns != 5 || got.ConnMaxLifetime != time.Minute {
		t.Fatalf("explicit values overridden: %+v", got)
	}
}

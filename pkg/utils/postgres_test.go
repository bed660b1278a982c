package utils

import (
	"testing"
	"time"
)

func TestPoolDefaultsStaySmall(t *testing.T) {
	cfg := PostgresPoolConfig{}.withDefaults()
	if cfg.MaxOpenConns != 8 {
		t.Fatalf("expected 8 max open conns, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 4 {
		t.Fatalf("expected 4 max idle conns, got %d", cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("expected 30m conn lifetime, got %s", cfg.ConnMaxLifetime)
	}
	if cfg.PingTimeout != 5*time.Second {
		t.Fatalf("expected 5s ping timeout, got %s", cfg.PingTimeout)
	}
}

func TestPoolDefaultsKeepExplicitValues(t *testing.T) {
	in := PostgresPoolConfig{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: 10 * time.Second,
		PingTimeout:     time.Second,
	}
	if got := in.withDefaults(); got != in {
		t.Fatalf("expected explicit pool config unchanged, got %+v", got)
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "production", Port: 8080},
		Call:  CallConfig{Account: "alice"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callkit", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		RTC:   RTCConfig{TokenSecret: "secret"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		Call:  CallConfig{Account: "alice"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callkit", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_LocalAllowsLoopbackSignaling(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Call: CallConfig{Account: "alice"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DBEnabled() || c.RedisEnabled() {
		t.Fatalf("expected DB and redis disabled without hosts")
	}
	if c.RTC.TokenTTL != 10*time.Minute {
		t.Fatalf("expected default token ttl, got %v", c.RTC.TokenTTL)
	}
}

func TestValidate_ProductionRequiresAccountAndRedis(t *testing.T) {
	c := Config{
		App: AppConfig{Env: "production", Port: 8080},
		DB:  DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callkit", SSLMode: "require"},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without account and redis")
	}
}

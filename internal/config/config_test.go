package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("PORT", "")
	t.Setenv("POLL_INTERVAL", "")

	cfg := Load()

	if cfg.ServerAddr != ":8080" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.NotifyInterval != 3*time.Second {
		t.Errorf("NotifyInterval = %v", cfg.NotifyInterval)
	}
	if cfg.RelayReportInterval != 5*time.Second {
		t.Errorf("RelayReportInterval = %v", cfg.RelayReportInterval)
	}
	if cfg.MaxTransientFailures != 5 {
		t.Errorf("MaxTransientFailures = %d", cfg.MaxTransientFailures)
	}
	if cfg.JWTSecret == "" {
		t.Error("expected generated JWT secret")
	}
	if cfg.DebridBaseURL != "https://api.real-debrid.com/rest/1.0" {
		t.Errorf("DebridBaseURL = %q", cfg.DebridBaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("USER_ID", "424242")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("WORKER_COUNT", "-1")
	t.Setenv("MAX_UPLOAD_MB", "50")
	t.Setenv("RD_API_URL", "http://localhost:1234/rest/1.0/")

	cfg := Load()

	if cfg.ServerAddr != ":9090" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.ChatID != 424242 {
		t.Errorf("ChatID = %d", cfg.ChatID)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.WorkerCount != 3 {
		t.Errorf("invalid WORKER_COUNT should fall back, got %d", cfg.WorkerCount)
	}
	if cfg.MaxUploadBytes != 50*1024*1024 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.DebridBaseURL != "http://localhost:1234/rest/1.0" {
		t.Errorf("trailing slash not trimmed: %q", cfg.DebridBaseURL)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{BotToken: "b", DebridToken: "r", ChatID: 1}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.DebridToken = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing RD_TOKEN to fail")
	}
}

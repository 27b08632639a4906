package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEmptyServerConfig_Defaults(t *testing.T) {
	cfg := EmptyServerConfig()

	if got := cfg.GetPort(); got != 3000 {
		t.Errorf("GetPort() = %d, want 3000", got)
	}
	if got := cfg.GetRefreshRateHz(); got != 50 {
		t.Errorf("GetRefreshRateHz() = %d, want 50", got)
	}
	if got := cfg.GetShutdownTimeout(); got != time.Second {
		t.Errorf("GetShutdownTimeout() = %v, want 1s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 10*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 10s", got)
	}
	if got := cfg.GetHealthListen(); got != "" {
		t.Errorf("GetHealthListen() = %q, want empty", got)
	}
	if cfg.GetSynthetic() || cfg.GetDebug() {
		t.Error("synthetic and debug should default to false")
	}
}

func TestLoadServerConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "server.json")

	testJSON := `{
  "port": 8081,
  "refresh_rate_hz": 20,
  "shutdown_timeout": "250ms",
  "health_listen": "localhost:50051",
  "synthetic": true
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadServerConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetPort() != 8081 {
		t.Errorf("GetPort() = %d, want 8081", cfg.GetPort())
	}
	if cfg.GetRefreshRateHz() != 20 {
		t.Errorf("GetRefreshRateHz() = %d, want 20", cfg.GetRefreshRateHz())
	}
	if cfg.GetShutdownTimeout() != 250*time.Millisecond {
		t.Errorf("GetShutdownTimeout() = %v, want 250ms", cfg.GetShutdownTimeout())
	}
	if cfg.GetHealthListen() != "localhost:50051" {
		t.Errorf("GetHealthListen() = %q", cfg.GetHealthListen())
	}
	if !cfg.GetSynthetic() {
		t.Error("GetSynthetic() = false, want true")
	}
	// Fields omitted from the file keep their defaults.
	if cfg.GetWriteTimeout() != 10*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want default 10s", cfg.GetWriteTimeout())
	}
}

func TestLoadServerConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("server.yaml", "port: 1"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "missing.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"port out of range", write("port.json", `{"port": 70000}`), "port must be between"},
		{"zero rate", write("rate.json", `{"refresh_rate_hz": 0}`), "refresh_rate_hz must be positive"},
		{"bad duration", write("dur.json", `{"shutdown_timeout": "soon"}`), "invalid shutdown_timeout"},
		{"bad write timeout", write("wt.json", `{"write_timeout": "1 minute"}`), "invalid write_timeout"},
		{"too large", write("big.json", `{"port": 3000, "pad": "`+strings.Repeat("x", 70*1024)+`"}`), "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServerConfig(tt.path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Overrides(t *testing.T) {
	cfg := EmptyServerConfig()
	cfg.SetPort(4000)
	cfg.SetRefreshRateHz(10)
	cfg.SetHealthListen(":50051")
	cfg.SetSynthetic(true)
	cfg.SetDebug(true)

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.GetPort() != 4000 || cfg.GetRefreshRateHz() != 10 || cfg.GetHealthListen() != ":50051" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if !cfg.GetSynthetic() || !cfg.GetDebug() {
		t.Error("bool overrides not applied")
	}
}

func TestGetShutdownTimeout_InvalidFallsBack(t *testing.T) {
	bad := "never"
	cfg := &ServerConfig{ShutdownTimeout: &bad}
	if got := cfg.GetShutdownTimeout(); got != time.Second {
		t.Errorf("GetShutdownTimeout() = %v, want default on parse error", got)
	}
}

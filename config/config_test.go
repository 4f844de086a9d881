package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Files.SectionSize != 10*MiB || cfg.Coordinator.LeaseTimeout != 100*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorq.yaml")
	data := `
coordinator:
  rpc_addr: ":9100"
  lease_timeout: 30s
files:
  dir: /data/sensors
  section_size: 4MiB
ingest:
  redis_addr: 127.0.0.1:6379
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Coordinator.RPCAddr != ":9100" || cfg.Coordinator.LeaseTimeout != 30*time.Second {
		t.Fatalf("coordinator = %+v", cfg.Coordinator)
	}
	if cfg.Coordinator.ReapInterval != 2500*time.Millisecond {
		t.Fatalf("unset fields should keep defaults, got %v", cfg.Coordinator.ReapInterval)
	}
	if cfg.Files.SectionSize != 4*MiB || cfg.Files.Dir != "/data/sensors" {
		t.Fatalf("files = %+v", cfg.Files)
	}
	if cfg.Ingest.Queue != "default" {
		t.Fatalf("ingest queue = %q", cfg.Ingest.Queue)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsBadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("files:\n  section_size: lots\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SENSORQ_LEASE_TIMEOUT": "5m",
		"SENSORQ_SECTION_SIZE":  "512 KiB",
		"SENSORQ_WORKERS":       "4",
		"SENSORQ_ORIGIN":        "10.0.0.7:12345",
	}
	cfg := Default()
	if err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Coordinator.LeaseTimeout != 5*time.Minute || cfg.Files.SectionSize != 512*KiB || cfg.Worker.Count != 4 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Files.AdvertisedOrigin() != "10.0.0.7:12345" {
		t.Fatalf("origin = %q", cfg.Files.AdvertisedOrigin())
	}

	bad := Default()
	err := bad.ApplyEnv(func(k string) (string, bool) {
		if k == "SENSORQ_WORKERS" {
			return "many", true
		}
		return "", false
	})
	if err == nil || !strings.Contains(err.Error(), "SENSORQ_WORKERS") {
		t.Fatalf("expected error naming the variable, got %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Coordinator.LeaseTimeout = 0
	cfg.Worker.Count = 0
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"lease_timeout", "worker.count", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestAdvertisedOrigin(t *testing.T) {
	cases := map[string]string{
		":12345":         "127.0.0.1:12345",
		"0.0.0.0:8080":   "127.0.0.1:8080",
		"10.1.2.3:12345": "10.1.2.3:12345",
	}
	for addr, want := range cases {
		if got := (FilesConfig{HTTPAddr: addr}).AdvertisedOrigin(); got != want {
			t.Errorf("AdvertisedOrigin(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output %q", out)
	}
	if _, err := NewLogger(&buf, LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
}

func TestParseByteSizeRejectsOverflow(t *testing.T) {
	if _, err := ParseByteSize("20EB"); err == nil {
		t.Fatal("expected error for a size beyond int64")
	}
}

func TestByteSizeString(t *testing.T) {
	if got := (10 * MiB).String(); got != "10 MiB" {
		t.Fatalf("String = %q", got)
	}
}

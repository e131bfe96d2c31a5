package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batcher.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BATCHER_SERVER_URL", "")
	cfg, err := Load(writeConfig(t, `
server_url: http://localhost:5000
results:
  base_dir: ./out
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.RequestTimeout)
	}
	if cfg.Results.PoolSize != 1 || cfg.Results.QueueCapacity != 32 {
		t.Fatalf("unexpected results defaults %+v", cfg.Results)
	}
	if cfg.NATS.URL != "" || cfg.Redis.Addr != "" {
		t.Fatal("optional backends must stay disabled")
	}
}

func TestLoadNATSRequiresSubject(t *testing.T) {
	_, err := Load(writeConfig(t, `
server_url: http://localhost:5000
results:
  base_dir: ./out
nats:
  url: nats://localhost:4222
`))
	if err == nil {
		t.Fatal("expected error for nats without subject")
	}
}

func TestLoadServerURLFromEnv(t *testing.T) {
	t.Setenv("BATCHER_SERVER_URL", "http://api:5000")
	cfg, err := Load(writeConfig(t, "results:\n  base_dir: ./out\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "http://api:5000" {
		t.Fatalf("unexpected server url %q", cfg.ServerURL)
	}
}

func TestLoadRejectsMissingFields(t *testing.T) {
	t.Setenv("BATCHER_SERVER_URL", "")
	for _, body := range []string{
		"results:\n  base_dir: ./out\n",
		"server_url: http://localhost:5000\n",
	} {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

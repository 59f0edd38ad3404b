package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kifu.yaml")
	data := []byte(`
listen: ":9090"
ogs:
  base_url: https://ogs.example
  user_id: 42
push:
  transport: nats
retry_interval_sec: 3
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"KIFU_LISTEN", "KIFU_OGS_URL", "KIFU_TOKEN", "KIFU_USER_ID", "KIFU_PUSH_TRANSPORT", "KIFU_SOCKET_URL", "KIFU_RECONNECT_WAIT_SEC", "KIFU_RETRY_INTERVAL_SEC"} {
		t.Setenv(key, "")
	}
	t.Setenv("KIFU_LOG_LEVEL", "debug")
	t.Setenv("NATS_URL", "nats://relay:4222")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	want := Config{LogLevel: "debug", Listen: ":9090", RetryIntervalSec: 3}
	want.OGS.BaseURL = "https://ogs.example"
	want.OGS.UserID = 42
	want.Push.Transport = TransportNATS
	want.Push.NATSURL = "nats://relay:4222"
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.retryInterval(); got != 3*time.Second {
		t.Errorf("retryInterval = %v, want 3s", got)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "no user", env: map[string]string{}},
		{name: "bad transport", env: map[string]string{"KIFU_USER_ID": "7", "KIFU_PUSH_TRANSPORT": "carrier-pigeon"}},
		{name: "bad token", env: map[string]string{"KIFU_TOKEN": "not-a-jwt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"KIFU_USER_ID", "KIFU_TOKEN", "KIFU_PUSH_TRANSPORT"} {
				t.Setenv(key, tt.env[key])
			}
			if _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

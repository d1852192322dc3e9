package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Daemons) != 1 {
		t.Fatalf("daemons = %d, want 1 default", len(cfg.Daemons))
	}
	if cfg.Daemons[0].Host != "127.0.0.1" || cfg.Daemons[0].Port != 9091 {
		t.Errorf("default daemon = %+v", cfg.Daemons[0])
	}
	if cfg.Refresh.IntervalSec != 1 || cfg.Refresh.DurationSec != 60 {
		t.Errorf("refresh defaults = %+v", cfg.Refresh)
	}
	if !cfg.Notifications.Enabled || cfg.Notifications.IntervalSec != 30 {
		t.Errorf("notification defaults = %+v", cfg.Notifications)
	}
	if cfg.Server.Enabled {
		t.Error("ops server must be opt-in")
	}
}

func TestLoad_FileWithDaemonList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
telegram:
  token: "12345:abc"
access:
  whitelist: "100, 200"
daemons:
  - name: seedbox
    host: seedbox.local
    port: 9092
    username: admin
    password: secret
  - name: local
    host: 127.0.0.1
    port: 9091
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if len(cfg.Daemons) != 2 {
		t.Fatalf("daemons = %d, want 2", len(cfg.Daemons))
	}
	if cfg.Daemons[0].Name != "seedbox" || cfg.Daemons[0].Port != 9092 {
		t.Errorf("first daemon = %+v", cfg.Daemons[0])
	}

	ids, err := cfg.WhitelistIDs()
	if err != nil {
		t.Fatalf("WhitelistIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != 100 || ids[1] != 200 {
		t.Errorf("ids = %v", ids)
	}
}

func TestValidate_MissingToken(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("empty token must fail validation")
	}
}

func TestWhitelistIDs_Malformed(t *testing.T) {
	cfg := &Config{Access: AccessConfig{Whitelist: "100,abc"}}
	if _, err := cfg.WhitelistIDs(); err == nil {
		t.Error("non-numeric entry must fail")
	}
}

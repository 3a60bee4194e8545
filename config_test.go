package raknet

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raknet.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
max_mtu = 1200
resend_interval = "250ms"
session_timeout = "30s"
server_name = "MCPE;raknet"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxMTU != 1200 || cfg.ResendInterval != 250*time.Millisecond || cfg.SessionTimeout != 30*time.Second {
		t.Fatalf("cfg %+v", cfg)
	}
	if cfg.ServerName != "MCPE;raknet" {
		t.Fatalf("server name %q", cfg.ServerName)
	}
	def := DefaultConfig()
	if cfg.TickInterval != def.TickInterval || cfg.PingInterval != def.PingInterval || cfg.Protocol != def.Protocol {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	for _, body := range []string{
		`max_mtu = 100`,
		`tick_interval = "soon"`,
		`protocol = 300`,
		`max_mtu = `,
	} {
		if _, err := LoadConfig(writeConfig(t, body)); err == nil {
			t.Fatalf("%q loaded", body)
		}
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("missing file loaded")
	}
}

func TestNewOptions(t *testing.T) {
	o, err := newOptions(nil)
	if err != nil || o.logger == nil || o.cfg != DefaultConfig() {
		t.Fatalf("defaults %+v, %v", o.cfg, err)
	}
	cfg := DefaultConfig()
	cfg.TickInterval = 0
	if _, err := newOptions([]Option{WithConfig(cfg)}); err == nil {
		t.Fatal("invalid config accepted")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "satipd.conf")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
# satipd.conf
listen_addr = :5554
stream_count = 2
max_clients = 4
oscam_host = 127.0.0.1
oscam_port = 9000
oscam_rate_qpm = 120.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":5554" {
		t.Errorf("ListenAddr = %q, want :5554", cfg.ListenAddr)
	}
	if cfg.StreamCount != 2 {
		t.Errorf("StreamCount = %d, want 2", cfg.StreamCount)
	}
	if cfg.MaxClients != 4 {
		t.Errorf("MaxClients = %d, want 4", cfg.MaxClients)
	}
	if cfg.OSCamHost != "127.0.0.1" || cfg.OSCamPort != 9000 {
		t.Errorf("OSCam = %s:%d, want 127.0.0.1:9000", cfg.OSCamHost, cfg.OSCamPort)
	}
	if cfg.OSCamRateQPM != 120.5 {
		t.Errorf("OSCamRateQPM = %v, want 120.5", cfg.OSCamRateQPM)
	}
	if !cfg.OSCamEnabled() {
		t.Error("OSCamEnabled() should be true when oscam_host is set")
	}

	// Fields left unset fall back to Default().
	if cfg.FrontendCount != 1 {
		t.Errorf("FrontendCount = %d, want default 1", cfg.FrontendCount)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

func TestLoadRejectsBadOSCamPort(t *testing.T) {
	path := writeConfig(t, "oscam_host = 127.0.0.1\noscam_port = 0\n")
	if _, err := Load(path); err == nil {
		t.Error("Load should reject oscam_host without a positive oscam_port")
	}
}

func TestLoadRejectsNonPositiveCounts(t *testing.T) {
	cases := []string{
		"frontend_count = 0\n",
		"stream_count = -1\n",
		"max_clients = 0\n",
		"rtcp_update_rate = 0\n",
	}
	for _, body := range cases {
		path := writeConfig(t, body)
		if _, err := Load(path); err == nil {
			t.Errorf("Load(%q) should fail validation", body)
		}
	}
}

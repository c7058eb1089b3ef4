package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
serial:
  name: /dev/ttyS0
  baudRate: 9600
  readTimeoutMs: 50
ptl:
  sof: 245
  acksEnabled: true
task:
  tickMs: 10
ipc:
  socketPath: /tmp/octopus/ipc_socket
simulator:
  enabled: true
  targetPort: /tmp/octopus-sim
  baudRate: 9600
  tickMs: 10
datastore:
  sqlite:
    path: /var/lib/octopus/history.db
diagnostics:
  enabled: false
wsBridge:
  enabled: true
  host: 0.0.0.0
  port: 8088
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfigParsesAllSections(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Serial.Name != "/dev/ttyS0" {
		t.Errorf("serial.name = %q", cfg.Serial.Name)
	}
	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("serial.baudRate = %d", cfg.Serial.BaudRate)
	}
	if cfg.PTL.SOF != 0xF5 {
		t.Errorf("ptl.sof = %#x", cfg.PTL.SOF)
	}
	if !cfg.PTL.AcksEnabled {
		t.Error("ptl.acksEnabled = false")
	}
	if cfg.Task.TickMs != 10 {
		t.Errorf("task.tickMs = %d", cfg.Task.TickMs)
	}
	if cfg.IPC.SocketPath != "/tmp/octopus/ipc_socket" {
		t.Errorf("ipc.socketPath = %q", cfg.IPC.SocketPath)
	}
	if !cfg.Simulator.Enabled {
		t.Error("simulator.enabled = false")
	}
	if cfg.WSBridge.Port != 8088 {
		t.Errorf("wsBridge.port = %d", cfg.WSBridge.Port)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestGetSerialConfigDefaultsReadTimeout(t *testing.T) {
	path := writeTempConfig(t, "serial:\n  name: /dev/ttyUSB0\n  baudRate: 115200\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	sc := cfg.GetSerialConfig()
	if sc.ReadTimeout != 100*time.Millisecond {
		t.Errorf("expected default 100ms read timeout, got %v", sc.ReadTimeout)
	}
	if sc.Name != "/dev/ttyUSB0" || sc.Baud != 115200 {
		t.Errorf("unexpected serial config: %+v", sc)
	}
}

func TestGetSerialConfigHonorsExplicitTimeout(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	sc := cfg.GetSerialConfig()
	if sc.ReadTimeout != 50*time.Millisecond {
		t.Errorf("expected 50ms read timeout, got %v", sc.ReadTimeout)
	}
}

func TestDefaultProducesUsableConfig(t *testing.T) {
	cfg := Default()
	if cfg.Serial.Name == "" || cfg.IPC.SocketPath == "" {
		t.Error("Default() left required fields empty")
	}
	if cfg.PTL.SOF != 0xF5 {
		t.Errorf("Default() ptl.sof = %#x", cfg.PTL.SOF)
	}
}

package bootloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaudRate != 230400 {
		t.Fatalf("baud rate: got %d", cfg.BaudRate)
	}
	if cfg.HandshakeTimeout != 20*time.Second {
		t.Fatalf("handshake timeout: got %s", cfg.HandshakeTimeout)
	}
	if cfg.FlashTimeout != 360*time.Second {
		t.Fatalf("flash timeout: got %s", cfg.FlashTimeout)
	}
	if cfg.FlashRetries != 5 {
		t.Fatalf("flash retries: got %d", cfg.FlashRetries)
	}
	if cfg.FirmwareDir != filepath.Join(cfg.CacheDir, "firmware") {
		t.Fatalf("firmware dir not under cache dir: %s", cfg.FirmwareDir)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaudRate != DefaultConfig().BaudRate {
		t.Fatalf("expected defaults, got baud %d", cfg.BaudRate)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootload.yaml")
	yaml := `
cacheDir: /opt/bootload
firmwareBucket: custom-firmware
baudRate: 115200
flashTimeoutSeconds: 120
flashRetries: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.CacheDir != "/opt/bootload" {
		t.Fatalf("cache dir: got %s", cfg.CacheDir)
	}
	if cfg.FirmwareDir != filepath.Join("/opt/bootload", "firmware") {
		t.Fatalf("firmware dir must follow the cache dir: %s", cfg.FirmwareDir)
	}
	if cfg.FirmwareBucket != "custom-firmware" {
		t.Fatalf("bucket: got %s", cfg.FirmwareBucket)
	}
	if cfg.BaudRate != 115200 {
		t.Fatalf("baud: got %d", cfg.BaudRate)
	}
	if cfg.FlashTimeout != 120*time.Second {
		t.Fatalf("flash timeout: got %s", cfg.FlashTimeout)
	}
	if cfg.FlashRetries != 3 {
		t.Fatalf("retries: got %d", cfg.FlashRetries)
	}
	// Untouched fields keep their defaults.
	if cfg.ToolsBucket != DefaultConfig().ToolsBucket {
		t.Fatalf("tools bucket: got %s", cfg.ToolsBucket)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootload.yaml")
	if err := os.WriteFile(path, []byte("baudRate: [nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}

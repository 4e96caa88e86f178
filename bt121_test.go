package bootloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func setupImageTools(t *testing.T) (Config, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ToolsDir = t.TempDir()

	base := filepath.Join(cfg.ToolsDir, "bt121_image_tools")
	for _, dir := range []string{
		filepath.Join(base, "gatt_files"),
		filepath.Join(base, "dephy_gatt_broadcast_bt121"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, "gatt_files", "2.xml"), []byte("<gatt/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfg, base
}

func TestBuildBTImage(t *testing.T) {
	cfg, base := setupImageTools(t)

	// The image tools would produce this; the fake runner doesn't, so
	// stage it up front.
	image := filepath.Join(base, "dephy_gatt_broadcast_bt121", "dephy_gatt_broadcast_bt121_Exo-1234.bin")
	if err := os.WriteFile(image, []byte("image"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	builder := &BTImageBuilder{cfg: cfg, runner: runner}

	got, err := builder.Build(2, "1234")
	if err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(base, "output", "dephy_gatt_broadcast_bt121_Exo-1234.bin")
	if got != want {
		t.Fatalf("image path: got %s, want %s", got, want)
	}
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("image not moved into output: %v", err)
	}

	// The gatt template must be installed before the generator runs.
	if _, err := os.Stat(filepath.Join(base, "dephy_gatt_broadcast_bt121", "gatt.xml")); err != nil {
		t.Fatalf("gatt template not installed: %v", err)
	}

	if len(runner.calls) != 2 {
		t.Fatalf("expected 2 tool invocations, got %d", len(runner.calls))
	}
	gen := runner.calls[0]
	if gen.dir != base || gen.name != "python3" || gen.args[0] != "bt121_gatt_broadcast_img.py" || gen.args[1] != "1234" {
		t.Fatalf("wrong generator invocation: %+v", gen)
	}
	build := runner.calls[1]
	if build.dir != base || filepath.Base(build.name) != "bgbuild.exe" {
		t.Fatalf("wrong bgbuild invocation: %+v", build)
	}
}

func TestBuildBTImageMissingTemplate(t *testing.T) {
	cfg, _ := setupImageTools(t)

	builder := &BTImageBuilder{cfg: cfg, runner: &fakeRunner{}}
	_, err := builder.Build(9, "1234")

	var missing *NoBluetoothImageError
	if !errors.As(err, &missing) {
		t.Fatalf("expected NoBluetoothImageError, got %v", err)
	}
}

func TestBuildBTImageGeneratorFailure(t *testing.T) {
	cfg, _ := setupImageTools(t)

	runner := &fakeRunner{errs: []error{errors.New("exit status 1")}}
	builder := &BTImageBuilder{cfg: cfg, runner: runner}

	if _, err := builder.Build(2, "1234"); err == nil {
		t.Fatal("expected a generator failure to propagate")
	}
	if len(runner.calls) != 1 {
		t.Fatalf("bgbuild must not run after a failed generator; got %d calls", len(runner.calls))
	}
}

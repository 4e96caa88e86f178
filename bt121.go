package bootloader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// BTImageBuilder produces the firmware image flashed onto the bt121
// radio. The image embeds the device's bluetooth address and GATT
// broadcast level, so it is generated on demand with the bt121 image
// tools rather than downloaded from the store.
type BTImageBuilder struct {
	cfg    Config
	runner Runner
}

// NewBTImageBuilder returns a builder that runs the real image tools.
func NewBTImageBuilder(cfg Config) *BTImageBuilder {
	return &BTImageBuilder{cfg: cfg, runner: newExecRunner()}
}

// Build generates the bt121 image for the given GATT level and bluetooth
// address and returns its path. Everything inside the image tools
// directory is self-referencing, so the tools are run with that
// directory as their working directory.
func (b *BTImageBuilder) Build(level int, address string) (string, error) {
	base := filepath.Join(b.cfg.ToolsDir, "bt121_image_tools")

	gattTemplate := filepath.Join(base, "gatt_files", fmt.Sprintf("%d.xml", level))
	if _, err := os.Stat(gattTemplate); err != nil {
		return "", &NoBluetoothImageError{Template: gattTemplate}
	}

	gattFile := filepath.Join(base, "dephy_gatt_broadcast_bt121", "gatt.xml")
	if err := copyFile(gattTemplate, gattFile); err != nil {
		return "", errors.Wrap(err, "failed to install gatt template")
	}

	pkgLog.Infof("building bluetooth image for address %s", address)
	err := b.runner.Run(base, "python3", []string{"bt121_gatt_broadcast_img.py", address}, b.cfg.FlashTimeout)
	if err != nil {
		return "", errors.Wrap(err, "bt121_gatt_broadcast_img.py failed")
	}

	bgbuild := filepath.Join("smart-ready-1.7.0-217", "bin", "bgbuild.exe")
	project := filepath.Join("dephy_gatt_broadcast_bt121", "project.xml")
	if err := b.runner.Run(base, bgbuild, []string{project}, b.cfg.FlashTimeout); err != nil {
		return "", errors.Wrap(err, "bgbuild.exe failed")
	}

	outputDir := filepath.Join(base, "output")
	if stale, err := filepath.Glob(filepath.Join(outputDir, "*.bin")); err == nil {
		for _, f := range stale {
			os.Remove(f)
		}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create image output directory")
	}

	image := fmt.Sprintf("dephy_gatt_broadcast_bt121_Exo-%s.bin", address)
	built := filepath.Join(base, "dephy_gatt_broadcast_bt121", image)
	final := filepath.Join(outputDir, image)
	if err := os.Rename(built, final); err != nil {
		return "", errors.Wrap(err, "image tools did not produce an image")
	}

	return final, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

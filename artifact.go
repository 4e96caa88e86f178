package bootloader

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// Store is the artifact store collaborator: it fetches a named object
// from a named bucket to a local destination. The S3-backed
// implementation lives in store.go.
type Store interface {
	Download(object, bucket, dest string) error
}

// Resolver maps a (device, hardware, target, version) tuple to a local
// firmware file, downloading it from the store on a cache miss.
// Resolution is idempotent: an already cached file is returned without
// any network access.
type Resolver struct {
	cfg   Config
	store Store

	// Override, when set, bypasses resolution entirely and uses the
	// given file. Set from the CLI's --file flag.
	Override string
}

// NewResolver returns a Resolver backed by the given store.
func NewResolver(cfg Config, store Store) *Resolver {
	return &Resolver{cfg: cfg, store: store}
}

// FirmwareFileName builds the canonical artifact name for a firmware
// file. The side suffix is present only on chiral devices' manage
// firmware, which differs between left and right units.
func FirmwareFileName(deviceType, hardware string, target Target, fwVersion, side string) string {
	name := fmt.Sprintf("%s_rigid-%s_%s_firmware-%s", deviceType, hardware, target, fwVersion)
	if side != "" && target == TargetMn {
		name += fmt.Sprintf("_side-%s", side)
	}
	return name + "." + target.Extension()
}

// Resolve returns the local path of the firmware file for target on dev.
// On a cache miss the file is downloaded from the firmware bucket using
// the posix-style object key {version}/{deviceType}/{hardware}/{file}.
// The store's download primitive does not reliably surface failures, so
// existence is re-checked afterwards; a still missing file yields a
// FirmwareNotFoundError.
func (r *Resolver) Resolve(dev *Device, target Target, fwVersion string) (string, error) {
	if r.Override != "" {
		if _, err := os.Stat(r.Override); err != nil {
			return "", errors.Wrapf(err, "firmware file override %s is not usable", r.Override)
		}
		return r.Override, nil
	}

	// Radio payloads are built locally (bt121) or carried by the tool
	// itself (xbee); there is nothing to fetch from the store.
	if !target.IsMCU() {
		return "", nil
	}

	side := ""
	if dev.Chiral {
		side = dev.Side
	}
	name := FirmwareFileName(dev.DeviceType, dev.Hardware, target, fwVersion, side)

	dest := filepath.Join(r.cfg.FirmwareDir, fwVersion, dev.DeviceType, dev.Hardware, name)
	if _, err := os.Stat(dest); err == nil {
		pkgLog.Debugf("firmware cache hit: %s", dest)
		return dest, nil
	}

	// S3 keys always use forward slashes, regardless of host OS.
	object := path.Join(fwVersion, dev.DeviceType, dev.Hardware, name)

	pkgLog.Infof("downloading %s", object)
	if err := r.store.Download(object, r.cfg.FirmwareBucket, dest); err != nil {
		pkgLog.Debugf("download of %s failed: %v", object, err)
	}

	if _, err := os.Stat(dest); err != nil {
		return "", &FirmwareNotFoundError{
			Object:  object,
			Version: fwVersion,
			Device:  dev.DeviceType,
			Target:  target,
		}
	}

	if target == TargetHabs {
		if err := validateHexFile(dest); err != nil {
			return "", errors.Wrapf(err, "downloaded %s is not a valid hex file", name)
		}
	}

	return dest, nil
}

// validateHexFile parses an Intel HEX firmware file to catch truncated
// or corrupt downloads before the flashing tool touches the hardware.
func validateHexFile(file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	mem := gohex.NewMemory()
	return mem.ParseIntelHex(f)
}

// EnsureTools makes sure every vendor flashing tool is present in the
// tools cache, downloading any that are missing from the tools bucket.
func EnsureTools(cfg Config, store Store) error {
	for _, tool := range cfg.Tools {
		dest := filepath.Join(cfg.ToolsDir, tool)
		if _, err := os.Stat(dest); err == nil {
			continue
		}

		pkgLog.Infof("tool %s not found, downloading", tool)
		if err := store.Download(tool, cfg.ToolsBucket, dest); err != nil {
			return err
		}
		if _, err := os.Stat(dest); err != nil {
			return &DownloadError{Bucket: cfg.ToolsBucket, Object: tool, Dest: dest, Err: err}
		}
	}
	return nil
}

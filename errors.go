package bootloader

import (
	"fmt"
	"strings"
	"time"
)

// UnknownTargetError indicates a target name that does not correspond to
// any microcontroller or radio.
type UnknownTargetError struct {
	Name string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target %q: expected one of habs, ex, re, mn, bt121, xbee, or the aggregate all/mcu", e.Name)
}

// DeviceNotFoundError indicates that no serial port yielded a valid,
// flashable device.
type DeviceNotFoundError struct {
	// Port is the user-supplied port name, or empty if all ports were
	// scanned.
	Port string
}

func (e *DeviceNotFoundError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("no device found on port %s", e.Port)
	}
	return "no device found on any serial port"
}

// HandshakeTimeoutError indicates that a target never confirmed
// bootloader activation within the allotted time.
type HandshakeTimeoutError struct {
	Target  Target
	Timeout time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("target %s did not confirm bootloader activation within %s", e.Target, e.Timeout)
}

// UnrecognizedStateError indicates that the device reported a bootloader
// state outside the known protocol values. This is a protocol mismatch
// and is fatal, unlike a transient transport error.
type UnrecognizedStateError struct {
	State byte
}

func (e *UnrecognizedStateError) Error() string {
	return fmt.Sprintf("device reported unrecognized bootloader state 0x%02X", e.State)
}

// FirmwareNotFoundError indicates that artifact resolution exhausted its
// options without producing a local firmware file.
type FirmwareNotFoundError struct {
	Object  string
	Version string
	Device  string
	Target  Target
}

func (e *FirmwareNotFoundError) Error() string {
	return fmt.Sprintf("no firmware found for %s %s version %s (object %s)",
		e.Device, e.Target, e.Version, e.Object)
}

// FlashTimeoutError indicates that a vendor flashing tool exceeded its
// wall-clock budget and was killed. A hung tool is assumed stuck, not
// transiently failing, so this is never retried.
type FlashTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *FlashTimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %s and was killed", e.Tool, e.Timeout)
}

// FlashFailedError indicates that a vendor flashing tool exhausted its
// retry budget with non-zero exits. Cmd carries the full command vector
// for diagnostics.
type FlashFailedError struct {
	Target   Target
	Cmd      []string
	Attempts int
	Err      error
}

func (e *FlashFailedError) Error() string {
	return fmt.Sprintf("flashing %s failed after %d attempts: %v (command: %s)",
		e.Target, e.Attempts, e.Err, strings.Join(e.Cmd, " "))
}

func (e *FlashFailedError) Unwrap() error { return e.Err }

// DownloadError indicates that a file failed to download from the
// artifact store.
type DownloadError struct {
	Bucket string
	Object string
	Dest   string
	Err    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to download %s from bucket %s to %s: %v",
		e.Object, e.Bucket, e.Dest, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// NoCredentialsError indicates that the shared AWS credentials file does
// not exist, so the artifact store cannot be reached.
type NoCredentialsError struct {
	Path string
}

func (e *NoCredentialsError) Error() string {
	return fmt.Sprintf("no AWS credentials file at %s", e.Path)
}

// NoBluetoothImageError indicates that the gatt template needed to build
// a bt121 image is missing from the image tools.
type NoBluetoothImageError struct {
	Template string
}

func (e *NoBluetoothImageError) Error() string {
	return fmt.Sprintf("no gatt template at %s; re-run init to refresh the bluetooth image tools", e.Template)
}

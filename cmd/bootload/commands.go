package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	bootloader "github.com/TheGreatDanbeano/boot-loader"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// flashFlags holds the flag set shared by every flashing command.
type flashFlags struct {
	fs *flag.FlagSet

	port      *string
	device    *string
	hardware  *string
	from      *string
	to        *string
	file      *string
	baud      *int
	forceHabs *bool
	verbose   *bool

	level   *int
	address *string
	buddy   *string
}

func newFlashFlags(name string) *flashFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &flashFlags{
		fs:        fs,
		port:      fs.String("port", "", "Serial port the device is on, e.g., COM3 or /dev/ttyACM0. Scans all ports if empty."),
		device:    fs.String("device", "", "Device type override, e.g., actpack."),
		hardware:  fs.String("hardware", "", "Hardware (rigid) version override, e.g., 4.1B."),
		from:      fs.String("from", "", "Firmware version currently on the device, e.g., 7.2.0."),
		to:        fs.String("to", "", "Firmware version to flash, e.g., 9.1.0."),
		file:      fs.String("file", "", "Path to a firmware file, bypassing artifact resolution."),
		baud:      fs.Int("baudRate", 0, "Device baud rate. Defaults to the configured rate."),
		forceHabs: fs.Bool("force-habs", false, "Flash habs even if the device reports no Habs board."),
		verbose:   fs.Bool("v", false, "Enable verbose logging."),
		level:     fs.Int("level", 2, "GATT broadcast level for bt121."),
		address:   fs.String("address", "", "Bluetooth address of the device."),
		buddy:     fs.String("buddyAddress", "", "Bluetooth address of the device's companion."),
	}
}

func configPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bootload.yaml"
	}
	return filepath.Join(home, ".bootload.yaml")
}

func loadConfig(f *flashFlags) (bootloader.Config, error) {
	if *f.verbose {
		log.SetLevel(log.DebugLevel)
	}
	bootloader.SetLogger(log.StandardLogger())

	cfg, err := bootloader.LoadConfig(configPath())
	if err != nil {
		return cfg, err
	}
	if *f.baud != 0 {
		cfg.BaudRate = *f.baud
	}
	return cfg, nil
}

// setup prepares the environment for flashing: cache directories, store
// access, vendor tools, and the device itself.
func setup(cfg bootloader.Config, port string) (*bootloader.S3Store, *bootloader.Device, error) {
	if err := cfg.SetupCache(); err != nil {
		return nil, nil, err
	}

	store, err := bootloader.NewS3Store(cfg.Profile)
	if err != nil {
		return nil, nil, err
	}

	log.Info("checking store access...")
	if err := bootloader.CheckCredentials(cfg, store); err != nil {
		return nil, nil, err
	}

	log.Info("checking vendor tools...")
	if err := bootloader.EnsureTools(cfg, store); err != nil {
		return nil, nil, err
	}

	log.Info("looking for a device...")
	dev, err := bootloader.FindDevice(port, cfg.BaudRate)
	if err != nil {
		return nil, nil, err
	}

	return store, dev, nil
}

// stdinPrompter asks the operator questions on the terminal.
type stdinPrompter struct {
	in *bufio.Reader
}

func newPrompter() *stdinPrompter {
	return &stdinPrompter{in: bufio.NewReader(os.Stdin)}
}

func (p *stdinPrompter) Confirm(msg string) bool {
	fmt.Printf("%s [y/N] ", msg)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (p *stdinPrompter) AcknowledgePowerCycle() {
	fmt.Print("Please power cycle the device, then press ENTER ")
	p.in.ReadString('\n')
}

// runFlash is the shared body of every flashing command.
func runFlash(targetName string, f *flashFlags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	prompt := newPrompter()
	if !prompt.Confirm("Please make sure the battery is removed and/or the power supply is disconnected!") {
		return errors.New("aborted by operator")
	}

	store, dev, err := setup(cfg, *f.port)
	if err != nil {
		return err
	}
	defer dev.Close()

	// Operator overrides beat whatever the device reports about itself.
	if *f.device != "" {
		dev.DeviceType = *f.device
	}
	if *f.hardware != "" {
		dev.Hardware = *f.hardware
	}
	if *f.from != "" {
		dev.Firmware = *f.from
	}
	dev.Address = *f.address
	dev.BuddyAddress = *f.buddy

	plan, err := bootloader.NewPlan(targetName, dev.HasHabs, *f.forceHabs)
	if err != nil {
		return err
	}

	resolver := bootloader.NewResolver(cfg, store)
	resolver.Override = *f.file
	if *f.file == "" && targetRequiresVersion(plan) && *f.to == "" {
		return errors.New("either --to or --file is required")
	}

	seq := bootloader.NewSequencer(cfg, resolver, bootloader.NewHandshake(), bootloader.NewInvoker(cfg), prompt)
	if err := seq.Run(dev, plan, *f.to); err != nil {
		return err
	}

	log.Info("all targets flashed")
	return nil
}

func targetRequiresVersion(plan []bootloader.Target) bool {
	for _, t := range plan {
		if t.IsMCU() {
			return true
		}
	}
	return false
}

// cmdTarget builds the single-target sugar commands (mn, ex, re, habs).
func cmdTarget(name string) func(args []string) error {
	return func(args []string) error {
		f := newFlashFlags(name)
		if err := f.fs.Parse(args); err != nil {
			return err
		}
		return runFlash(name, f)
	}
}

func cmdFlash(args []string) error {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		return errors.New("usage: bootload flash <target> [flags] (target: mn, ex, re, habs, bt121, xbee, mcu, all)")
	}
	targetName := args[0]

	f := newFlashFlags("flash")
	if err := f.fs.Parse(args[1:]); err != nil {
		return err
	}
	return runFlash(targetName, f)
}

func cmdBT121(args []string) error {
	f := newFlashFlags("bt121")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if *f.address == "" {
		return errors.New("bt121 requires --address")
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	// The bt121 image embeds the address, so it has to be built before
	// the device gives up its port.
	builder := bootloader.NewBTImageBuilder(cfg)
	image, err := builder.Build(*f.level, *f.address)
	if err != nil {
		return err
	}
	log.Infof("bluetooth image ready: %s", image)

	*f.file = image
	return runFlash("bt121", f)
}

func cmdXbee(args []string) error {
	f := newFlashFlags("xbee")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if *f.address == "" || *f.buddy == "" {
		return errors.New("xbee requires --address and --buddyAddress")
	}
	return runFlash("xbee", f)
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	devices := fs.Bool("devices", false, "List device types that can be bootloaded.")
	hardware := fs.Bool("hardware", false, "List available hardware versions.")
	versions := fs.Bool("versions", false, "List available firmware versions.")
	verbose := fs.Bool("v", false, "Enable verbose logging.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	bootloader.SetLogger(log.StandardLogger())

	cfg, err := bootloader.LoadConfig(configPath())
	if err != nil {
		return err
	}

	store, err := bootloader.NewS3Store(cfg.Profile)
	if err != nil {
		return err
	}
	if err := bootloader.CheckCredentials(cfg, store); err != nil {
		return err
	}

	inv, err := store.ListFirmware(cfg.FirmwareBucket)
	if err != nil {
		return err
	}

	all := !(*devices || *hardware || *versions)

	if *devices || all {
		fmt.Println("Available devices:")
		for _, d := range inv.Devices() {
			fmt.Printf("\t- %s\n", d)
		}
	}
	if *hardware || all {
		fmt.Println("Available hardware:")
		for _, hw := range inv.Hardware() {
			fmt.Printf("\t- %s\n", hw)
		}
	}
	if *versions || all {
		fmt.Println("Available versions:")
		for _, v := range inv.Versions() {
			fmt.Printf("\t- %s\n", v)
		}
	}
	return nil
}

func cmdInit(args []string) error {
	f := newFlashFlags("init")
	if err := f.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	_, dev, err := setup(cfg, *f.port)
	if err != nil {
		return err
	}
	defer dev.Close()

	log.Infof("ready to flash %s (hardware %s, firmware %s) on %s",
		dev.DeviceType, dev.Hardware, dev.Firmware, dev.Port)
	return nil
}

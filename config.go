package bootloader

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config holds everything the flashing workflow needs to know about its
// environment: cache locations, artifact store buckets, and the timing
// discipline around handshakes and tool invocations. It is built once at
// startup and passed explicitly; nothing in the package reads
// process-wide state.
type Config struct {
	// CacheDir is the root under which firmware and tools are kept.
	CacheDir string
	// FirmwareDir is where downloaded firmware files are cached.
	FirmwareDir string
	// ToolsDir is where the vendor flashing tools are installed.
	ToolsDir string

	// FirmwareBucket is the private bucket holding firmware artifacts.
	FirmwareBucket string
	// ToolsBucket is the public bucket holding the vendor tools.
	ToolsBucket string
	// Profile is the AWS shared-credentials profile to use.
	Profile string
	// ConnectionFile is a known object in the firmware bucket used to
	// verify that the credentials actually work.
	ConnectionFile string

	// Tools lists the vendor tool artifacts required for flashing.
	Tools []string

	// BaudRate is the serial baud rate used to talk to devices.
	BaudRate int

	// HandshakeTimeout bounds one tunnel-mode activation attempt.
	HandshakeTimeout time.Duration
	// ResendInterval is how often the activation command is re-issued
	// while waiting for confirmation.
	ResendInterval time.Duration
	// FlashTimeout bounds one vendor tool invocation. A tool that runs
	// longer is killed and the run aborts.
	FlashTimeout time.Duration
	// FlashRetries is the total number of attempts for a tool that
	// exits non-zero.
	FlashRetries int
	// PowerCycleSettle is the wait after the operator confirms a power
	// cycle before the next target is touched.
	PowerCycleSettle time.Duration
}

// DefaultConfig returns the standard configuration rooted under the
// user's home directory.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cacheDir := filepath.Join(home, ".bootload")

	return Config{
		CacheDir:    cacheDir,
		FirmwareDir: filepath.Join(cacheDir, "firmware"),
		ToolsDir:    filepath.Join(cacheDir, "tools"),

		FirmwareBucket: "dephy-firmware",
		ToolsBucket:    "dephy-bootloader-tools",
		Profile:        "dephy",
		ConnectionFile: "connection_file.txt",

		Tools: []string{
			"psocbootloaderhost.exe",
			"bt121_image_tools",
			"DfuSeCommand.exe",
			"STMFlashLoader.exe",
			"stm32flash",
			"xb24c.py",
		},

		BaudRate: 230400,

		HandshakeTimeout: 20 * time.Second,
		ResendInterval:   5 * time.Second,
		FlashTimeout:     360 * time.Second,
		FlashRetries:     5,
		PowerCycleSettle: 3 * time.Second,
	}
}

// configFile mirrors the subset of Config that may be overridden from a
// YAML file. Pointer fields distinguish "absent" from zero values.
type configFile struct {
	CacheDir         *string `yaml:"cacheDir"`
	FirmwareBucket   *string `yaml:"firmwareBucket"`
	ToolsBucket      *string `yaml:"toolsBucket"`
	Profile          *string `yaml:"profile"`
	BaudRate         *int    `yaml:"baudRate"`
	HandshakeTimeout *int    `yaml:"handshakeTimeoutSeconds"`
	FlashTimeout     *int    `yaml:"flashTimeoutSeconds"`
	FlashRetries     *int    `yaml:"flashRetries"`
}

// LoadConfig returns the default configuration merged with overrides
// from the YAML file at path, if it exists. A missing file is not an
// error; a malformed one is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "failed to read config file %s", path)
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	if file.CacheDir != nil {
		cfg.CacheDir = *file.CacheDir
		cfg.FirmwareDir = filepath.Join(cfg.CacheDir, "firmware")
		cfg.ToolsDir = filepath.Join(cfg.CacheDir, "tools")
	}
	if file.FirmwareBucket != nil {
		cfg.FirmwareBucket = *file.FirmwareBucket
	}
	if file.ToolsBucket != nil {
		cfg.ToolsBucket = *file.ToolsBucket
	}
	if file.Profile != nil {
		cfg.Profile = *file.Profile
	}
	if file.BaudRate != nil {
		cfg.BaudRate = *file.BaudRate
	}
	if file.HandshakeTimeout != nil {
		cfg.HandshakeTimeout = time.Duration(*file.HandshakeTimeout) * time.Second
	}
	if file.FlashTimeout != nil {
		cfg.FlashTimeout = time.Duration(*file.FlashTimeout) * time.Second
	}
	if file.FlashRetries != nil {
		cfg.FlashRetries = *file.FlashRetries
	}

	return cfg, nil
}

// SetupCache creates the firmware and tools cache directories.
func (c Config) SetupCache() error {
	for _, dir := range []string{c.FirmwareDir, c.ToolsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create cache directory %s", dir)
		}
	}
	return nil
}

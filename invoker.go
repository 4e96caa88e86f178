package bootloader

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"
)

// Runner executes one external command with a wall-clock budget. The
// concrete runner spawns a real subprocess; tests substitute a fake.
type Runner interface {
	// Run executes name with args in dir (empty means the current
	// directory) and waits for it to exit. A process still running at
	// the deadline is killed and a FlashTimeoutError returned. A
	// non-zero exit is returned as an error.
	Run(dir, name string, args []string, timeout time.Duration) error
}

// execRunner runs commands with os/exec, streaming their output.
type execRunner struct {
	stdout io.Writer
	stderr io.Writer
}

func newExecRunner() *execRunner {
	return &execRunner{stdout: os.Stdout, stderr: os.Stderr}
}

func (r *execRunner) Run(dir, name string, args []string, timeout time.Duration) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start %s", name)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrapf(err, "%s exited with an error", name)
		}
		return nil
	case <-time.After(timeout):
		// A tool that hangs is assumed stuck. Kill it outright and
		// collect the exit so the process isn't leaked.
		cmd.Process.Kill()
		<-done
		return &FlashTimeoutError{Tool: name, Timeout: timeout}
	}
}

// Invoker runs the vendor flashing tool for one target. Each target maps
// to a fixed executable and argument vector; the invoker adds the retry
// and timeout discipline shared by all of them.
type Invoker struct {
	cfg    Config
	runner Runner
}

// NewInvoker returns an Invoker that spawns the real vendor tools.
func NewInvoker(cfg Config) *Invoker {
	return &Invoker{cfg: cfg, runner: newExecRunner()}
}

// Flash invokes the vendor tool for target on fwFile. A non-zero exit is
// assumed transient (flaky bootloader serial timing) and the identical
// command is re-run, up to the configured attempt budget; once exhausted
// a FlashFailedError carrying the command vector is returned. A timeout
// is not retried: the tool was killed and the device state is unknown.
func (inv *Invoker) Flash(target Target, fwFile string, dev *Device) error {
	argv, err := inv.command(target, fwFile, dev)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= inv.cfg.FlashRetries; attempt++ {
		pkgLog.Debugf("flashing %s, attempt %d/%d: %v", target, attempt, inv.cfg.FlashRetries, argv)

		lastErr = inv.runner.Run("", argv[0], argv[1:], inv.cfg.FlashTimeout)
		if lastErr == nil {
			return nil
		}

		var timeout *FlashTimeoutError
		if errors.As(lastErr, &timeout) {
			return lastErr
		}
		pkgLog.Warnf("flash attempt %d for %s failed: %v", attempt, target, lastErr)
	}

	return &FlashFailedError{
		Target:   target,
		Cmd:      argv,
		Attempts: inv.cfg.FlashRetries,
		Err:      lastErr,
	}
}

// trailingDigits pulls the numeric suffix out of a port name; the STM
// flash loader wants "3", not "COM3".
var trailingDigits = regexp.MustCompile(`\d+$`)

func (inv *Invoker) command(target Target, fwFile string, dev *Device) ([]string, error) {
	tools := inv.cfg.ToolsDir

	switch target {
	case TargetHabs:
		portNum := trailingDigits.FindString(dev.Port)
		if portNum == "" {
			return nil, errors.Errorf("cannot derive a port number from %q", dev.Port)
		}
		return []string{
			filepath.Join(tools, "STMFlashLoader.exe"),
			"-c",
			"--pn", portNum,
			"--br", "115200",
			"--db", "8",
			"--pr", "NONE",
			"-i", "STM32F3_7x_8x_256K",
			"-e", "--all",
			"-d", "--fn", fwFile,
			"-o", "--set", "--vals", "--User", "0xF00F",
		}, nil

	case TargetEx, TargetRe:
		return []string{
			filepath.Join(tools, "psocbootloaderhost.exe"),
			dev.Port,
			fwFile,
		}, nil

	case TargetMn:
		return []string{
			filepath.Join(tools, "DfuSeCommand.exe"),
			"-c",
			"-d",
			"--fn", fwFile,
		}, nil

	case TargetBT121:
		return []string{
			filepath.Join(tools, "stm32flash"),
			"-w", fwFile,
			"-b", "115200",
			dev.Port,
		}, nil

	case TargetXbee:
		return []string{
			"python3",
			filepath.Join(tools, "xb24c.py"),
			dev.Port,
			dev.Address,
			dev.BuddyAddress,
			"upgrade",
		}, nil
	}

	return nil, &UnknownTargetError{Name: string(target)}
}

package bootloader

import (
	"time"

	"github.com/pkg/errors"
)

// Prompter asks the operator for input between workflow steps. The CLI
// reads stdin; tests substitute a fake.
type Prompter interface {
	// Confirm asks a yes/no question and returns the answer.
	Confirm(msg string) bool
	// AcknowledgePowerCycle blocks until the operator confirms the
	// device has been power cycled.
	AcknowledgePowerCycle()
}

// flashState tracks one target's progress through the workflow.
type flashState int

const (
	statePending flashState = iota
	stateArtifactResolved
	stateBootloaderActive
	stateFlashing
	stateAwaitingPowerCycle
	stateDone
	stateFailed
)

func (s flashState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateArtifactResolved:
		return "artifact resolved"
	case stateBootloaderActive:
		return "bootloader active"
	case stateFlashing:
		return "flashing"
	case stateAwaitingPowerCycle:
		return "awaiting power cycle"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// Sequencer owns the end-to-end flashing workflow for one device: for
// each target in the plan it resolves the firmware artifact, activates
// the bootloader, hands the port to the vendor tool, and waits for the
// operator to power cycle. Everything is strictly sequential; the serial
// port and the hardware allow no overlap between targets.
type Sequencer struct {
	cfg       Config
	resolver  *Resolver
	handshake *Handshake
	invoker   *Invoker
	prompter  Prompter

	sleep func(time.Duration)
}

// NewSequencer wires the workflow together.
func NewSequencer(cfg Config, resolver *Resolver, handshake *Handshake, invoker *Invoker, prompter Prompter) *Sequencer {
	return &Sequencer{
		cfg:       cfg,
		resolver:  resolver,
		handshake: handshake,
		invoker:   invoker,
		prompter:  prompter,
		sleep:     time.Sleep,
	}
}

// Run flashes every target in plan onto dev, in order. Any failure
// aborts the whole run: a partially flashed device in an unknown state
// is more dangerous than stopping early, and no rollback is attempted.
// The device's connection must be open on entry.
func (s *Sequencer) Run(dev *Device, plan []Target, fwVersion string) error {
	for i, target := range plan {
		if err := s.flashTarget(dev, target, fwVersion); err != nil {
			return errors.Wrapf(err, "flashing %s aborted the run", target)
		}

		// The vendor tool had exclusive use of the port, so the next
		// handshake needs a fresh connection. After a full release the
		// old handle is gone entirely and Open dials from scratch.
		if i < len(plan)-1 {
			if err := dev.Open(); err != nil {
				return errors.Wrapf(err, "failed to reconnect after flashing %s", target)
			}
		}
	}
	return nil
}

func (s *Sequencer) flashTarget(dev *Device, target Target, fwVersion string) error {
	state := statePending
	fail := func(err error) error {
		state = stateFailed
		pkgLog.Debugf("%s: %s", target, state)
		return err
	}

	fwFile, err := s.resolver.Resolve(dev, target, fwVersion)
	if err != nil {
		return fail(err)
	}
	state = stateArtifactResolved
	pkgLog.Debugf("%s: %s (%s)", target, state, fwFile)

	pkgLog.Infof("setting tunnel mode for %s", target)
	if err := s.handshake.Activate(dev.Connection(), target, s.cfg.HandshakeTimeout); err != nil {
		return fail(err)
	}
	state = stateBootloaderActive
	pkgLog.Debugf("%s: %s", target, state)

	delays := target.Delays()
	s.sleep(delays.PreClose)

	// The flashing tool needs exclusive access to the port.
	if target.ReleasesPort() {
		if err := dev.Release(); err != nil {
			return fail(errors.Wrap(err, "failed to release the serial port"))
		}
	} else {
		if err := dev.Close(); err != nil {
			return fail(errors.Wrap(err, "failed to close the serial port"))
		}
	}
	s.sleep(delays.PreFlash)

	state = stateFlashing
	pkgLog.Infof("flashing %s", target)
	if err := s.invoker.Flash(target, fwFile, dev); err != nil {
		return fail(err)
	}
	s.sleep(delays.PostFlash)

	// These bootloaders do not reset reliably on their own; the
	// operator has to pull power before the target is usable again.
	state = stateAwaitingPowerCycle
	pkgLog.Debugf("%s: %s", target, state)
	s.prompter.AcknowledgePowerCycle()
	s.sleep(s.cfg.PowerCycleSettle)

	state = stateDone
	pkgLog.Infof("%s: %s", target, state)
	return nil
}

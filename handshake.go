package bootloader

import (
	"time"

	"github.com/pkg/errors"
)

// Handshake transitions one microcontroller into tunnel (bootloader)
// mode. Activation on the device side is asynchronous and a command can
// be missed while the target is mid-transition, so this is a polling
// protocol: the activate command is re-issued periodically and the state
// queried once per wait step until it confirms or the timeout runs out.
type Handshake struct {
	// ResendInterval is how often the activate command is re-issued.
	ResendInterval time.Duration
	// WaitStep is the poll period.
	WaitStep time.Duration

	sleep func(time.Duration)
}

// NewHandshake returns a Handshake with the standard 5s resend interval
// and 1s poll step.
func NewHandshake() *Handshake {
	return &Handshake{
		ResendInterval: 5 * time.Second,
		WaitStep:       time.Second,
		sleep:          time.Sleep,
	}
}

// Activate puts the target's bootloader into tunnel mode and waits for
// confirmation. Transport errors on individual sends and queries are
// suppressed, since the device is briefly unresponsive while switching
// applications; an unrecognized reported state is a protocol mismatch
// and aborts immediately. Returns a HandshakeTimeoutError if the target
// never confirms within the timeout.
func (h *Handshake) Activate(conn Connection, target Target, timeout time.Duration) error {
	if timeout <= 0 {
		return errors.Errorf("handshake timeout must be positive, got %s", timeout)
	}

	remaining := int(timeout / h.WaitStep)
	resendEvery := int(h.ResendInterval / h.WaitStep)
	if resendEvery < 1 {
		resendEvery = 1
	}

	state := TunnelIdle
	for remaining > 0 && state != TunnelActive {
		if remaining%resendEvery == 0 {
			if err := conn.ActivateBootloader(target); err != nil {
				pkgLog.Debugf("activate send for %s failed: %v", target, err)
			}
		}

		h.sleep(h.WaitStep)
		remaining--

		st, err := conn.TunnelState()
		if err != nil {
			var unrecognized *UnrecognizedStateError
			if errors.As(err, &unrecognized) {
				return errors.Wrapf(err, "failed to activate bootloader for %s", target)
			}
			pkgLog.Debugf("state query for %s failed: %v", target, err)
			continue
		}
		state = st
	}

	if state != TunnelActive {
		return &HandshakeTimeoutError{Target: target, Timeout: timeout}
	}

	pkgLog.Infof("bootloader active for %s", target)
	return nil
}

package bootloader

import (
	"time"
)

// Target identifies one flashable unit on a device: a microcontroller
// (manage, execute, regulate, habsolute) or a radio (bt121, xbee).
type Target string

// The supported targets, using their abbreviated names as they appear in
// firmware file names and in the tunnel-mode activation command.
const (
	TargetHabs  Target = "habs"
	TargetEx    Target = "ex"
	TargetRe    Target = "re"
	TargetMn    Target = "mn"
	TargetBT121 Target = "bt121"
	TargetXbee  Target = "xbee"
)

// Aggregate target names accepted on the command line. Both expand to the
// full microcontroller set.
const (
	AggregateAll = "all"
	AggregateMCU = "mcu"
)

// mcuTargets is the canonical flashing order for the microcontroller set.
// Habs and execute need long post-flash settles, and manage is flashed
// last because releasing the port for the DFU tool invalidates the
// connection entirely.
var mcuTargets = []Target{TargetHabs, TargetEx, TargetRe, TargetMn}

// firmwareExtensions maps each microcontroller to its firmware file format.
var firmwareExtensions = map[Target]string{
	TargetHabs: "hex",
	TargetEx:   "cyacd",
	TargetRe:   "cyacd",
	TargetMn:   "dfu",
}

// SettleDelays holds the empirically tuned waits around connection
// teardown and tool invocation for one target. These values come from
// observing the hardware bootloaders re-enumerate; they are not part of
// any documented protocol, so keep them configurable rather than inlined.
type SettleDelays struct {
	// PreClose is the wait between bootloader confirmation and closing
	// the serial connection.
	PreClose time.Duration
	// PreFlash is the wait between closing the connection and invoking
	// the vendor tool. Manage needs ~10s for the DFU driver to grab the
	// freed port.
	PreFlash time.Duration
	// PostFlash is the wait after the tool exits before the device is
	// responsive again.
	PostFlash time.Duration
}

var settleDelays = map[Target]SettleDelays{
	TargetHabs:  {PreClose: 0, PreFlash: 6 * time.Second, PostFlash: 20 * time.Second},
	TargetEx:    {PreClose: 2 * time.Second, PreFlash: 2 * time.Second, PostFlash: 20 * time.Second},
	TargetRe:    {PreClose: 3 * time.Second, PreFlash: 0, PostFlash: 0},
	TargetMn:    {PreClose: 0, PreFlash: 10 * time.Second, PostFlash: 0},
	TargetBT121: {PreClose: 3 * time.Second, PreFlash: 0, PostFlash: 20 * time.Second},
	TargetXbee:  {PreClose: 3 * time.Second, PreFlash: 0, PostFlash: 20 * time.Second},
}

// Extension returns the firmware file extension for the target.
func (t Target) Extension() string {
	return firmwareExtensions[t]
}

// Delays returns the settle delays applied around flashing the target.
func (t Target) Delays() SettleDelays {
	return settleDelays[t]
}

// IsMCU reports whether the target is one of the microcontrollers, as
// opposed to a radio.
func (t Target) IsMCU() bool {
	for _, m := range mcuTargets {
		if t == m {
			return true
		}
	}
	return false
}

// ReleasesPort reports whether flashing the target requires the serial
// connection to be fully released rather than just closed. The DFU tool
// used for manage cannot open the port while the old handle lingers.
func (t Target) ReleasesPort() bool {
	return t == TargetMn
}

// ParseTarget validates a target name from the command line.
func ParseTarget(name string) (Target, error) {
	switch Target(name) {
	case TargetHabs, TargetEx, TargetRe, TargetMn, TargetBT121, TargetXbee:
		return Target(name), nil
	}
	return "", &UnknownTargetError{Name: name}
}

// NewPlan resolves a requested target name into the ordered list of
// targets to flash. The aggregate names expand to the microcontroller set
// in its fixed order; habs is dropped from the expansion when the device
// does not have a Habs board, unless forceHabs is set. An explicitly
// requested target is never dropped.
func NewPlan(requested string, hasHabs, forceHabs bool) ([]Target, error) {
	if requested == AggregateAll || requested == AggregateMCU {
		plan := make([]Target, 0, len(mcuTargets))
		for _, t := range mcuTargets {
			if t == TargetHabs && !hasHabs && !forceHabs {
				continue
			}
			plan = append(plan, t)
		}
		return plan, nil
	}

	target, err := ParseTarget(requested)
	if err != nil {
		return nil, err
	}
	return []Target{target}, nil
}

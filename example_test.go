package bootloader

import (
	"log"
)

// promptless accepts every confirmation, for unattended flashing rigs.
type promptless struct{}

func (promptless) Confirm(string) bool    { return true }
func (promptless) AcknowledgePowerCycle() {}

func Example() {
	cfg := DefaultConfig()

	// The artifact store needs working AWS credentials for the
	// configured profile.
	store, err := NewS3Store(cfg.Profile)
	if err != nil {
		log.Fatalf("failed to reach the artifact store: %v", err)
	}

	// Scan every serial port for a flashable device.
	dev, err := FindDevice("", cfg.BaudRate)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	// Flash every microcontroller the device has, in dependency order.
	plan, err := NewPlan(AggregateAll, dev.HasHabs, false)
	if err != nil {
		log.Fatal(err)
	}

	seq := NewSequencer(cfg, NewResolver(cfg, store), NewHandshake(), NewInvoker(cfg), promptless{})
	if err := seq.Run(dev, plan, "9.1.0"); err != nil {
		log.Fatal(err)
	}
	log.Print("complete")
}

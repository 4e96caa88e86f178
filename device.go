// Package bootloader flashes firmware onto multi-microcontroller devices
// over a serial link.
//
// The package contains four main components. Handshake transitions a
// target microcontroller into tunnel (bootloader) mode and polls for
// confirmation. Invoker runs the vendor flashing tool for a target as a
// subprocess with a wall-clock budget and bounded retries. Resolver maps
// a (device, hardware, target, version) tuple to a locally cached
// firmware file, downloading it from the artifact store on a miss.
// Sequencer ties these together, driving the full flash workflow across
// every target installed on one device.
//
// Also included is a command line tool, found in the cmd/bootload
// directory, that exposes the workflow as per-target subcommands.
package bootloader

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
)

// TunnelState is the bootloader activation state reported by a device.
type TunnelState byte

const (
	// TunnelIdle means the target is running its application firmware.
	TunnelIdle TunnelState = 0x00
	// TunnelActive means the target's bootloader is accepting commands.
	TunnelActive TunnelState = 0x01
)

// Identity is the self-description a device reports when probed.
type Identity struct {
	DeviceType string
	Hardware   string
	Firmware   string
	HasHabs    bool
	Chiral     bool
	Side       string
}

// The Connection interface covers the serial operations the flashing
// workflow needs. Close stops using the port but may leave the driver
// holding the underlying handle; Release guarantees the port is fully
// free for another process, which the DFU tool requires.
type Connection interface {
	Open() error
	Close() error
	Release() error
	Identify() (Identity, error)
	ActivateBootloader(target Target) error
	TunnelState() (TunnelState, error)
}

// Device is one physical unit on a serial port, together with its open
// connection. The connection is exclusively owned: it must be closed
// before any flashing subprocess runs, because the port cannot be held
// by two processes at once.
type Device struct {
	Port       string
	BaudRate   int
	DeviceType string
	Hardware   string
	Firmware   string
	HasHabs    bool
	Chiral     bool
	Side       string

	// Radio addressing, used by the bt121 and xbee targets.
	Address      string
	BuddyAddress string

	conn     Connection
	released bool
}

// Connection returns the device's serial connection.
func (d *Device) Connection() Connection {
	return d.conn
}

// Open (re-)establishes the serial connection. After a Release, a fresh
// connection is created rather than reusing the discarded one.
func (d *Device) Open() error {
	if d.conn == nil || d.released {
		d.conn = dialConnection(d.Port, d.BaudRate)
		d.released = false
	}
	return d.conn.Open()
}

// Close closes the serial connection so a flashing tool can use the port.
func (d *Device) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// Release closes the connection and discards it entirely, guaranteeing
// the port is free for another process. A later Open creates a new
// connection from scratch.
func (d *Device) Release() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Release()
	d.released = true
	return err
}

// Injection points for tests and alternative transports.
var (
	dialConnection = func(port string, baud int) Connection {
		return newSerialConnection(port, baud)
	}
	listPorts = func() ([]string, error) {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(ports))
		for _, p := range ports {
			names = append(names, p.Name)
		}
		return names, nil
	}
)

// FindDevice locates a flashable device. If port is non-empty only that
// port is probed; otherwise every serial port on the system is tried in
// turn and the first that answers an identity probe wins. The returned
// device owns an open connection.
func FindDevice(port string, baud int) (*Device, error) {
	if port != "" {
		dev, err := probePort(port, baud)
		if err != nil {
			pkgLog.Debugf("probe of %s failed: %v", port, err)
			return nil, &DeviceNotFoundError{Port: port}
		}
		return dev, nil
	}

	names, err := listPorts()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate serial ports")
	}
	for _, name := range names {
		dev, err := probePort(name, baud)
		if err != nil {
			pkgLog.Debugf("probe of %s failed: %v", name, err)
			continue
		}
		return dev, nil
	}
	return nil, &DeviceNotFoundError{}
}

func probePort(port string, baud int) (*Device, error) {
	conn := dialConnection(port, baud)
	if err := conn.Open(); err != nil {
		return nil, err
	}

	id, err := conn.Identify()
	if err != nil {
		conn.Close()
		return nil, err
	}

	pkgLog.Infof("found %s (hardware %s, firmware %s) on %s",
		id.DeviceType, id.Hardware, id.Firmware, port)

	return &Device{
		Port:       port,
		BaudRate:   baud,
		DeviceType: id.DeviceType,
		Hardware:   id.Hardware,
		Firmware:   id.Firmware,
		HasHabs:    id.HasHabs,
		Chiral:     id.Chiral,
		Side:       id.Side,
		conn:       conn,
	}, nil
}

// Wire protocol opcodes. Every request is a 0xA5-prefixed frame:
// [0xA5, opcode, payload length, payload...].
const (
	opIdentify         = 0x01
	opActivateBootload = 0x02
	opTunnelState      = 0x03
)

const frameStart = 0xA5

// ack is the single-byte acknowledgement for commands without a payload
// response.
const ack = 0x06

// Identity flag bits.
const (
	flagHasHabs = 1 << 0
	flagChiral  = 1 << 1
	flagRight   = 1 << 2
)

type serialConnection struct {
	portConfig serial.Config
	port       *serial.Port
}

func newSerialConnection(port string, baud int) *serialConnection {
	c := new(serialConnection)
	c.portConfig.Name = port
	c.portConfig.Baud = baud
	c.portConfig.ReadTimeout = time.Second
	return c
}

func (c *serialConnection) Open() error {
	var err error
	c.port, err = serial.OpenPort(&c.portConfig)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", c.portConfig.Name)
	}
	// On Linux with USB serial ports, flush only works reliably after a
	// short delay that lets received data make its way up the driver
	// stack.
	time.Sleep(time.Millisecond * 100)
	c.port.Flush()
	return nil
}

func (c *serialConnection) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

func (c *serialConnection) Release() error {
	// tarm/serial holds no handles beyond the file descriptor, so a
	// close frees the port. Dropping the struct afterwards keeps anyone
	// from writing to a stale descriptor.
	return c.Close()
}

func (c *serialConnection) recv(count int) ([]byte, error) {
	resp := make([]byte, 0, count)
	for len(resp) < cap(resp) {
		buf := make([]byte, cap(resp)-len(resp))
		n, err := c.port.Read(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errors.New("read timed out")
		}
		resp = append(resp, buf[:n]...)
	}
	return resp, nil
}

func (c *serialConnection) send(opcode byte, payload []byte) error {
	if c.port == nil {
		return errors.New("connection is not open")
	}
	frame := append([]byte{frameStart, opcode, byte(len(payload))}, payload...)
	if _, err := c.port.Write(frame); err != nil {
		return err
	}
	return nil
}

func (c *serialConnection) Identify() (Identity, error) {
	if err := c.send(opIdentify, nil); err != nil {
		return Identity{}, err
	}

	header, err := c.recv(1)
	if err != nil {
		return Identity{}, err
	}
	flags := header[0]

	var fields [3]string
	for i := range fields {
		length, err := c.recv(1)
		if err != nil {
			return Identity{}, err
		}
		data, err := c.recv(int(length[0]))
		if err != nil {
			return Identity{}, err
		}
		fields[i] = string(data)
	}

	id := Identity{
		DeviceType: fields[0],
		Hardware:   fields[1],
		Firmware:   fields[2],
		HasHabs:    flags&flagHasHabs != 0,
		Chiral:     flags&flagChiral != 0,
	}
	if id.Chiral {
		if flags&flagRight != 0 {
			id.Side = "right"
		} else {
			id.Side = "left"
		}
	}
	return id, nil
}

func (c *serialConnection) ActivateBootloader(target Target) error {
	if err := c.send(opActivateBootload, []byte(target)); err != nil {
		return err
	}
	resp, err := c.recv(1)
	if err != nil {
		return err
	}
	if resp[0] != ack {
		return fmt.Errorf("activate command not acknowledged: got 0x%02X", resp[0])
	}
	return nil
}

func (c *serialConnection) TunnelState() (TunnelState, error) {
	if err := c.send(opTunnelState, nil); err != nil {
		return TunnelIdle, err
	}
	resp, err := c.recv(1)
	if err != nil {
		return TunnelIdle, err
	}
	switch TunnelState(resp[0]) {
	case TunnelIdle, TunnelActive:
		return TunnelState(resp[0]), nil
	}
	return TunnelIdle, &UnrecognizedStateError{State: resp[0]}
}

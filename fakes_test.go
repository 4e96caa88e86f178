package bootloader

import (
	"os"
	"path/filepath"
	"time"
)

// stateResult scripts one TunnelState query response.
type stateResult struct {
	state TunnelState
	err   error
}

// fakeConn is a scriptable Connection that records every call.
type fakeConn struct {
	identity    Identity
	activateErr error
	stateScript []stateResult
	// lastState is returned once the script is exhausted.
	lastState stateResult

	activations  []Target
	stateQueries int
	opens        int
	closes       int
	releases     int

	openErr error

	// record, when set, receives one event string per call, letting
	// tests assert cross-component ordering.
	record func(event string)
}

func (f *fakeConn) log(event string) {
	if f.record != nil {
		f.record(event)
	}
}

func (f *fakeConn) Open() error {
	f.opens++
	f.log("open")
	return f.openErr
}

func (f *fakeConn) Close() error {
	f.closes++
	f.log("close")
	return nil
}

func (f *fakeConn) Release() error {
	f.releases++
	f.log("release")
	return nil
}

func (f *fakeConn) Identify() (Identity, error) {
	return f.identity, nil
}

func (f *fakeConn) ActivateBootloader(target Target) error {
	f.activations = append(f.activations, target)
	f.log("activate " + string(target))
	return f.activateErr
}

func (f *fakeConn) TunnelState() (TunnelState, error) {
	f.stateQueries++
	if len(f.stateScript) > 0 {
		r := f.stateScript[0]
		f.stateScript = f.stateScript[1:]
		return r.state, r.err
	}
	return f.lastState.state, f.lastState.err
}

// runCall captures one Runner invocation.
type runCall struct {
	dir     string
	name    string
	args    []string
	timeout time.Duration
}

// fakeRunner records subprocess invocations and plays back scripted
// errors, one per call.
type fakeRunner struct {
	calls []runCall
	errs  []error

	record func(event string)
}

func (f *fakeRunner) Run(dir, name string, args []string, timeout time.Duration) error {
	copied := append([]string(nil), args...)
	f.calls = append(f.calls, runCall{dir: dir, name: name, args: copied, timeout: timeout})
	if f.record != nil {
		f.record("run " + filepath.Base(name))
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

// fakeStore writes scripted content to the destination path, or nothing
// at all when missing is set, mimicking a download primitive that does
// not surface failures.
type fakeStore struct {
	data    []byte
	missing bool
	err     error

	downloads []string
	buckets   []string
}

func (f *fakeStore) Download(object, bucket, dest string) error {
	f.downloads = append(f.downloads, object)
	f.buckets = append(f.buckets, bucket)
	if f.err != nil {
		return f.err
	}
	if f.missing {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, f.data, 0o644)
}

// fakePrompter auto-confirms everything and counts power cycle waits.
type fakePrompter struct {
	confirms    int
	powerCycles int

	record func(event string)
}

func (f *fakePrompter) Confirm(msg string) bool {
	f.confirms++
	return true
}

func (f *fakePrompter) AcknowledgePowerCycle() {
	f.powerCycles++
	if f.record != nil {
		f.record("power cycle")
	}
}

// sleepRecorder replaces time.Sleep in timing-sensitive components.
type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.slept = append(s.slept, d)
}

func (s *sleepRecorder) total() time.Duration {
	var sum time.Duration
	for _, d := range s.slept {
		sum += d
	}
	return sum
}

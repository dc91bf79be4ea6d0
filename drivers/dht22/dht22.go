// Package dht22 provides a driver for the DHT22 (AM2302) single-wire
// humidity/temperature sensor.
//
// A reading is a strict sequence on one open-drain line:
//
//	handshake      host start pulse, then the sensor's low/high acknowledgement
//	acquisition    40 low/high pulse pairs, sampled with preemption suppressed
//	decode         5 bytes MSB first, checksum over bytes 0..3
//
// The driver keeps no state between reads. It never retries; callers that
// want resilience call Read again after at least two seconds.
//
// Pin, Delay and Critical are narrow so the same protocol code runs on TinyGo
// targets, on Linux hosts and against simulated lines in tests.
package dht22

import "errors"

// Protocol timing (µs unless noted).
const (
	idleHoldMs   = 1
	startLowUs   = 1200
	releaseUs    = 40
	maxPulseUs   = 255
	bitCount     = 40
	frameBytes   = 5
	pollPeriodUs = 1
)

// Pin is one open-drain GPIO line. High releases the line (or drives it high),
// Low drives it low, Get samples the current level. Any error is the pin's own
// and is returned to the caller unchanged inside an *Error.
type Pin interface {
	Get() (bool, error)
	High() error
	Low() error
}

// Delay is a blocking busy-wait. Implementations must not yield to a
// scheduler for the microsecond form.
type Delay interface {
	SleepMicros(us uint32)
	SleepMillis(ms uint32)
}

// Critical suppresses preemption (interrupts, other goroutines or threads)
// between Enter and the matching Exit. The state returned by Enter is handed
// back to Exit unchanged.
type Critical interface {
	Enter() uintptr
	Exit(state uintptr)
}

// ErrUnsupportedMeasurement is returned by Update for measurements the sensor
// does not provide.
var ErrUnsupportedMeasurement = errors.New("dht22: unsupported measurement")

// Device wraps a line to a DHT22. It is not safe for concurrent use; the
// caller owns the pin for the duration of each Read.
type Device struct {
	pin   Pin
	delay Delay
	crit  Critical

	// cached by Update for the drivers.Sensor accessors
	last    Reading
	hasLast bool
}

// New creates a driver bound to pin. The line must already be configured as
// open-drain with a pull-up. No I/O is performed.
func New(pin Pin, d Delay, c Critical) *Device {
	return &Device{pin: pin, delay: d, crit: c}
}

// Read performs one complete handshake, acquisition and decode.
func (d *Device) Read() (Reading, error) {
	if err := d.start(); err != nil {
		return Reading{}, err
	}
	var pulses [bitCount]Pulse
	if err := d.acquire(&pulses); err != nil {
		return Reading{}, err
	}
	return Decode(pulses)
}

// start drives the host start signal and consumes the acknowledgement.
func (d *Device) start() error {
	if err := d.pin.High(); err != nil {
		return ioError(err)
	}
	d.delay.SleepMillis(idleHoldMs)

	if err := d.pin.Low(); err != nil {
		return ioError(err)
	}
	d.delay.SleepMicros(startLowUs)

	if err := d.pin.High(); err != nil {
		return ioError(err)
	}
	d.delay.SleepMicros(releaseUs)

	// Ack durations are not checked, only that both edges arrive.
	if _, err := d.measure(false); err != nil {
		return err
	}
	if _, err := d.measure(true); err != nil {
		return err
	}
	return nil
}

// acquire samples the 40 bit slots with preemption suppressed. The window is
// closed on every return path, panics included.
func (d *Device) acquire(p *[bitCount]Pulse) error {
	state := d.crit.Enter()
	defer d.crit.Exit(state)

	for i := range p {
		lo, err := d.measure(false)
		if err != nil {
			return err
		}
		hi, err := d.measure(true)
		if err != nil {
			return err
		}
		p[i] = Pulse{Low: lo, High: hi}
	}
	return nil
}

// measure returns how many microseconds the line stays at level before it
// flips. Hot path: no allocation, no locking.
func (d *Device) measure(level bool) (uint8, error) {
	for n := 0; n <= maxPulseUs; n++ {
		v, err := d.pin.Get()
		if err != nil {
			return 0, ioError(err)
		}
		if v != level {
			return uint8(n), nil
		}
		d.delay.SleepMicros(pollPeriodUs)
	}
	return 0, ErrTimeout
}

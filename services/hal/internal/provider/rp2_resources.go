//go:build rp2040 || rp2350

package provider

import (
	"machine"
	"runtime/interrupt"
	"time"

	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/provider/setups"

	"tinygo.org/x/drivers/delay"
)

func newPlatformSource(setups.ResourcePlan) (pinSource, error) { return rp2Source{}, nil }

type rp2Source struct{}

func (rp2Source) GPIO(n int) (core.GPIOHandle, error) { return &rp2GPIO{p: machine.Pin(n), n: n}, nil }

func (rp2Source) Line(n int) (core.Line, error) {
	l := rp2Line{p: machine.Pin(n)}
	// Idle state: released to the pull-up.
	return l, l.High()
}

func (rp2Source) Reset(n int) {
	machine.Pin(n).Configure(machine.PinConfig{Mode: machine.PinInput})
}

func (rp2Source) Timing() core.Timing {
	return core.Timing{Delay: rp2Delay{}, Critical: rp2Critical{}}
}

// -----------------------------------------------------------------------------
// GPIO handle
// -----------------------------------------------------------------------------

type rp2GPIO struct {
	p machine.Pin
	n int
}

func (r *rp2GPIO) Number() int { return r.n }

func (r *rp2GPIO) ConfigureInput(pull core.Pull) error {
	var mode machine.PinMode
	switch pull {
	case core.PullUp:
		mode = machine.PinInputPullup
	case core.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2GPIO) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2GPIO) Set(b bool) { r.p.Set(b) }
func (r *rp2GPIO) Get() bool  { return r.p.Get() }
func (r *rp2GPIO) Toggle() {
	if r.p.Get() {
		r.p.Low()
	} else {
		r.p.High()
	}
}

// -----------------------------------------------------------------------------
// Open-drain line
// -----------------------------------------------------------------------------

// rp2Line emulates open drain: high is an input with the pull-up enabled,
// low drives the pad. Pin access on the RP2 cannot fail.
type rp2Line struct{ p machine.Pin }

func (l rp2Line) Get() (bool, error) { return l.p.Get(), nil }

func (l rp2Line) High() error {
	l.p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return nil
}

func (l rp2Line) Low() error {
	l.p.Low()
	l.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	l.p.Low()
	return nil
}

// -----------------------------------------------------------------------------
// Timing
// -----------------------------------------------------------------------------

type rp2Delay struct{}

func (rp2Delay) SleepMicros(us uint32) { delay.Sleep(time.Duration(us) * time.Microsecond) }
func (rp2Delay) SleepMillis(ms uint32) { delay.Sleep(time.Duration(ms) * time.Millisecond) }

// rp2Critical masks interrupts on the calling core.
type rp2Critical struct{}

func (rp2Critical) Enter() uintptr      { return uintptr(interrupt.Disable()) }
func (rp2Critical) Exit(state uintptr) { interrupt.Restore(interrupt.State(state)) }

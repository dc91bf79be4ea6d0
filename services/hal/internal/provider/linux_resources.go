//go:build linux && !tinygo

package provider

import (
	"strconv"

	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/provider/setups"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func newPlatformSource(plan setups.ResourcePlan) (pinSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap(errcode.Error, "periph host init", err)
	}
	return &periphSource{chip: plan.Chip}, nil
}

type periphSource struct{ chip string }

func (s *periphSource) pin(n int) (gpio.PinIO, error) {
	p := gpioreg.ByName(s.chip + strconv.Itoa(n))
	if p == nil {
		return nil, errcode.UnknownPin
	}
	return p, nil
}

func (s *periphSource) GPIO(n int) (core.GPIOHandle, error) {
	p, err := s.pin(n)
	if err != nil {
		return nil, err
	}
	return &periphGPIO{p: p, n: n}, nil
}

func (s *periphSource) Line(n int) (core.Line, error) {
	p, err := s.pin(n)
	if err != nil {
		return nil, err
	}
	l := periphLine{p: p}
	return l, l.High()
}

func (s *periphSource) Reset(n int) {
	if p, err := s.pin(n); err == nil {
		_ = p.In(gpio.Float, gpio.NoEdge)
	}
}

func (s *periphSource) Timing() core.Timing { return hostTiming() }

// -----------------------------------------------------------------------------
// GPIO handle
// -----------------------------------------------------------------------------

type periphGPIO struct {
	p     gpio.PinIO
	n     int
	level gpio.Level // last driven level; sysfs reads of outputs are unreliable
}

func (g *periphGPIO) Number() int { return g.n }

func (g *periphGPIO) ConfigureInput(pull core.Pull) error {
	pr := gpio.Float
	switch pull {
	case core.PullUp:
		pr = gpio.PullUp
	case core.PullDown:
		pr = gpio.PullDown
	}
	return g.p.In(pr, gpio.NoEdge)
}

func (g *periphGPIO) ConfigureOutput(initial bool) error {
	g.level = gpio.Level(initial)
	return g.p.Out(g.level)
}

func (g *periphGPIO) Set(b bool) {
	g.level = gpio.Level(b)
	_ = g.p.Out(g.level)
}

func (g *periphGPIO) Get() bool { return g.p.Read() == gpio.High }
func (g *periphGPIO) Toggle()   { g.Set(!bool(g.level)) }

// -----------------------------------------------------------------------------
// Open-drain line
// -----------------------------------------------------------------------------

// periphLine releases the line by switching to a pulled-up input and pulls
// it down by driving low.
type periphLine struct{ p gpio.PinIO }

func (l periphLine) Get() (bool, error) { return l.p.Read() == gpio.High, nil }
func (l periphLine) High() error        { return l.p.In(gpio.PullUp, gpio.NoEdge) }
func (l periphLine) Low() error         { return l.p.Out(gpio.Low) }

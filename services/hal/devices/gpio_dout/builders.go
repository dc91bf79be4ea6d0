package gpio_dout

import (
	"context"

	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/util"
)

func init() {
	core.RegisterBuilder("gpio_led", builderLED{})
	core.RegisterBuilder("gpio_switch", builderSwitch{})
}

type builderLED struct{}
type builderSwitch struct{}

func (builderLED) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	return build(RoleLED, in)
}

func (builderSwitch) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	return build(RoleSwitch, in)
}

func build(role Role, in core.BuilderInput) (core.Device, error) {
	p, err := parseParams(in.Params)
	if err != nil {
		return nil, err
	}
	ph, err := in.Res.Reg.ClaimPin(in.ID, p.Pin, core.FuncGPIOOut)
	if err != nil {
		return nil, err
	}
	d := New(role, in.ID, p, ph.AsGPIO(), in.Res.Pub)
	d.release = func() { in.Res.Reg.ReleasePin(in.ID, p.Pin) }
	return d, nil
}

func parseParams(v any) (Params, error) {
	if v == nil {
		return Params{}, errcode.InvalidParams
	}
	p, err := util.Params[Params](v)
	if err != nil {
		return Params{}, errcode.Wrap(errcode.InvalidParams, "gpio_dout params", err)
	}
	return p, nil
}

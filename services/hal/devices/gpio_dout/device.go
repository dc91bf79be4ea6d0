package gpio_dout

import (
	"context"

	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/util"
	"dhtnode-go/types"
	"dhtnode-go/x/strx"
	"dhtnode-go/x/timex"
)

type Params struct {
	Pin       int    `json:"pin"`
	ActiveLow bool   `json:"active_low,omitempty"`
	Initial   bool   `json:"initial,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Name      string `json:"name,omitempty"`
}

type Role int

const (
	RoleLED Role = iota
	RoleSwitch
)

type Device struct {
	id        string
	pin       core.GPIOHandle
	activeLow bool
	pub       core.EventEmitter
	role      Role
	initial   bool
	release   func()
	// derived address for the single capability
	addr core.CapAddr
}

func New(role Role, id string, p Params, h core.GPIOHandle, pub core.EventEmitter) *Device {
	d := &Device{
		id:        id,
		pin:       h,
		activeLow: p.ActiveLow,
		pub:       pub,
		role:      role,
		initial:   p.Initial,
	}
	kind, domain := types.KindLED, "io"
	if role == RoleSwitch {
		kind, domain = types.KindSwitch, "power"
	}
	d.addr = core.CapAddr{
		Domain: strx.Coalesce(p.Domain, domain),
		Kind:   string(kind),
		Name:   strx.Coalesce(p.Name, id),
	}
	return d
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	info := types.Info{SchemaVersion: 1, Driver: "gpio_dout"}
	kind := types.KindLED
	if d.role == RoleSwitch {
		kind = types.KindSwitch
		info.Detail = types.SwitchInfo{Pin: d.pin.Number()}
	} else {
		info.Detail = types.LEDInfo{Pin: d.pin.Number()}
	}
	return []core.CapabilitySpec{{
		Domain: d.addr.Domain,
		Kind:   kind,
		Name:   d.addr.Name,
		Info:   info,
	}}
}

func (d *Device) Init(ctx context.Context) error {
	level := d.initial
	if d.activeLow {
		level = !level
	}
	if err := d.pin.ConfigureOutput(level); err != nil {
		return err
	}
	d.emitValueNow()
	return nil
}

func (d *Device) Close() error {
	if d.release != nil {
		d.release()
		d.release = nil
	}
	return nil
}

func (d *Device) Control(_ core.CapAddr, method string, payload any) (core.EnqueueResult, error) {
	switch method {
	case "set":
		on, ok := d.parseSet(payload)
		if !ok {
			return core.EnqueueResult{OK: false, Error: errcode.InvalidPayload}, nil
		}
		d.setLogical(on)
		d.emitValueNow()
		return core.EnqueueResult{OK: true}, nil
	case "toggle":
		d.setLogical(!d.getLogical())
		d.emitValueNow()
		return core.EnqueueResult{OK: true}, nil
	case "read":
		d.emitValueNow()
		return core.EnqueueResult{OK: true}, nil
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

func (d *Device) parseSet(payload any) (bool, bool) {
	if payload == nil {
		return false, false
	}
	if d.role == RoleSwitch {
		p, err := util.Params[types.SwitchSet](payload)
		return p.On, err == nil
	}
	p, err := util.Params[types.LEDSet](payload)
	return p.Level, err == nil
}

func (d *Device) setLogical(on bool) {
	level := on
	if d.activeLow {
		level = !level
	}
	d.pin.Set(level)
}

func (d *Device) getLogical() bool {
	level := d.pin.Get()
	if d.activeLow {
		level = !level
	}
	return level
}

func (d *Device) emitValueNow() {
	ts := timex.NowMs()
	switch d.role {
	case RoleSwitch:
		_ = d.pub.Emit(core.Event{
			Addr:    d.addr,
			Payload: types.SwitchValue{On: d.getLogical()},
			TSms:    ts,
		})
	default:
		var v uint8
		if d.getLogical() {
			v = 1
		}
		_ = d.pub.Emit(core.Event{
			Addr:    d.addr,
			Payload: types.LEDValue{Level: v},
			TSms:    ts,
		})
	}
}

package dht22dev

import (
	"context"
	"time"

	"dhtnode-go/drivers/dht22"
	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/util"
	"dhtnode-go/x/mathx"
	"dhtnode-go/x/strx"
)

func init() { core.RegisterBuilder("dht22", builder{}) }

const (
	// The sensor needs two seconds between conversions.
	minIntervalFloor = 2000
	maxRetries       = 3
)

type Params struct {
	Pin           int    `json:"pin"`
	Domain        string `json:"domain,omitempty"` // default "env"
	Name          string `json:"name,omitempty"`   // default device id
	MinIntervalMs uint32 `json:"min_interval_ms,omitempty"`
	Retries       int    `json:"retries,omitempty"`
}

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	if in.Params == nil {
		return nil, errcode.InvalidParams
	}
	p, err := util.Params[Params](in.Params)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidParams, "dht22 params", err)
	}

	tm := in.Res.Reg.Timing()
	if tm.Delay == nil || tm.Critical == nil {
		return nil, errcode.Unsupported
	}
	ph, err := in.Res.Reg.ClaimPin(in.ID, p.Pin, core.FuncOpenDrain)
	if err != nil {
		return nil, err
	}

	d := newDevice(in.ID, p, dht22.New(ph.AsLine(), tm.Delay, tm.Critical), in.Res.Pub)
	d.release = func() { in.Res.Reg.ReleasePin(in.ID, p.Pin) }
	return d, nil
}

func newDevice(id string, p Params, s sensor, pub core.EventEmitter) *Device {
	domain := strx.Coalesce(p.Domain, "env")
	name := strx.Coalesce(p.Name, id)
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &Device{
		id:          id,
		pin:         p.Pin,
		drv:         s,
		pub:         pub,
		minInterval: time.Duration(mathx.Max(p.MinIntervalMs, minIntervalFloor)) * time.Millisecond,
		retries:     mathx.Clamp(p.Retries, 0, maxRetries),
		addrTemp:    core.CapAddr{Domain: domain, Kind: "temperature", Name: name},
		addrHum:     core.CapAddr{Domain: domain, Kind: "humidity", Name: name},
		retryT:      t,
		quit:        make(chan struct{}),
		now:         time.Now,
	}
}

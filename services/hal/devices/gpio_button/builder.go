package gpio_button

import (
	"context"
	"time"

	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/util"
	"dhtnode-go/types"
	"dhtnode-go/x/mathx"
	"dhtnode-go/x/strx"
)

func init() { core.RegisterBuilder("gpio_button", builder{}) }

type Params struct {
	Pin        int    `json:"pin"`
	Pull       string `json:"pull,omitempty"`   // "none","up","down"
	Invert     bool   `json:"invert,omitempty"` // true if pressed == low
	DebounceMs uint16 `json:"debounce_ms,omitempty"`
	PollMs     uint16 `json:"poll_ms,omitempty"`
	Domain     string `json:"domain,omitempty"`
	Name       string `json:"name,omitempty"`
}

const (
	defaultDebounceMs = 30
	defaultPollMs     = 10
)

type builder struct{}

func (builder) Build(ctx context.Context, in core.BuilderInput) (core.Device, error) {
	if in.Params == nil {
		return nil, errcode.InvalidParams
	}
	p, err := util.Params[Params](in.Params)
	if err != nil || p.Pin < 0 {
		return nil, errcode.InvalidParams
	}

	ph, err := in.Res.Reg.ClaimPin(in.ID, p.Pin, core.FuncGPIOIn)
	if err != nil {
		return nil, err
	}
	gpio := ph.AsGPIO()
	switch p.Pull {
	case "up":
		_ = gpio.ConfigureInput(core.PullUp)
	case "down":
		_ = gpio.ConfigureInput(core.PullDown)
	default:
		_ = gpio.ConfigureInput(core.PullNone)
	}

	if p.DebounceMs == 0 {
		p.DebounceMs = defaultDebounceMs
	}
	if p.PollMs == 0 {
		p.PollMs = defaultPollMs
	}
	poll := time.Duration(mathx.Clamp(p.PollMs, 1, 1000)) * time.Millisecond

	return &Device{
		id:       in.ID,
		pinN:     p.Pin,
		gpio:     gpio,
		invert:   p.Invert,
		pub:      in.Res.Pub,
		reg:      in.Res.Reg,
		a:        core.CapAddr{Domain: strx.Coalesce(p.Domain, "io"), Kind: string(types.KindButton), Name: strx.Coalesce(p.Name, in.ID)},
		debounce: time.Duration(p.DebounceMs) * time.Millisecond,
		poll:     poll,
		quit:     make(chan struct{}),
	}, nil
}

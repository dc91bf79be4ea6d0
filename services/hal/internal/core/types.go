package core

import (
	"context"
	"time"

	"dhtnode-go/errcode"
	"dhtnode-go/types"
)

// ---- Capability & device model ----

type CapabilitySpec struct {
	Domain string // "" => inferred from Kind
	Kind   types.Kind
	Name   string // "" => device id
	Info   types.Info
}

// CapAddr is the public address of one capability.
type CapAddr struct {
	Domain string
	Kind   string
	Name   string
}

// EnqueueResult is the synchronous answer to a control. OK means the work
// was accepted; results arrive later as Events.
type EnqueueResult struct {
	OK    bool
	Error errcode.Code
}

type Device interface {
	ID() string
	Capabilities() []CapabilitySpec
	Init(ctx context.Context) error
	// Control must not block the HAL loop.
	Control(addr CapAddr, verb string, payload any) (EnqueueResult, error)
	Close() error // releases claimed resources
}

// MinPoller is implemented by devices that cannot be sampled faster than a
// fixed interval. The HAL clamps poll schedules to it.
type MinPoller interface {
	MinPollInterval() time.Duration
}

// Builder input
type BuilderInput struct {
	ID, Type string
	Params   any
	Res      Resources
}

type Builder interface {
	Build(ctx context.Context, in BuilderInput) (Device, error)
}

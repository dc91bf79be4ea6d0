package provider

import (
	"sync"

	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/provider/setups"
	"dhtnode-go/types"
)

// SelectedPlan and InitialHALConfig are provided via build-tagged files
// (see setup_selected.go / setup_none.go in this package).
var (
	SelectedPlan     setups.ResourcePlan
	InitialHALConfig types.HALConfig
)

// pinSource is the platform half of the registry: it turns a pin number into
// configured handles. Ownership is tracked by Registry.
type pinSource interface {
	GPIO(n int) (core.GPIOHandle, error)
	Line(n int) (core.Line, error)
	// Reset returns the pin to a high-impedance input.
	Reset(n int)
	Timing() core.Timing
}

// Ensure the registry satisfies the contract at compile time.
var _ core.ResourceRegistry = (*Registry)(nil)

type pinOwner struct {
	devID string
	fn    core.PinFunc
}

// Registry grants exclusive pin claims on top of a platform pin source.
type Registry struct {
	mu     sync.Mutex
	plan   setups.ResourcePlan
	src    pinSource
	owners map[int]pinOwner
}

func NewResourceRegistry(plan setups.ResourcePlan, src pinSource) *Registry {
	return &Registry{plan: plan, src: src, owners: make(map[int]pinOwner)}
}

// NewResources constructs the registry for the platform this binary targets.
func NewResources() (core.Resources, error) {
	src, err := newPlatformSource(SelectedPlan)
	if err != nil {
		return core.Resources{}, err
	}
	return core.Resources{Reg: NewResourceRegistry(SelectedPlan, src)}, nil
}

func (r *Registry) ClaimPin(devID string, n int, fn core.PinFunc) (core.PinHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.plan.HasPin(n) {
		return nil, errcode.UnknownPin
	}
	if owner, inUse := r.owners[n]; inUse && owner.devID != "" {
		return nil, errcode.PinInUse
	}

	ph := &pinHandle{n: n, fn: fn}
	var err error
	switch fn {
	case core.FuncGPIOIn, core.FuncGPIOOut:
		ph.gpio, err = r.src.GPIO(n)
	case core.FuncOpenDrain:
		ph.line, err = r.src.Line(n)
	default:
		return nil, errcode.Unsupported
	}
	if err != nil {
		return nil, err
	}

	r.owners[n] = pinOwner{devID: devID, fn: fn}
	return ph, nil
}

func (r *Registry) ReleasePin(devID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[n]; ok && owner.devID == devID {
		r.src.Reset(n)
		delete(r.owners, n)
	}
}

func (r *Registry) Timing() core.Timing { return r.src.Timing() }

// Owner reports the device holding pin n, if any.
func (r *Registry) Owner(n int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.owners[n]
	return o.devID, ok
}

// -----------------------------------------------------------------------------
// PinHandle implementation
// -----------------------------------------------------------------------------

type pinHandle struct {
	n    int
	fn   core.PinFunc
	gpio core.GPIOHandle
	line core.Line
}

func (h *pinHandle) Number() int { return h.n }

func (h *pinHandle) AsGPIO() core.GPIOHandle {
	if h.fn != core.FuncGPIOIn && h.fn != core.FuncGPIOOut {
		panic("pin not claimed for GPIO")
	}
	return h.gpio
}

func (h *pinHandle) AsLine() core.Line {
	if h.fn != core.FuncOpenDrain {
		panic("pin not claimed as open-drain line")
	}
	return h.line
}

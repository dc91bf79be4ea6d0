package core

// ---- Pin functions ----

type PinFunc uint8

const (
	FuncGPIOIn    PinFunc = iota
	FuncGPIOOut           // push-pull output
	FuncOpenDrain         // bidirectional single-wire line with pull-up
)

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// ---- GPIO handles ----

type GPIOHandle interface {
	Number() int
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(bool)
	Get() bool
	Toggle()
}

// Line is an open-drain single-wire data line. High releases the line to the
// pull-up; errors are the platform's own.
type Line interface {
	Get() (bool, error)
	High() error
	Low() error
}

// PinHandle is what a successful claim returns. A device uses the view that
// matches the function it claimed.
type PinHandle interface {
	Number() int
	AsGPIO() GPIOHandle
	AsLine() Line
}

// ---- Timing primitives ----

// Delay is a blocking busy-wait.
type Delay interface {
	SleepMicros(us uint32)
	SleepMillis(ms uint32)
}

// Critical suppresses preemption between Enter and the matching Exit.
type Critical interface {
	Enter() uintptr
	Exit(state uintptr)
}

// Timing bundles the platform's precise delay and preemption control.
type Timing struct {
	Delay    Delay
	Critical Critical
}

// ---- Device → HAL telemetry (single shape) ----
// By default, an Event represents a "value-like" update for a capability that
// HAL should publish to .../value (retained). If IsEvent is true, HAL instead
// publishes to .../event (non-retained). Err, when non-empty, causes HAL to
// publish only .../status=degraded (retained).

type Event struct {
	Addr     CapAddr
	Payload  any    // typed value payload (e.g. types.TemperatureValue)
	TSms     int64  // ms timestamp
	Err      string // "timeout","io_error","checksum",...
	IsEvent  bool   // true => publish to .../event (non-retained)
	EventTag string // optional subtopic tag for events
}

type EventEmitter interface {
	// Emit tries to enqueue an Event for HAL publication.
	// It must be non-blocking; false indicates a drop under pressure.
	Emit(ev Event) bool
}

// ---- HAL-injected resources ----

type Resources struct {
	Reg ResourceRegistry
	Pub EventEmitter // provided by HAL; devices use it to emit values/events
}

type ResourceRegistry interface {
	// ClaimPin grants exclusive use of GPIO n to devID and configures it for
	// fn. Errors: errcode.UnknownPin, errcode.PinInUse.
	ClaimPin(devID string, n int, fn PinFunc) (PinHandle, error)
	ReleasePin(devID string, n int)
	// Timing returns the platform's delay and critical-section primitives.
	Timing() Timing
}

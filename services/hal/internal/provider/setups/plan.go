package setups

// ResourcePlan specifies the pins a setup exposes. Providers consume this
// plan to bound pin claims.
type ResourcePlan struct {
	GPIOCount int // pins 0..GPIOCount-1 are claimable
	// Chip names the host GPIO chip prefix ("GPIO" on a Raspberry Pi).
	Chip string
}

// HasPin reports whether n is inside the planned range.
func (p ResourcePlan) HasPin(n int) bool { return n >= 0 && n < p.GPIOCount }

// DefaultHostPlan covers the 28 header GPIOs of a Raspberry Pi.
var DefaultHostPlan = ResourcePlan{GPIOCount: 28, Chip: "GPIO"}

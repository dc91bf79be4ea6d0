//go:build !tinygo

package provider

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"dhtnode-go/services/hal/internal/core"
)

func hostTiming() core.Timing {
	return core.Timing{Delay: hostDelay{}, Critical: hostCritical{}}
}

// hostDelay spins on the monotonic clock; time.Sleep overshoots by tens of
// microseconds on a stock Linux kernel.
type hostDelay struct{}

func (hostDelay) SleepMicros(us uint32) { spin(time.Duration(us) * time.Microsecond) }
func (hostDelay) SleepMillis(ms uint32) { spin(time.Duration(ms) * time.Millisecond) }

func spin(d time.Duration) {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
	}
}

// hostCritical pins the goroutine to its thread and pauses the collector.
// Windows from different devices may overlap: the GC percent is saved by the
// first Enter and restored by the last Exit, whatever the order.
type hostCritical struct{}

var gcHold struct {
	mu    sync.Mutex
	depth int
	saved int
}

func (hostCritical) Enter() uintptr {
	runtime.LockOSThread()
	gcHold.mu.Lock()
	gcHold.depth++
	if gcHold.depth == 1 {
		gcHold.saved = debug.SetGCPercent(-1)
	}
	d := gcHold.depth
	gcHold.mu.Unlock()
	return uintptr(d)
}

func (hostCritical) Exit(uintptr) {
	gcHold.mu.Lock()
	if gcHold.depth > 0 {
		gcHold.depth--
		if gcHold.depth == 0 {
			debug.SetGCPercent(gcHold.saved)
		}
	}
	gcHold.mu.Unlock()
	runtime.UnlockOSThread()
}

package gpio_button

import (
	"context"
	"sync"
	"time"

	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/types"
	"dhtnode-go/x/timex"
)

// Device samples a push button and emits pressed/released events once the
// level has been stable for the debounce time.
type Device struct {
	id     string
	pinN   int
	gpio   core.GPIOHandle
	invert bool

	pub core.EventEmitter
	reg core.ResourceRegistry

	a core.CapAddr

	debounce time.Duration
	poll     time.Duration

	mu      sync.Mutex
	pressed bool

	quit    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{{
		Domain: d.a.Domain,
		Kind:   types.KindButton,
		Name:   d.a.Name,
		Info:   types.Info{SchemaVersion: 1, Driver: "gpio_button", Detail: types.ButtonInfo{Pin: d.pinN}},
	}}
}

func (d *Device) Init(ctx context.Context) error {
	d.pressed = d.logicalPressed(d.gpio.Get())
	d.emitValue(d.pressed, timex.NowMs())

	d.wg.Add(1)
	go d.sampleLoop()
	return nil
}

func (d *Device) Close() error {
	if d.stopped {
		return nil
	}
	d.stopped = true
	close(d.quit)
	d.wg.Wait()
	d.reg.ReleasePin(d.id, d.pinN)
	return nil
}

func (d *Device) Control(_ core.CapAddr, verb string, _ any) (core.EnqueueResult, error) {
	switch verb {
	case "read":
		d.mu.Lock()
		pressed := d.pressed
		d.mu.Unlock()
		d.emitValue(pressed, timex.NowMs())
		return core.EnqueueResult{OK: true}, nil
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

func (d *Device) sampleLoop() {
	defer d.wg.Done()
	t := time.NewTicker(d.poll)
	defer t.Stop()

	var (
		since   time.Time
		pending bool
	)
	for {
		select {
		case <-d.quit:
			return
		case now := <-t.C:
			lvl := d.logicalPressed(d.gpio.Get())

			d.mu.Lock()
			cur := d.pressed
			d.mu.Unlock()

			if lvl == cur {
				pending = false
				continue
			}
			if !pending {
				since, pending = now, true
			}
			if now.Sub(since) < d.debounce {
				continue
			}

			pending = false
			d.mu.Lock()
			d.pressed = lvl
			d.mu.Unlock()

			ts := timex.NowMs()
			tag := "released"
			if lvl {
				tag = "pressed"
			}
			_ = d.pub.Emit(core.Event{Addr: d.a, IsEvent: true, EventTag: tag, TSms: ts})
			d.emitValue(lvl, ts)
		}
	}
}

func (d *Device) emitValue(pressed bool, ts int64) {
	_ = d.pub.Emit(core.Event{Addr: d.a, Payload: types.ButtonValue{Pressed: pressed}, TSms: ts})
}

func (d *Device) logicalPressed(level bool) bool {
	if d.invert {
		return !level
	}
	return level
}

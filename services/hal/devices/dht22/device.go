package dht22dev

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dhtnode-go/drivers/dht22"
	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/util"
	"dhtnode-go/types"
	"dhtnode-go/x/timex"

	"tinygo.org/x/drivers"
)

// sensor is the part of the driver the device uses: the drivers.Sensor
// update contract plus access to the cached frame.
type sensor interface {
	Update(which drivers.Measurement) error
	Last() (dht22.Reading, bool)
}

var _ sensor = (*dht22.Device)(nil)

type Device struct {
	id  string
	pin int

	drv     sensor
	pub     core.EventEmitter
	release func()

	minInterval time.Duration
	retries     int

	addrTemp core.CapAddr
	addrHum  core.CapAddr

	// Owned by the read goroutine.
	retryT *time.Timer

	mu        sync.Mutex
	busy      bool
	started   bool
	lastStart time.Time
	last      dht22.Reading
	lastTS    int64
	hasLast   bool

	dropped atomic.Uint32

	quit   chan struct{}
	closed bool
	wg     sync.WaitGroup
	now    func() time.Time
}

func (d *Device) ID() string { return d.id }

func (d *Device) Capabilities() []core.CapabilitySpec {
	return []core.CapabilitySpec{
		{
			Domain: d.addrTemp.Domain,
			Kind:   types.KindTemperature,
			Name:   d.addrTemp.Name,
			Info: types.Info{
				SchemaVersion: 1, Driver: "dht22",
				Detail: types.TemperatureInfo{Sensor: "dht22", Pin: d.pin},
			},
		},
		{
			Domain: d.addrHum.Domain,
			Kind:   types.KindHumidity,
			Name:   d.addrHum.Name,
			Info: types.Info{
				SchemaVersion: 1, Driver: "dht22",
				Detail: types.HumidityInfo{Sensor: "dht22", Pin: d.pin},
			},
		},
	}
}

// Init leaves the line idle; the first read happens on demand.
func (d *Device) Init(ctx context.Context) error { return nil }

func (d *Device) MinPollInterval() time.Duration { return d.minInterval }

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.quit)
	d.mu.Unlock()

	d.wg.Wait()
	if d.release != nil {
		d.release()
	}
	return nil
}

func (d *Device) Control(_ core.CapAddr, method string, _ any) (core.EnqueueResult, error) {
	switch method {
	case "read":
		if code := d.begin(); code != "" {
			return core.EnqueueResult{OK: false, Error: code}, nil
		}
		go d.run()
		return core.EnqueueResult{OK: true}, nil
	case "last":
		d.mu.Lock()
		r, ts, ok := d.last, d.lastTS, d.hasLast
		d.mu.Unlock()
		if !ok {
			return core.EnqueueResult{OK: false, Error: errcode.NoData}, nil
		}
		d.emit(r, ts)
		return core.EnqueueResult{OK: true}, nil
	default:
		return core.EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

// begin claims the single read slot; on success the caller must start run.
func (d *Device) begin() errcode.Code {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.closed:
		return errcode.Unsupported
	case d.busy:
		return errcode.Busy
	case d.started && d.now().Sub(d.lastStart) < d.minInterval:
		return errcode.RateLimited
	}
	d.busy, d.started = true, true
	d.lastStart = d.now()
	d.wg.Add(1)
	return ""
}

func (d *Device) run() {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		d.busy = false
		d.mu.Unlock()
	}()

	for attempt := 0; ; attempt++ {
		err := d.drv.Update(drivers.Temperature | drivers.Humidity)
		ts := timex.NowMs()
		if err == nil {
			r, _ := d.drv.Last()
			d.mu.Lock()
			d.last, d.lastTS, d.hasLast = r, ts, true
			d.mu.Unlock()
			d.emit(r, ts)
			return
		}
		if attempt >= d.retries {
			d.emitErr(string(errcode.MapDriverErr(err)), ts)
			return
		}
		util.ResetTimer(d.retryT, d.minInterval)
		select {
		case <-d.retryT.C:
		case <-d.quit:
			return
		}
	}
}

func (d *Device) emit(r dht22.Reading, ts int64) bool {
	t := d.publish(core.Event{
		Addr:    d.addrTemp,
		Payload: types.TemperatureValue{DeciC: r.TempDeciC()},
		TSms:    ts,
	})
	h := d.publish(core.Event{
		Addr:    d.addrHum,
		Payload: types.HumidityValue{RHx100: r.HumidityX100()},
		TSms:    ts,
	})
	return t && h
}

func (d *Device) emitErr(code string, ts int64) bool {
	t := d.publish(core.Event{Addr: d.addrTemp, Err: code, TSms: ts})
	h := d.publish(core.Event{Addr: d.addrHum, Err: code, TSms: ts})
	return t && h
}

// publish hands ev to the HAL and counts it if the queue was full.
func (d *Device) publish(ev core.Event) bool {
	if d.pub.Emit(ev) {
		return true
	}
	d.dropped.Add(1)
	println("[dht22]", d.id, "event dropped:", ev.Addr.Kind)
	return false
}

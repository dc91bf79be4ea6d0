package dht22dev

import (
	"context"
	"sync"
	"testing"
	"time"

	"dhtnode-go/drivers/dht22"
	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/types"

	"tinygo.org/x/drivers"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

// reading builds a Reading through the real decoder.
func reading(t *testing.T, b0, b1, b2, b3 byte) dht22.Reading {
	t.Helper()
	r, err := dht22.Decode(pulses(b0, b1, b2, b3, b0+b1+b2+b3))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return r
}

func pulses(frame ...byte) [40]dht22.Pulse {
	var p [40]dht22.Pulse
	for i := range p {
		p[i] = dht22.Pulse{Low: 50, High: 26}
		if frame[i/8]&(0x80>>(i%8)) != 0 {
			p[i].High = 70
		}
	}
	return p
}

type fakeSensor struct {
	mu      sync.Mutex
	results []error // consumed per Update; nil means success
	r       dht22.Reading
	has     bool
	calls   int
	gate    chan struct{} // when set, Update blocks until it is closed
}

func (s *fakeSensor) Update(which drivers.Measurement) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	var err error
	if len(s.results) > 0 {
		err, s.results = s.results[0], s.results[1:]
	}
	if err == nil {
		s.has = true
	}
	return err
}

func (s *fakeSensor) Last() (dht22.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r, s.has
}

func (s *fakeSensor) updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type chanEmitter chan core.Event

func (c chanEmitter) Emit(ev core.Event) bool {
	select {
	case c <- ev:
		return true
	default:
		return false
	}
}

func next(t *testing.T, c chanEmitter) core.Event {
	t.Helper()
	select {
	case ev := <-c:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return core.Event{}
	}
}

func newTestDevice(s sensor, p Params) (*Device, chanEmitter) {
	out := make(chanEmitter, 16)
	d := newDevice("probe", p, s, out)
	return d, out
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestRead_EmitsPairedValues(t *testing.T) {
	s := &fakeSensor{r: reading(t, 0x02, 0x58, 0x01, 0x11)}
	d, out := newTestDevice(s, Params{Pin: 15})

	res, err := d.Control(d.addrTemp, "read", nil)
	if err != nil || !res.OK {
		t.Fatalf("read: %+v, %v", res, err)
	}

	temp, hum := next(t, out), next(t, out)
	if temp.Addr != (core.CapAddr{Domain: "env", Kind: "temperature", Name: "probe"}) {
		t.Fatalf("temp addr = %+v", temp.Addr)
	}
	if v := temp.Payload.(types.TemperatureValue); v.DeciC != 273 {
		t.Fatalf("DeciC = %d", v.DeciC)
	}
	if v := hum.Payload.(types.HumidityValue); v.RHx100 != 6000 {
		t.Fatalf("RHx100 = %d", v.RHx100)
	}
	if temp.TSms == 0 || temp.TSms != hum.TSms {
		t.Fatalf("timestamps %d / %d", temp.TSms, hum.TSms)
	}
}

func TestRead_SingleFlightAndRateLimit(t *testing.T) {
	s := &fakeSensor{r: reading(t, 0x02, 0x58, 0x01, 0x11), gate: make(chan struct{})}
	d, out := newTestDevice(s, Params{Pin: 15})
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	if res, _ := d.Control(d.addrTemp, "read", nil); !res.OK {
		t.Fatalf("first read = %+v", res)
	}
	if res, _ := d.Control(d.addrHum, "read", nil); res.Error != errcode.Busy {
		t.Fatalf("read while in flight = %+v, want busy", res)
	}

	close(s.gate)
	next(t, out)
	next(t, out)
	d.wg.Wait()

	now = now.Add(time.Second)
	if res, _ := d.Control(d.addrTemp, "read", nil); res.Error != errcode.RateLimited {
		t.Fatalf("early read = %+v, want rate_limited", res)
	}

	now = now.Add(time.Second)
	if res, _ := d.Control(d.addrTemp, "read", nil); !res.OK {
		t.Fatalf("read after interval = %+v", res)
	}
	next(t, out)
	next(t, out)
	_ = d.Close()
}

func TestRead_RetriesThenSucceeds(t *testing.T) {
	s := &fakeSensor{
		r:       reading(t, 0x01, 0xF4, 0x80, 0x65),
		results: []error{dht22.ErrTimeout, nil},
	}
	d, out := newTestDevice(s, Params{Pin: 15, Retries: 1})
	d.minInterval = 10 * time.Millisecond

	if res, _ := d.Control(d.addrTemp, "read", nil); !res.OK {
		t.Fatalf("read = %+v", res)
	}
	temp := next(t, out)
	if temp.Err != "" {
		t.Fatalf("unexpected error event %q", temp.Err)
	}
	if v := temp.Payload.(types.TemperatureValue); v.DeciC != -101 {
		t.Fatalf("DeciC = %d, want -101", v.DeciC)
	}
	next(t, out)
	if n := s.updates(); n != 2 {
		t.Fatalf("updates = %d, want 2", n)
	}
}

func TestRead_ExhaustedRetriesEmitErrorCode(t *testing.T) {
	_, cerr := dht22.Decode(pulses(0x02, 0x58, 0x01, 0x11, 0x00))
	if !dht22.IsChecksum(cerr) {
		t.Fatalf("setup: %v", cerr)
	}
	s := &fakeSensor{results: []error{cerr, cerr, cerr}}
	d, out := newTestDevice(s, Params{Pin: 15, Retries: 2})
	d.minInterval = 5 * time.Millisecond

	d.Control(d.addrTemp, "read", nil)
	temp, hum := next(t, out), next(t, out)
	for _, ev := range []core.Event{temp, hum} {
		if ev.Err != string(errcode.Checksum) || ev.Payload != nil {
			t.Fatalf("event = %+v", ev)
		}
	}
	if temp.Addr == hum.Addr {
		t.Fatal("error not reported on both capabilities")
	}
	if n := s.updates(); n != 3 {
		t.Fatalf("updates = %d, want 3", n)
	}
}

func TestLast(t *testing.T) {
	s := &fakeSensor{r: reading(t, 0x02, 0x58, 0x01, 0x11)}
	d, out := newTestDevice(s, Params{Pin: 15})

	if res, _ := d.Control(d.addrTemp, "last", nil); res.Error != errcode.NoData {
		t.Fatalf("last before read = %+v", res)
	}

	d.Control(d.addrTemp, "read", nil)
	first := next(t, out)
	next(t, out)
	d.wg.Wait()

	if res, _ := d.Control(d.addrTemp, "last", nil); !res.OK {
		t.Fatalf("last = %+v", res)
	}
	again := next(t, out)
	if again.TSms != first.TSms || again.Payload != first.Payload {
		t.Fatalf("last re-emitted %+v, want %+v", again, first)
	}
	next(t, out)

	if res, _ := d.Control(d.addrTemp, "calibrate", nil); res.Error != errcode.Unsupported {
		t.Fatalf("unknown verb = %+v", res)
	}
}

func TestClose_StopsRetryWait(t *testing.T) {
	s := &fakeSensor{results: []error{dht22.ErrTimeout, dht22.ErrTimeout}}
	d, out := newTestDevice(s, Params{Pin: 15, Retries: 3})
	d.minInterval = time.Hour

	d.Control(d.addrTemp, "read", nil)
	for s.updates() == 0 {
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() { _ = d.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on the retry wait")
	}
	select {
	case ev := <-out:
		t.Fatalf("event after close: %+v", ev)
	default:
	}
	if res, _ := d.Control(d.addrTemp, "read", nil); res.OK {
		t.Fatal("read accepted after close")
	}
}

// -----------------------------------------------------------------------------
// Builder, through the real driver
// -----------------------------------------------------------------------------

type highLine struct{}

func (highLine) Get() (bool, error) { return true, nil }
func (highLine) High() error        { return nil }
func (highLine) Low() error         { return nil }

type lineHandle struct{ n int }

func (h lineHandle) Number() int             { return h.n }
func (h lineHandle) AsGPIO() core.GPIOHandle { panic("not gpio") }
func (h lineHandle) AsLine() core.Line       { return highLine{} }

type noDelay struct{}

func (noDelay) SleepMicros(uint32) {}
func (noDelay) SleepMillis(uint32) {}

type noCritical struct{}

func (noCritical) Enter() uintptr { return 0 }
func (noCritical) Exit(uintptr)   {}

type fakeReg struct {
	timing   core.Timing
	claimed  map[int]core.PinFunc
	released []int
}

func (r *fakeReg) ClaimPin(_ string, n int, fn core.PinFunc) (core.PinHandle, error) {
	if _, taken := r.claimed[n]; taken {
		return nil, errcode.PinInUse
	}
	r.claimed[n] = fn
	return lineHandle{n}, nil
}

func (r *fakeReg) ReleasePin(_ string, n int) {
	delete(r.claimed, n)
	r.released = append(r.released, n)
}

func (r *fakeReg) Timing() core.Timing { return r.timing }

func TestBuilder_StuckLineReportsTimeout(t *testing.T) {
	reg := &fakeReg{
		timing:  core.Timing{Delay: noDelay{}, Critical: noCritical{}},
		claimed: map[int]core.PinFunc{},
	}
	out := make(chanEmitter, 8)
	dev, err := builder{}.Build(context.Background(), core.BuilderInput{
		ID:     "probe",
		Type:   "dht22",
		Params: map[string]any{"pin": 15, "min_interval_ms": 5000, "retries": 9},
		Res:    core.Resources{Reg: reg, Pub: out},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	d := dev.(*Device)

	if reg.claimed[15] != core.FuncOpenDrain {
		t.Fatalf("claimed %v", reg.claimed)
	}
	if d.MinPollInterval() != 5*time.Second {
		t.Fatalf("MinPollInterval = %v", d.MinPollInterval())
	}
	if d.retries != maxRetries {
		t.Fatalf("retries = %d, want clamp to %d", d.retries, maxRetries)
	}
	caps := d.Capabilities()
	if len(caps) != 2 || caps[0].Info.Detail != (types.TemperatureInfo{Sensor: "dht22", Pin: 15}) {
		t.Fatalf("caps = %+v", caps)
	}

	d.retries = 0
	d.Control(d.addrTemp, "read", nil)
	if ev := next(t, out); ev.Err != string(errcode.Timeout) {
		t.Fatalf("event = %+v, want timeout", ev)
	}
	next(t, out)

	_ = d.Close()
	_ = d.Close()
	if len(reg.released) != 1 || reg.released[0] != 15 {
		t.Fatalf("released = %v", reg.released)
	}
}

func TestBuilder_Rejects(t *testing.T) {
	good := core.Timing{Delay: noDelay{}, Critical: noCritical{}}
	cases := []struct {
		name   string
		params any
		timing core.Timing
		want   errcode.Code
	}{
		{"nil params", nil, good, errcode.InvalidParams},
		{"garbage params", "pin=15", good, errcode.InvalidParams},
		{"no timing", Params{Pin: 15}, core.Timing{}, errcode.Unsupported},
	}
	for _, tc := range cases {
		reg := &fakeReg{timing: tc.timing, claimed: map[int]core.PinFunc{}}
		_, err := builder{}.Build(context.Background(), core.BuilderInput{
			ID: "probe", Params: tc.params,
			Res: core.Resources{Reg: reg, Pub: make(chanEmitter, 1)},
		})
		if got := errcode.Of(err); got != tc.want {
			t.Errorf("%s: code = %q, want %q", tc.name, got, tc.want)
		}
		if len(reg.claimed) != 0 {
			t.Errorf("%s: pin claimed on failure", tc.name)
		}
	}
}

func TestBuilder_DefaultsIntervalFloor(t *testing.T) {
	d := newDevice("probe", Params{Pin: 15, MinIntervalMs: 100, Domain: "greenhouse"}, &fakeSensor{}, make(chanEmitter, 1))
	if d.MinPollInterval() != 2*time.Second {
		t.Fatalf("MinPollInterval = %v, want the 2s floor", d.MinPollInterval())
	}
	if d.addrHum != (core.CapAddr{Domain: "greenhouse", Kind: "humidity", Name: "probe"}) {
		t.Fatalf("addrHum = %+v", d.addrHum)
	}
}

func TestRead_CountsDroppedEvents(t *testing.T) {
	s := &fakeSensor{r: reading(t, 0x02, 0x58, 0x01, 0x11)}
	out := make(chanEmitter, 1) // room for temperature only
	d := newDevice("probe", Params{Pin: 15}, s, out)

	if d.emit(s.r, 1) {
		t.Fatal("emit reported success with a full queue")
	}
	if n := d.dropped.Load(); n != 1 {
		t.Fatalf("dropped = %d, want 1", n)
	}
	if ev := next(t, out); ev.Addr != d.addrTemp {
		t.Fatalf("queued event addr = %+v", ev.Addr)
	}

	// Room for one again: the humidity half is the one lost.
	if d.emit(s.r, 2) {
		t.Fatal("second emit reported success")
	}
	if n := d.dropped.Load(); n != 2 {
		t.Fatalf("dropped = %d, want 2", n)
	}
}

func TestRead_PublishesHumidityUnclamped(t *testing.T) {
	// 0x03E9 = 100.1 %RH
	s := &fakeSensor{r: reading(t, 0x03, 0xE9, 0x00, 0xC8)}
	d, out := newTestDevice(s, Params{Pin: 15})

	if res, err := d.Control(d.addrHum, "read", nil); err != nil || !res.OK {
		t.Fatalf("read: %+v, %v", res, err)
	}
	next(t, out)
	if v := next(t, out).Payload.(types.HumidityValue); v.RHx100 != 10010 {
		t.Fatalf("RHx100 = %d, want 10010", v.RHx100)
	}
}

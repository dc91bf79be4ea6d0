package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"dhtnode-go/bus"
	"dhtnode-go/errcode"
	"dhtnode-go/types"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeDevice struct {
	id   string
	pub  EventEmitter
	min  time.Duration
	mu   sync.Mutex
	hits map[string]int
	done chan string // verbs, as handled
	shut bool
}

func (d *fakeDevice) ID() string { return d.id }
func (d *fakeDevice) Capabilities() []CapabilitySpec {
	return []CapabilitySpec{
		{Kind: types.KindTemperature, Info: types.Info{SchemaVersion: 1, Driver: "fake"}},
		{Kind: types.KindHumidity, Info: types.Info{SchemaVersion: 1, Driver: "fake"}},
	}
}
func (d *fakeDevice) Init(context.Context) error { return nil }
func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.shut = true
	d.mu.Unlock()
	return nil
}
func (d *fakeDevice) MinPollInterval() time.Duration { return d.min }

func (d *fakeDevice) Control(a CapAddr, verb string, _ any) (EnqueueResult, error) {
	d.mu.Lock()
	d.hits[verb]++
	d.mu.Unlock()
	defer func() {
		select {
		case d.done <- verb:
		default:
		}
	}()
	switch verb {
	case "read":
		d.pub.Emit(Event{Addr: CapAddr{Domain: "env", Kind: "temperature", Name: d.id}, Payload: types.TemperatureValue{DeciC: 215}, TSms: 1})
		return EnqueueResult{OK: true}, nil
	case "fail":
		d.pub.Emit(Event{Addr: a, Err: string(errcode.Timeout), TSms: 2})
		return EnqueueResult{OK: true}, nil
	case "busy":
		return EnqueueResult{OK: false, Error: errcode.Busy}, nil
	case "boom":
		return EnqueueResult{}, errcode.PinInUse
	default:
		return EnqueueResult{OK: false, Error: errcode.Unsupported}, nil
	}
}

type fakeBuilder struct {
	mu   sync.Mutex
	made map[string]*fakeDevice
}

func (b *fakeBuilder) Build(_ context.Context, in BuilderInput) (Device, error) {
	d := &fakeDevice{id: in.ID, pub: in.Res.Pub, min: 500 * time.Millisecond, hits: map[string]int{}, done: make(chan string, 16)}
	b.mu.Lock()
	b.made[in.ID] = d
	b.mu.Unlock()
	return d, nil
}

func (b *fakeBuilder) get(id string) *fakeDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.made[id]
}

var testBuilder = &fakeBuilder{made: map[string]*fakeDevice{}}

func init() { RegisterBuilder("fake_env", testBuilder) }

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func startHAL(t *testing.T) (*bus.Connection, context.CancelFunc) {
	t.Helper()
	b := bus.NewBus(32)
	h := NewHAL(b.NewConnection("hal"), Resources{})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	return b.NewConnection("test"), cancel
}

func waitFor(t *testing.T, sub *bus.Subscription, what string, pred func(*bus.Message) bool) *bus.Message {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case m := <-sub.Channel():
			if pred(m) {
				return m
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
			return nil
		}
	}
}

func halState(level string) func(*bus.Message) bool {
	return func(m *bus.Message) bool {
		s, ok := m.Payload.(types.HALState)
		return ok && s.Level == level
	}
}

func request(t *testing.T, c *bus.Connection, topic bus.Topic, payload any) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := c.RequestWait(ctx, c.NewMessage(topic, payload, false))
	if err != nil {
		t.Fatalf("request %v: %v", topic, err)
	}
	return r.Payload
}

func configure(t *testing.T, c *bus.Connection, cfg types.HALConfig) {
	t.Helper()
	st := c.Subscribe(T("hal", "state"))
	defer c.Unsubscribe(st)
	waitFor(t, st, "awaiting_config", halState("idle"))
	c.Publish(c.NewMessage(T("config", "hal"), cfg, true))
	waitFor(t, st, "ready", halState("ready"))
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestHAL_RejectsControlBeforeConfig(t *testing.T) {
	c, cancel := startHAL(t)
	defer cancel()

	st := c.Subscribe(T("hal", "state"))
	waitFor(t, st, "awaiting_config", halState("idle"))

	got := request(t, c, T("hal", "cap", "env", "temperature", "x", "control", "read"), nil)
	if er, ok := got.(types.ErrorReply); !ok || er.Error != string(errcode.HALNotReady) {
		t.Fatalf("reply = %#v, want hal_not_ready", got)
	}
}

func TestHAL_PublishesInfoAndRoutesControls(t *testing.T) {
	c, cancel := startHAL(t)
	defer cancel()

	caps := c.Subscribe(T("hal", "cap", "env", "+", "room", "#"))
	configure(t, c, types.HALConfig{Devices: []types.HALDevice{{ID: "room", Type: "fake_env"}}})

	waitFor(t, caps, "temperature info", func(m *bus.Message) bool {
		_, ok := m.Payload.(types.Info)
		return ok && m.Topic.At(3) == "temperature" && m.Topic.At(5) == "info"
	})

	got := request(t, c, T("hal", "cap", "env", "temperature", "room", "control", "read"), nil)
	if _, ok := got.(types.OKReply); !ok {
		t.Fatalf("read reply = %#v", got)
	}
	waitFor(t, caps, "value", func(m *bus.Message) bool {
		v, ok := m.Payload.(types.TemperatureValue)
		return ok && v.DeciC == 215 && m.Retained
	})
	waitFor(t, caps, "status up", func(m *bus.Message) bool {
		s, ok := m.Payload.(types.CapabilityStatus)
		return ok && s.Link == types.LinkUp
	})

	cases := []struct {
		verb string
		want errcode.Code
	}{
		{"busy", errcode.Busy},
		{"boom", errcode.PinInUse},
		{"nope", errcode.Unsupported},
	}
	for _, cs := range cases {
		got := request(t, c, T("hal", "cap", "env", "humidity", "room", "control", cs.verb), nil)
		if er, ok := got.(types.ErrorReply); !ok || er.Error != string(cs.want) {
			t.Errorf("%s: reply = %#v, want %s", cs.verb, got, cs.want)
		}
	}

	got = request(t, c, T("hal", "cap", "env", "humidity", "nobody", "control", "read"), nil)
	if er, ok := got.(types.ErrorReply); !ok || er.Error != string(errcode.UnknownCapability) {
		t.Fatalf("unknown cap reply = %#v", got)
	}
}

func TestHAL_ErrorEventDegradesStatus(t *testing.T) {
	c, cancel := startHAL(t)
	defer cancel()

	status := c.Subscribe(T("hal", "cap", "env", "humidity", "cellar", "status"))
	configure(t, c, types.HALConfig{Devices: []types.HALDevice{{ID: "cellar", Type: "fake_env"}}})

	request(t, c, T("hal", "cap", "env", "humidity", "cellar", "control", "fail"), nil)
	waitFor(t, status, "degraded", func(m *bus.Message) bool {
		s, ok := m.Payload.(types.CapabilityStatus)
		return ok && s.Link == types.LinkDegraded && s.Error == "timeout"
	})
}

func TestHAL_PollStartClampsToDeviceFloor(t *testing.T) {
	c, cancel := startHAL(t)
	defer cancel()

	configure(t, c, types.HALConfig{Devices: []types.HALDevice{{ID: "attic", Type: "fake_env"}}})
	dev := testBuilder.get("attic")

	// 10 ms is raised to the device's 500 ms floor.
	got := request(t, c, T("hal", "cap", "env", "temperature", "attic", "control", "poll_start"),
		types.PollStart{Verb: "read", IntervalMs: 10})
	if _, ok := got.(types.OKReply); !ok {
		t.Fatalf("poll_start reply = %#v", got)
	}

	time.Sleep(300 * time.Millisecond)
	dev.mu.Lock()
	early := dev.hits["read"]
	dev.mu.Unlock()
	if early != 0 {
		t.Fatalf("device read %d times before its floor", early)
	}

	select {
	case v := <-dev.done:
		if v != "read" {
			t.Fatalf("unexpected verb %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("poller never fired")
	}

	got = request(t, c, T("hal", "cap", "env", "temperature", "attic", "control", "poll_stop"), types.PollStop{})
	if _, ok := got.(types.OKReply); !ok {
		t.Fatalf("poll_stop reply = %#v", got)
	}

	got = request(t, c, T("hal", "cap", "env", "temperature", "attic", "control", "poll_start"), "bad")
	if er, ok := got.(types.ErrorReply); !ok || er.Error != string(errcode.InvalidPayload) {
		t.Fatalf("bad poll_start reply = %#v", got)
	}
}

func TestHAL_RemovedDeviceIsClosedAndCleared(t *testing.T) {
	c, cancel := startHAL(t)
	defer cancel()

	configure(t, c, types.HALConfig{Devices: []types.HALDevice{{ID: "shed", Type: "fake_env"}}})
	dev := testBuilder.get("shed")

	info := c.Subscribe(T("hal", "cap", "env", "temperature", "shed", "info"))
	waitFor(t, info, "retained info", func(m *bus.Message) bool { return m.Payload != nil })

	c.Publish(c.NewMessage(T("config", "hal"), types.HALConfig{}, true))
	waitFor(t, info, "info cleared", func(m *bus.Message) bool { return m.Payload == nil })

	deadline := time.Now().Add(time.Second)
	for {
		dev.mu.Lock()
		shut := dev.shut
		dev.mu.Unlock()
		if shut {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("removed device was not closed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := request(t, c, T("hal", "cap", "env", "temperature", "shed", "control", "read"), nil)
	if er, ok := got.(types.ErrorReply); !ok || er.Error != string(errcode.UnknownCapability) {
		t.Fatalf("reply after removal = %#v", got)
	}
}

func TestHAL_WrongConfigType(t *testing.T) {
	c, cancel := startHAL(t)
	defer cancel()

	st := c.Subscribe(T("hal", "state"))
	waitFor(t, st, "awaiting_config", halState("idle"))
	c.Publish(c.NewMessage(T("config", "hal"), map[string]any{"devices": nil}, false))
	m := waitFor(t, st, "error state", halState("error"))
	if s := m.Payload.(types.HALState); s.Status != "config_wrong_type" {
		t.Fatalf("status = %q", s.Status)
	}
}

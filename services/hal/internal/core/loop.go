package core

import (
	"context"
	"time"

	"dhtnode-go/bus"
	"dhtnode-go/errcode"
	"dhtnode-go/types"
	"dhtnode-go/x/mathx"
	"dhtnode-go/x/timex"
)

const (
	eventQueueLen = 16
	pollQueueLen  = 4

	minPollInterval = 100 * time.Millisecond
	maxPollInterval = 24 * time.Hour
)

type HAL struct {
	conn *bus.Connection
	res  Resources

	// Device registry
	dev map[string]Device // devID -> device

	// Capability index: address -> devID
	capIndex map[CapAddr]string
	devCaps  map[string][]CapAddr // devID -> addresses

	cfgSub  *bus.Subscription
	ctrlSub *bus.Subscription

	// Single-threaded publication of device events
	evCh chan Event

	pollCh chan PollReq
	poller *Poller
}

func NewHAL(conn *bus.Connection, res Resources) *HAL {
	h := &HAL{
		conn:     conn,
		res:      res,
		dev:      map[string]Device{},
		capIndex: map[CapAddr]string{},
		devCaps:  map[string][]CapAddr{},
		evCh:     make(chan Event, eventQueueLen),
		pollCh:   make(chan PollReq, pollQueueLen),
	}
	// HAL provides the emitter to devices.
	h.res.Pub = h
	h.poller = NewPoller(h.pollCh)
	return h
}

func (h *HAL) Run(ctx context.Context) {
	h.cfgSub = h.conn.Subscribe(topicConfigHAL())
	h.ctrlSub = h.conn.Subscribe(ctrlWildcard())
	defer h.conn.Unsubscribe(h.cfgSub)
	defer h.conn.Unsubscribe(h.ctrlSub)

	pctx, stopPoller := context.WithCancel(ctx)
	defer stopPoller()
	go h.poller.Run(pctx)

	h.pubHALState("idle", "awaiting_config")
	ready := false
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.pubHALState("stopped", "context_cancelled")
			return
		case msg := <-h.cfgSub.Channel():
			cfg, ok := configOf(msg.Payload)
			if !ok {
				println("[hal] config/hal has wrong payload type")
				h.pubHALState("error", "config_wrong_type")
				continue
			}
			h.applyConfig(ctx, cfg)
			ready = true
			h.pubHALState("ready", "configured")
		case m := <-h.ctrlSub.Channel():
			if !ready {
				// Reject controls until HAL has a configuration.
				h.replyErr(m, errcode.HALNotReady)
				continue
			}
			h.handleControl(m) // strictly non-blocking
		case ev := <-h.evCh:
			// All device→HAL telemetry is published from this goroutine.
			h.handleEvent(ev)
		case pr := <-h.pollCh:
			h.handlePoll(pr)
		}
	}
}

func configOf(v any) (types.HALConfig, bool) {
	switch c := v.(type) {
	case types.HALConfig:
		return c, true
	case *types.HALConfig:
		if c == nil {
			return types.HALConfig{}, false
		}
		return *c, true
	default:
		return types.HALConfig{}, false
	}
}

// applyConfig builds devices that are new, closes devices that are gone and
// upserts declared pollers. Devices present in both are left untouched.
func (h *HAL) applyConfig(ctx context.Context, cfg types.HALConfig) {
	want := make(map[string]struct{}, len(cfg.Devices))
	for i := range cfg.Devices {
		want[cfg.Devices[i].ID] = struct{}{}
	}
	for id := range h.dev {
		if _, keep := want[id]; !keep {
			h.removeDevice(id)
		}
	}

	for i := range cfg.Devices {
		dc := cfg.Devices[i]
		if _, exists := h.dev[dc.ID]; exists {
			continue
		}
		b, ok := lookupBuilder(dc.Type)
		if !ok {
			println("[hal] no builder for type:", dc.Type, "id:", dc.ID)
			continue
		}
		dev, err := b.Build(ctx, BuilderInput{
			ID:     dc.ID,
			Type:   dc.Type,
			Params: dc.Params,
			Res:    h.res,
		})
		if err != nil {
			println("[hal] build failed for:", dc.ID, "err:", err.Error())
			continue
		}
		if err := dev.Init(ctx); err != nil {
			println("[hal] init failed for:", dc.ID, "err:", err.Error())
			_ = dev.Close()
			continue
		}
		h.addDevice(dev)
	}

	for _, ps := range cfg.Pollers {
		verb := ps.Verb
		if verb == "" {
			verb = "read"
		}
		a := CapAddr{Domain: ps.Domain, Kind: string(ps.Kind), Name: ps.Name}
		if a.Domain == "" {
			a.Domain = defaultDomainFor(a.Kind)
		}
		if _, ok := h.capIndex[a]; !ok {
			println("[hal] poller for unknown capability:", a.Kind, a.Name)
			continue
		}
		h.startPoll(a, verb, ps.IntervalMs, ps.JitterMs)
	}
}

func (h *HAL) addDevice(dev Device) {
	id := dev.ID()
	h.dev[id] = dev

	// Register capabilities, publish retained info + initial status:down
	for _, cs := range dev.Capabilities() {
		k := string(cs.Kind)
		a := CapAddr{Domain: cs.Domain, Kind: k, Name: cs.Name}
		if a.Domain == "" {
			a.Domain = defaultDomainFor(k)
		}
		if a.Name == "" {
			a.Name = id
		}
		if owner, taken := h.capIndex[a]; taken {
			println("[hal] capability already owned by:", owner, "skipping for:", id)
			continue
		}
		h.capIndex[a] = id
		h.devCaps[id] = append(h.devCaps[id], a)

		h.conn.Publish(h.conn.NewMessage(capInfo(a), cs.Info, true))
		h.conn.Publish(h.conn.NewMessage(
			capStatus(a),
			types.CapabilityStatus{Link: types.LinkDown, TSms: timex.NowMs()},
			true,
		))
	}
}

func (h *HAL) removeDevice(id string) {
	dev := h.dev[id]
	if dev == nil {
		return
	}
	for _, a := range h.devCaps[id] {
		h.poller.StopAddr(a)
		delete(h.capIndex, a)
		// Clear retained info/value; status stays as the last word.
		h.conn.Publish(h.conn.NewMessage(capInfo(a), nil, true))
		h.conn.Publish(h.conn.NewMessage(capValue(a), nil, true))
		h.conn.Publish(h.conn.NewMessage(
			capStatus(a),
			types.CapabilityStatus{Link: types.LinkDown, TSms: timex.NowMs()},
			true,
		))
	}
	delete(h.devCaps, id)
	delete(h.dev, id)
	if err := dev.Close(); err != nil {
		println("[hal] close failed for:", id, "err:", err.Error())
	}
}

func (h *HAL) closeAll() {
	for id := range h.dev {
		h.removeDevice(id)
	}
}

func (h *HAL) handleControl(msg *bus.Message) {
	// hal/cap/<domain>/<kind>/<name>/control/<verb>
	if msg.Topic.Len() < 7 {
		h.replyErr(msg, errcode.InvalidTopic)
		return
	}
	domain, _ := msg.Topic.At(2).(string)
	kind, _ := msg.Topic.At(3).(string)
	name, _ := msg.Topic.At(4).(string)
	verb, _ := msg.Topic.At(6).(string)

	a := CapAddr{Domain: domain, Kind: kind, Name: name}
	ownerID, ok := h.capIndex[a]
	if !ok {
		h.replyErr(msg, errcode.UnknownCapability)
		return
	}
	dev := h.dev[ownerID]
	if dev == nil {
		h.replyErr(msg, errcode.Error)
		return
	}

	switch verb {
	case verbPollStart:
		p, code := As[types.PollStart](msg.Payload)
		if code != "" || p.IntervalMs == 0 {
			h.replyErr(msg, errcode.InvalidPayload)
			return
		}
		if p.Verb == "" {
			p.Verb = "read"
		}
		h.startPoll(a, p.Verb, p.IntervalMs, p.JitterMs)
		h.replyOK(msg)
		return
	case verbPollStop:
		p, code := As[types.PollStop](msg.Payload)
		if code != "" {
			h.replyErr(msg, code)
			return
		}
		if p.Verb == "" {
			p.Verb = "read"
		}
		h.poller.Stop(a, p.Verb)
		h.replyOK(msg)
		return
	}

	res, err := dev.Control(a, verb, msg.Payload)
	if err != nil {
		h.replyFromError(msg, err)
		return
	}
	if !msg.CanReply() {
		return
	}
	if res.OK {
		h.replyOK(msg)
		return
	}
	code := res.Error
	if code == "" {
		code = errcode.Busy
	}
	h.replyErr(msg, code)
}

// startPoll clamps the interval to the owning device's floor before
// scheduling.
func (h *HAL) startPoll(a CapAddr, verb string, intervalMs uint32, jitterMs uint16) {
	every := time.Duration(intervalMs) * time.Millisecond
	floor := minPollInterval
	if mp, ok := h.dev[h.capIndex[a]].(MinPoller); ok {
		floor = mathx.Max(floor, mp.MinPollInterval())
	}
	every = mathx.Clamp(every, floor, maxPollInterval)
	h.poller.Upsert(a, verb, every, time.Duration(jitterMs)*time.Millisecond)
}

func (h *HAL) handlePoll(pr PollReq) {
	dev := h.dev[h.capIndex[pr.Addr]]
	if dev == nil {
		return
	}
	res, err := dev.Control(pr.Addr, pr.Verb, nil)
	if err != nil {
		println("[hal] poll failed:", pr.Addr.Kind, pr.Addr.Name, "err:", err.Error())
		return
	}
	if !res.OK && res.Error != errcode.Busy && res.Error != errcode.RateLimited {
		println("[hal] poll rejected:", pr.Addr.Kind, pr.Addr.Name, "code:", string(res.Error))
	}
}

func (h *HAL) handleEvent(ev Event) {
	// Late events from a removed device must not resurrect retained state.
	if _, ok := h.capIndex[ev.Addr]; !ok {
		return
	}
	ts := ev.TSms
	if ts == 0 {
		ts = timex.NowMs()
	}

	// 1) Error → retained status:degraded; no value/event published.
	if ev.Err != "" {
		h.conn.Publish(h.conn.NewMessage(
			capStatus(ev.Addr),
			types.CapabilityStatus{Link: types.LinkDegraded, TSms: ts, Error: ev.Err},
			true,
		))
		return
	}

	// 2) Success: event vs value
	if ev.IsEvent {
		t := capEvent(ev.Addr)
		if ev.EventTag != "" {
			t = t.Append(ev.EventTag)
		}
		h.conn.Publish(h.conn.NewMessage(t, ev.Payload, false))
	} else {
		h.conn.Publish(h.conn.NewMessage(capValue(ev.Addr), ev.Payload, true))
	}
	h.conn.Publish(h.conn.NewMessage(
		capStatus(ev.Addr),
		types.CapabilityStatus{Link: types.LinkUp, TSms: ts},
		true,
	))
}

func (h *HAL) pubHALState(level, status string) {
	h.conn.Publish(h.conn.NewMessage(
		topicHALState(),
		types.HALState{Level: level, Status: status, TSms: timex.NowMs()},
		true,
	))
}

func defaultDomainFor(kind string) string {
	switch kind {
	case "temperature", "humidity":
		return "env"
	case "switch":
		return "power"
	default:
		return "io"
	}
}

// ---- HAL as EventEmitter (enqueue to single publisher) ----

func (h *HAL) Emit(ev Event) bool {
	select {
	case h.evCh <- ev:
		return true
	default:
		return false
	}
}

package reporter

import (
	"context"
	"encoding/json"
	"io"

	"dhtnode-go/bus"
	"dhtnode-go/types"
)

var topicConfigReporter = bus.T("config", "reporter")

// Service pairs temperature and humidity readings of one sensor and writes
// each pair as a JSON line.
type Service struct {
	enc *json.Encoder

	cfg     types.ReporterConfig
	capSub  *bus.Subscription // hal/cap/env/+/<sensor>/+
	btnSub  *bus.Subscription // hal/cap/io/button/<button>/event/pressed
	pending pair
	lastTS  int64 // last reported reading
	lastErr int64 // last reported failure
}

type pair struct {
	deciC  int16
	rhx100 uint16
	hasT   bool
	hasH   bool
	tsT    int64 // status timestamp following the value
	tsH    int64
}

func New(w io.Writer) *Service {
	return &Service{enc: json.NewEncoder(w)}
}

// Start the reporter service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigReporter)
	defer conn.Unsubscribe(cfgSub)
	defer s.unsubscribe(conn)

	for {
		select {
		case <-ctx.Done():
			println("[reporter] stopping")
			return
		case msg := <-cfgSub.Channel():
			cfg, ok := configOf(msg.Payload)
			if !ok {
				println("[reporter] config/reporter has wrong payload type")
				continue
			}
			s.configure(conn, cfg)
		case msg := <-chanOf(s.capSub):
			s.handleCap(conn, msg)
		case <-chanOf(s.btnSub):
			s.requestRead(conn)
		}
	}
}

// chanOf yields a nil channel for a nil subscription so select skips it.
func chanOf(sub *bus.Subscription) <-chan *bus.Message {
	if sub == nil {
		return nil
	}
	return sub.Channel()
}

func configOf(v any) (types.ReporterConfig, bool) {
	switch c := v.(type) {
	case types.ReporterConfig:
		return c, true
	case *types.ReporterConfig:
		if c != nil {
			return *c, true
		}
	}
	return types.ReporterConfig{}, false
}

func (s *Service) configure(conn *bus.Connection, cfg types.ReporterConfig) {
	s.unsubscribe(conn)
	s.cfg = cfg
	s.pending = pair{}
	if cfg.Sensor == "" {
		println("[reporter] no sensor configured")
		return
	}
	s.capSub = conn.Subscribe(bus.T("hal", "cap", "env", "+", cfg.Sensor, "+"))
	if cfg.Button != "" {
		s.btnSub = conn.Subscribe(bus.T("hal", "cap", "io", string(types.KindButton), cfg.Button, "event", "pressed"))
	}
	println("[reporter] reporting", cfg.Sensor, "as", cfg.Author)
}

func (s *Service) unsubscribe(conn *bus.Connection) {
	if s.capSub != nil {
		conn.Unsubscribe(s.capSub)
		s.capSub = nil
	}
	if s.btnSub != nil {
		conn.Unsubscribe(s.btnSub)
		s.btnSub = nil
	}
}

// handleCap sees value and status messages of both capabilities in
// publication order: a value is followed by the status carrying its
// timestamp.
func (s *Service) handleCap(conn *bus.Connection, msg *bus.Message) {
	kind, _ := msg.Topic.At(3).(string)
	leaf, _ := msg.Topic.At(5).(string)

	switch p := msg.Payload.(type) {
	case types.TemperatureValue:
		s.pending.deciC, s.pending.hasT, s.pending.tsT = p.DeciC, true, 0
	case types.HumidityValue:
		s.pending.rhx100, s.pending.hasH, s.pending.tsH = p.RHx100, true, 0
	case types.CapabilityStatus:
		if leaf != "status" {
			return
		}
		switch p.Link {
		case types.LinkUp:
			if kind == string(types.KindTemperature) && s.pending.hasT {
				s.pending.tsT = p.TSms
			}
			if kind == string(types.KindHumidity) && s.pending.hasH {
				s.pending.tsH = p.TSms
			}
			s.maybeReport(conn)
		case types.LinkDegraded:
			s.reportFailure(p)
		}
	}
}

func (s *Service) maybeReport(conn *bus.Connection) {
	p := s.pending
	if !p.hasT || !p.hasH || p.tsT == 0 || p.tsT != p.tsH || p.tsT == s.lastTS {
		return
	}
	s.lastTS = p.tsT

	c := float32(p.deciC) / 10
	s.write(types.Report{
		Author:       s.cfg.Author,
		TemperatureC: c,
		TemperatureF: c*1.8 + 32,
		Humidity:     float32(p.rhx100) / 100,
		Message:      s.cfg.Message,
		TSms:         p.tsT,
	})

	if s.cfg.LED != "" {
		conn.Publish(conn.NewMessage(
			bus.T("hal", "cap", "io", string(types.KindLED), s.cfg.LED, "control", "toggle"), nil, false))
	}
}

// reportFailure writes one line per failed read; both capabilities degrade
// with the same timestamp.
func (s *Service) reportFailure(st types.CapabilityStatus) {
	if st.TSms == s.lastErr {
		return
	}
	s.lastErr = st.TSms
	s.write(types.Report{Author: s.cfg.Author, Message: st.Error, TSms: st.TSms})
}

func (s *Service) requestRead(conn *bus.Connection) {
	if s.cfg.Sensor == "" {
		return
	}
	conn.Publish(conn.NewMessage(
		bus.T("hal", "cap", "env", string(types.KindTemperature), s.cfg.Sensor, "control", "read"), nil, false))
}

func (s *Service) write(r types.Report) {
	if err := s.enc.Encode(r); err != nil {
		println("[reporter] write failed:", err.Error())
	}
}

// Command dhtd runs the DHT node stack on a Linux single-board computer:
// HAL over periph.io GPIO, YAML configuration and JSON report lines on
// stdout.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dhtnode-go/bus"
	"dhtnode-go/internal/logging"
	"dhtnode-go/services/config"
	"dhtnode-go/services/hal"
	"dhtnode-go/services/reporter"
	"dhtnode-go/types"
)

func main() {
	cfg, err := LoadFromEnv()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(2)
	}
	log := logging.New(os.Stderr, cfg.AppEnv, cfg.LogLevel, "dhtd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b := bus.NewBus(8)

	mon := b.NewConnection("monitor")
	go monitor(ctx, mon, log)

	halErr := make(chan error, 1)
	go func() { halErr <- hal.Run(ctx, b.NewConnection("hal")) }()

	if err := reporter.New(os.Stdout).Start(ctx, b.NewConnection("reporter")); err != nil {
		return err
	}

	doc, err := config.NewConfigService(cfg.Node, cfg.ConfigPath).Start(ctx, b.NewConnection("config"))
	if err != nil {
		return err
	}
	log.Info("configuration published",
		"node", cfg.Node,
		"file", cfg.ConfigPath,
		"devices", len(doc.HAL.Devices),
		"sensor", doc.Reporter.Sensor,
	)

	if cfg.Console {
		go func() {
			c := NewConsole(b.NewConnection("console"), log, os.Stderr)
			if err := c.Run(ctx, os.Stdin); err != nil {
				log.Warn("console", "err", err)
			}
			cancel()
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-halErr:
		return err
	}
}

// monitor logs HAL state changes and capability link transitions.
func monitor(ctx context.Context, conn *bus.Connection, log *slog.Logger) {
	state := conn.Subscribe(bus.T("hal", "state"))
	status := conn.Subscribe(bus.T("hal", "cap", "+", "+", "+", "status"))
	defer conn.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-state.Channel():
			if s, ok := m.Payload.(types.HALState); ok {
				log.Info("hal", "level", s.Level, "status", s.Status)
			}
		case m := <-status.Channel():
			s, ok := m.Payload.(types.CapabilityStatus)
			if !ok {
				continue
			}
			attrs := []any{"kind", m.Topic.At(3), "name", m.Topic.At(4), "link", s.Link}
			if s.Link == types.LinkDegraded {
				log.Warn("capability", append(attrs, "err", s.Error)...)
				continue
			}
			log.Debug("capability", attrs...)
		}
	}
}

//go:build pico && pico_dht_node

// Command pico-dht-node runs the DHT22 node on a Raspberry Pi Pico: the HAL
// with the compiled-in setup, and report lines on UART0.
package main

import (
	"context"
	"machine"
	"runtime"
	"time"

	"dhtnode-go/bus"
	"dhtnode-go/services/hal"
	"dhtnode-go/services/reporter"
	"dhtnode-go/types"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

const (
	reportBaud = 115_200
	author     = "pico-dht-node"
)

func printTopicWith(prefix string, t bus.Topic) {
	print(prefix)
	print(" ")
	for i := 0; i < t.Len(); i++ {
		if i > 0 {
			print("/")
		}
		switch v := t.At(i).(type) {
		case string:
			print(v)
		case int:
			print(v)
		default:
			print("?")
		}
	}
	println()
}

func main() {
	// Give the USB console time to attach.
	time.Sleep(3 * time.Second)
	ctx := context.Background()

	println("[main] bootstrapping bus …")
	b := bus.NewBus(4)
	ui := b.NewConnection("ui")

	println("[main] configuring uart0 for reports …")
	out := uartx.UART0
	if err := out.Configure(uartx.UARTConfig{
		BaudRate: reportBaud,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	}); err != nil {
		println("[main] uart0 configure failed:", err.Error())
	}

	println("[main] watching hal state and capability status …")
	state := ui.Subscribe(bus.T("hal", "state"))
	status := ui.Subscribe(bus.T("hal", "cap", "+", "+", "+", "status"))
	go func() {
		for {
			select {
			case m := <-state.Channel():
				if s, ok := m.Payload.(types.HALState); ok {
					println("[monitor] hal", s.Level, s.Status)
				}
			case m := <-status.Channel():
				if s, ok := m.Payload.(types.CapabilityStatus); ok && s.Link == types.LinkDegraded {
					printTopicWith("[monitor] degraded", m.Topic)
					println("[monitor] error:", s.Error)
				}
			}
		}
	}()

	println("[main] starting hal.Run …")
	go func() {
		if err := hal.Run(ctx, b.NewConnection("hal")); err != nil {
			println("[main] hal stopped:", err.Error())
		}
	}()

	_ = reporter.New(out).Start(ctx, b.NewConnection("reporter"))

	println("[main] publishing config …")
	ui.Publish(ui.NewMessage(bus.T("config", "hal"), hal.InitialConfig(), true))
	ui.Publish(ui.NewMessage(bus.T("config", "reporter"), types.ReporterConfig{
		Author: author,
		Sensor: "probe",
		LED:    "activity",
	}, true))

	for {
		printMem()
		time.Sleep(30 * time.Second)
	}
}

// printMem prints a compact snapshot of TinyGo runtime memory stats.
// Uses builtin println to avoid fmt overhead/allocations.
func printMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	println(
		"[mem]",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"heapSys:", uint32(ms.HeapSys),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
	)
}

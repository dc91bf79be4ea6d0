//go:build pico && pico_dht_node

package setups

import (
	dht22dev "dhtnode-go/services/hal/devices/dht22"
	"dhtnode-go/services/hal/devices/gpio_dout"
	"dhtnode-go/types"
)

var SelectedPlan = ResourcePlan{GPIOCount: 30}

var SelectedSetup = types.HALConfig{
	Devices: []types.HALDevice{
		// Sensor supply rail, on before the first read.
		{ID: "dht_power", Type: "gpio_switch", Params: gpio_dout.Params{
			Pin: 14, Initial: true,
			Domain: "power", Name: "dht",
		}},

		// DHT22 data line with an external 10k pull-up.
		{ID: "probe", Type: "dht22", Params: dht22dev.Params{
			Pin: 15, Domain: "env", Name: "probe",
			MinIntervalMs: 2_000, Retries: 1,
		}},

		// On-board LED, toggled by the reporter after each report.
		{ID: "activity", Type: "gpio_led", Params: gpio_dout.Params{
			Pin: 25, Domain: "io", Name: "activity",
		}},
	},

	Pollers: []types.PollSpec{
		// Humidity arrives from the same read.
		{Domain: "env", Kind: "temperature", Name: "probe", Verb: "read", IntervalMs: 5_000, JitterMs: 250},
	},
}

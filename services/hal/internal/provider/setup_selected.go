//go:build pico && pico_dht_node

package provider

import "dhtnode-go/services/hal/internal/provider/setups"

func init() {
	SelectedPlan = setups.SelectedPlan
	InitialHALConfig = setups.SelectedSetup
}

//go:build !(pico && pico_dht_node)

package provider

import "dhtnode-go/services/hal/internal/provider/setups"

func init() {
	SelectedPlan = setups.DefaultHostPlan
	// InitialHALConfig left zero-value; hosts load it from a file.
}

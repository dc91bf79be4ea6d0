package hal

import (
	"context"

	"dhtnode-go/bus"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/provider"
	"dhtnode-go/types"

	// Device builders register themselves in init.
	_ "dhtnode-go/services/hal/devices/dht22"
	_ "dhtnode-go/services/hal/devices/gpio_button"
	_ "dhtnode-go/services/hal/devices/gpio_dout"
)

// Run starts the HAL on conn with the platform's resources and blocks until
// ctx is done. Configuration arrives on config/hal.
func Run(ctx context.Context, conn *bus.Connection) error {
	res, err := provider.NewResources()
	if err != nil {
		println("[hal] resources unavailable:", err.Error())
		return err
	}
	core.NewHAL(conn, res).Run(ctx)
	return nil
}

// InitialConfig is the compiled-in setup for this build, if any.
func InitialConfig() types.HALConfig { return provider.InitialHALConfig }

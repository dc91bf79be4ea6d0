//go:build !(rp2040 || rp2350) && !(linux && !tinygo)

package provider

import (
	"dhtnode-go/errcode"
	"dhtnode-go/services/hal/internal/core"
	"dhtnode-go/services/hal/internal/provider/setups"
)

func newPlatformSource(setups.ResourcePlan) (pinSource, error) { return noneSource{}, nil }

// noneSource backs builds without GPIO; every claim fails.
type noneSource struct{}

func (noneSource) GPIO(int) (core.GPIOHandle, error) { return nil, errcode.UnknownPin }
func (noneSource) Line(int) (core.Line, error)       { return nil, errcode.UnknownPin }
func (noneSource) Reset(int)                         {}
func (noneSource) Timing() core.Timing               { return core.Timing{} }

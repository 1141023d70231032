package go2tv

import (
	"context"

	"go2tv.app/go2tv/v2/devices"

	"github.com/bidev/playcast-ingest/internal/adapters"
)

// Bundle wires the go2tv-backed adapters in one place.
type Bundle struct {
	Discovery adapters.Discovery
}

func NewBundle() Bundle {
	return Bundle{
		Discovery: DiscoveryAdapter{},
	}
}

type DiscoveryAdapter struct{}

func (DiscoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (DiscoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

var _ adapters.Discovery = DiscoveryAdapter{}

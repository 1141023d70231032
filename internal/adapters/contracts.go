package adapters

import (
	"context"

	"go2tv.app/go2tv/v2/devices"
)

// Discovery provides LAN renderer discovery primitives.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

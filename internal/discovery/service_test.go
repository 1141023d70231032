package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"go2tv.app/go2tv/v2/devices"

	"github.com/bidev/playcast-ingest/internal/domain"
)

type fakeAdapter struct {
	loadAllDevices func(delaySeconds int) ([]devices.Device, error)
	startLoopCalls int
}

func (f *fakeAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	f.startLoopCalls++
}

func (f *fakeAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	if f.loadAllDevices == nil {
		return nil, errors.New("not configured")
	}
	return f.loadAllDevices(delaySeconds)
}

func containsType(types []domain.FileType, want domain.FileType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func TestPlayableTypes(t *testing.T) {
	accepts, limitations := playableTypes("airplay", false)
	if len(accepts) != 2 || !containsType(accepts, domain.FileTypeVideo) {
		t.Fatalf("unexpected accepts for unknown protocol: %+v", accepts)
	}
	if len(limitations) != 1 || limitations[0].Code != "UNKNOWN_PROTOCOL" {
		t.Fatalf("unexpected limitations: %+v", limitations)
	}

	accepts, limitations = playableTypes("dlna", true)
	if len(accepts) != 1 || accepts[0] != domain.FileTypeAudio {
		t.Fatalf("unexpected accepts for audio-only dlna: %+v", accepts)
	}
	if len(limitations) != 2 {
		t.Fatalf("expected audio-only and playlist limitations, got %+v", limitations)
	}
}

func TestListLocalHardware_NoAdapter(t *testing.T) {
	svc := NewService(nil, context.Background())
	if _, err := svc.ListLocalHardware(context.Background(), 100, true); err == nil {
		t.Fatal("expected error without adapter")
	}
}

func TestListLocalHardware_NoDeviceAvailableIsEmpty(t *testing.T) {
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			return nil, devices.ErrNoDeviceAvailable
		},
	}

	svc := NewService(adapter, context.Background())
	items, err := svc.ListLocalHardware(context.Background(), 150, true)
	if err != nil {
		t.Fatalf("list local hardware: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no devices, got %d", len(items))
	}
}

func TestListLocalHardware_OrdersRenderersAndTagsPlayableTypes(t *testing.T) {
	origProbe := probeRenderer
	t.Cleanup(func() {
		probeRenderer = origProbe
	})
	probeRenderer = func(address string, timeout time.Duration) bool {
		return true
	}

	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			return []devices.Device{
				{Name: "Kitchen Speaker (Chromecast Audio)", Addr: "http://192.168.1.30:8009", Type: "Chromecast", IsAudioOnly: true},
				{Name: "Bedroom TV", Addr: "http://192.168.1.10:1400/desc.xml", Type: "DLNA", IsAudioOnly: false},
				{Name: "Living Room TV", Addr: "http://192.168.1.20:8009", Type: "Chromecast", IsAudioOnly: false},
			}, nil
		},
	}

	svc := NewService(adapter, context.Background())

	first, err := svc.ListLocalHardware(context.Background(), 2500, true)
	if err != nil {
		t.Fatalf("list local hardware: %v", err)
	}
	second, err := svc.ListLocalHardware(context.Background(), 2500, true)
	if err != nil {
		t.Fatalf("list local hardware (second call): %v", err)
	}

	if len(first) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(first))
	}
	if adapter.startLoopCalls != 1 {
		t.Fatalf("expected discovery loop to start once, got %d", adapter.startLoopCalls)
	}

	if first[0].Protocol != "dlna" {
		t.Fatalf("expected first protocol dlna, got %q", first[0].Protocol)
	}
	if first[1].Protocol != "chromecast" || first[2].Protocol != "chromecast" {
		t.Fatalf("expected chromecast devices after dlna, got %q and %q", first[1].Protocol, first[2].Protocol)
	}

	if containsType(first[0].Accepts, domain.FileTypePlaylist) {
		t.Fatal("expected dlna renderer to reject playlists")
	}
	if len(first[0].Limitations) == 0 || first[0].Limitations[0].Code != "PLAYLIST_UNSUPPORTED" {
		t.Fatalf("unexpected dlna limitations: %+v", first[0].Limitations)
	}

	// Sorted by name within chromecast: Kitchen before Living Room.
	if first[1].Name != "Kitchen Speaker (Chromecast Audio)" {
		t.Fatalf("unexpected chromecast order: %q", first[1].Name)
	}
	if containsType(first[1].Accepts, domain.FileTypeVideo) {
		t.Fatal("expected audio-only renderer to reject video")
	}
	if !containsType(first[1].Accepts, domain.FileTypePlaylist) || !containsType(first[1].Accepts, domain.FileTypeAudio) {
		t.Fatalf("unexpected audio-only accepts: %+v", first[1].Accepts)
	}
	if !containsType(first[2].Accepts, domain.FileTypeVideo) {
		t.Fatalf("expected chromecast TV to accept video: %+v", first[2].Accepts)
	}

	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("expected stable IDs across calls at index %d", i)
		}
	}
}

func TestListLocalHardware_DropsRenderersThatDoNotAnswer(t *testing.T) {
	origProbe := probeRenderer
	t.Cleanup(func() {
		probeRenderer = origProbe
	})
	probeRenderer = func(address string, timeout time.Duration) bool {
		return address == "http://192.168.1.10:1400/desc.xml"
	}

	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			return []devices.Device{
				{Name: "Bedroom TV", Addr: "http://192.168.1.10:1400/desc.xml", Type: "DLNA"},
				{Name: "Living Room TV", Addr: "http://192.168.1.20:8009", Type: "Chromecast"},
			}, nil
		},
	}

	svc := NewService(adapter, context.Background())
	filtered, err := svc.ListLocalHardware(context.Background(), 2500, false)
	if err != nil {
		t.Fatalf("list local hardware: %v", err)
	}

	if len(filtered) != 1 {
		t.Fatalf("expected 1 reachable device, got %d", len(filtered))
	}
	if filtered[0].Address != "http://192.168.1.10:1400/desc.xml" {
		t.Fatalf("unexpected kept address: %s", filtered[0].Address)
	}
}

func TestListLocalHardware_SlowScanYieldsEmptyList(t *testing.T) {
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			time.Sleep(120 * time.Millisecond)
			return []devices.Device{{Name: "Late Device", Addr: "http://192.168.1.50:8009", Type: "Chromecast"}}, nil
		},
	}

	svc := NewService(adapter, context.Background())
	start := time.Now()
	items, err := svc.ListLocalHardware(context.Background(), 20, true)
	if err != nil {
		t.Fatalf("list local hardware: %v", err)
	}

	if len(items) != 0 {
		t.Fatalf("expected timeout to return empty list, got %d items", len(items))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("expected timeout behavior, elapsed=%s", elapsed)
	}
}

func TestScanSecondsRoundsUp(t *testing.T) {
	cases := []struct {
		timeoutMS int
		want      int
	}{
		{timeoutMS: 2500, want: 3},
		{timeoutMS: 2000, want: 2},
		{timeoutMS: 1, want: 1},
		{timeoutMS: 0, want: 1},
	}

	for _, tc := range cases {
		got := scanSeconds(tc.timeoutMS)
		if got != tc.want {
			t.Fatalf("scanSeconds(%d) = %d, want %d", tc.timeoutMS, got, tc.want)
		}
	}
}

func TestListLocalHardware_RescansUntilRendererAppears(t *testing.T) {
	origProbe := probeRenderer
	t.Cleanup(func() {
		probeRenderer = origProbe
	})
	probeRenderer = func(address string, timeout time.Duration) bool {
		return true
	}

	callCount := 0
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			callCount++
			if callCount == 1 {
				return nil, devices.ErrNoDeviceAvailable
			}
			return []devices.Device{
				{Name: "Living Room TV", Addr: "http://192.168.1.20:8009", Type: "Chromecast"},
			}, nil
		},
	}

	svc := NewService(adapter, context.Background())
	items, err := svc.ListLocalHardware(context.Background(), 4500, true)
	if err != nil {
		t.Fatalf("list local hardware: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 device, got %d", len(items))
	}
	if callCount < 2 {
		t.Fatalf("expected at least 2 discovery calls, got %d", callCount)
	}
}

// Package discovery lists LAN renderers that ingested media can be cast to,
// annotated with the upload types each one can play.
package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/devices"

	"github.com/bidev/playcast-ingest/internal/adapters"
	"github.com/bidev/playcast-ingest/internal/domain"
)

const (
	defaultTimeoutMS = 2500
	dialWait         = 400 * time.Millisecond
	minScanSeconds   = 1
	maxScanAttemptMS = 3000
)

// probeRenderer is swapped in tests to avoid dialing the LAN.
var probeRenderer = dialRenderer

// Service answers list_local_hardware. The Chromecast mDNS loop starts on
// the first call and runs until loopCtx ends.
type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	once    sync.Once
}

func NewService(adapter adapters.Discovery, loopCtx context.Context) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}

	return &Service{
		adapter: adapter,
		loopCtx: loopCtx,
	}
}

type scanResult struct {
	found []devices.Device
	err   error
}

// ListLocalHardware scans for renderers for up to timeoutMS and returns
// them tagged with the upload types they can play. A scan that finds
// nothing in time yields an empty list, not an error.
func (s *Service) ListLocalHardware(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error) {
	if s.adapter == nil {
		return nil, errors.New("discovery adapter is not configured")
	}
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	resultCh := make(chan scanResult, 1)
	go func() {
		found, err := s.scanUntil(ctx, time.Now().Add(time.Duration(timeoutMS)*time.Millisecond))
		resultCh <- scanResult{found: found, err: err}
	}()

	timeout := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return []domain.Device{}, nil
	case result := <-resultCh:
		if result.err != nil {
			if errors.Is(result.err, devices.ErrNoDeviceAvailable) {
				return []domain.Device{}, nil
			}
			return nil, result.err
		}

		renderers := toRenderers(result.found)
		if !includeUnreachable {
			renderers = reachableOnly(renderers)
		}
		orderRenderers(renderers)
		return renderers, nil
	}
}

// scanUntil repeats the adapter scan until one succeeds or deadline
// passes. Renderers that are still warming up show up on a later attempt.
func (s *Service) scanUntil(ctx context.Context, deadline time.Time) ([]devices.Device, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remainingMS := int(time.Until(deadline).Milliseconds())
		if remainingMS <= 0 {
			return []devices.Device{}, nil
		}

		loaded, err := s.adapter.LoadAllDevices(scanSeconds(min(remainingMS, maxScanAttemptMS)))
		if err == nil {
			if loaded == nil {
				loaded = []devices.Device{}
			}
			return loaded, nil
		}
		if !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, err
		}
	}
}

// scanSeconds rounds a millisecond budget up to the whole seconds go2tv
// scans in.
func scanSeconds(timeoutMS int) int {
	seconds := int(math.Ceil(float64(timeoutMS) / 1000.0))
	if seconds <= 0 {
		return minScanSeconds
	}
	return seconds
}

func toRenderers(discovered []devices.Device) []domain.Device {
	result := make([]domain.Device, 0, len(discovered))
	for _, raw := range discovered {
		protocol := normalizeProtocol(raw.Type)
		address := strings.TrimSpace(raw.Addr)

		accepts, limitations := playableTypes(protocol, raw.IsAudioOnly)
		result = append(result, domain.Device{
			ID:          stableID(protocol, address),
			Name:        strings.TrimSpace(raw.Name),
			Type:        strings.TrimSpace(raw.Type),
			Address:     address,
			IsAudioOnly: raw.IsAudioOnly,
			Protocol:    protocol,
			Accepts:     accepts,
			Limitations: limitations,
		})
	}

	return result
}

func reachableOnly(all []domain.Device) []domain.Device {
	kept := make([]domain.Device, 0, len(all))
	for _, dev := range all {
		if probeRenderer(dev.Address, dialWait) {
			kept = append(kept, dev)
		}
	}
	return kept
}

// orderRenderers sorts DLNA first, then Chromecast, then by name and address.
func orderRenderers(all []domain.Device) {
	sort.Slice(all, func(i, j int) bool {
		if protocolRank(all[i].Protocol) != protocolRank(all[j].Protocol) {
			return protocolRank(all[i].Protocol) < protocolRank(all[j].Protocol)
		}
		if strings.ToLower(all[i].Name) != strings.ToLower(all[j].Name) {
			return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name)
		}
		if strings.ToLower(all[i].Address) != strings.ToLower(all[j].Address) {
			return strings.ToLower(all[i].Address) < strings.ToLower(all[j].Address)
		}
		return all[i].ID < all[j].ID
	})
}

func protocolRank(protocol string) int {
	switch protocol {
	case "dlna":
		return 0
	case "chromecast":
		return 1
	default:
		return 2
	}
}

// stableID derives an ID from protocol and canonical address so repeated
// scans agree.
func stableID(protocol, address string) string {
	canonical := fmt.Sprintf("%s|%s", protocol, canonicalAddress(address))
	sum := sha1.Sum([]byte(canonical))
	return "dev_" + hex.EncodeToString(sum[:8])
}

func canonicalAddress(address string) string {
	parsed, err := url.Parse(address)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(address))
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port == "" {
		if strings.EqualFold(parsed.Scheme, "https") {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := strings.TrimSpace(strings.ToLower(parsed.EscapedPath()))
	if path == "" {
		path = "/"
	}

	return fmt.Sprintf("%s://%s:%s%s", strings.ToLower(parsed.Scheme), host, port, path)
}

func normalizeProtocol(kind string) string {
	lower := strings.ToLower(strings.TrimSpace(kind))
	if strings.Contains(lower, "chrome") {
		return "chromecast"
	}
	if strings.Contains(lower, "dlna") {
		return "dlna"
	}
	return lower
}

// playableTypes maps a renderer to the ingest types it can play.
// Playlists only reach Chromecast, which pulls HLS itself.
func playableTypes(protocol string, audioOnly bool) ([]domain.FileType, []domain.Limitation) {
	accepts := []domain.FileType{domain.FileTypeAudio}
	limitations := []domain.Limitation{}

	if audioOnly {
		limitations = append(limitations, domain.Limitation{
			Code:    "AUDIO_ONLY",
			Message: "Renderer has no display; video uploads are not playable.",
		})
	} else {
		accepts = append(accepts, domain.FileTypeVideo)
	}

	switch protocol {
	case "chromecast":
		accepts = append(accepts, domain.FileTypePlaylist)
	case "dlna":
		limitations = append(limitations, domain.Limitation{
			Code:    "PLAYLIST_UNSUPPORTED",
			Message: "DLNA renderers cannot open M3U playlists; cast single entries instead.",
		})
	default:
		limitations = append(limitations, domain.Limitation{
			Code:    "UNKNOWN_PROTOCOL",
			Message: "Renderer protocol is not recognised; playback is best effort.",
		})
	}

	return accepts, limitations
}

func dialRenderer(address string, timeout time.Duration) bool {
	parsed, err := url.Parse(address)
	if err != nil {
		return false
	}

	hostPort := parsed.Host
	if hostPort == "" {
		return false
	}
	if parsed.Port() == "" {
		if strings.EqualFold(parsed.Scheme, "https") {
			hostPort = net.JoinHostPort(parsed.Hostname(), "443")
		} else {
			hostPort = net.JoinHostPort(parsed.Hostname(), "80")
		}
	}

	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

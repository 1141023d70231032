// Package diagnostics backs the -self-test flag.
package diagnostics

import (
	"net"
	"os"
	"strconv"

	"github.com/bidev/playcast-ingest/internal/netaddr"
)

var (
	discoverIP = netaddr.DiscoverIP
	listen     = net.Listen
)

type DirStatus struct {
	Path     string `json:"path"`
	Writable bool   `json:"writable"`
	Error    string `json:"error,omitempty"`
}

type PortStatus struct {
	Port      int    `json:"port"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type Report struct {
	MediaDir     DirStatus  `json:"media_dir"`
	SpoolDir     DirStatus  `json:"spool_dir"`
	Port         PortStatus `json:"port"`
	AdvertisedIP string     `json:"advertised_ip"`
	UploadURL    string     `json:"upload_url"`
	Ready        bool       `json:"ready"`
}

// Run checks that an upload could be stored and the port bound. The media
// dir is created if missing, as the first upload would do.
func Run(mediaDir, spoolDir string, port int) Report {
	if spoolDir == "" {
		spoolDir = os.TempDir()
	}

	ip := discoverIP()
	report := Report{
		MediaDir:     probeDir(mediaDir, true),
		SpoolDir:     probeDir(spoolDir, false),
		Port:         probePort(port),
		AdvertisedIP: ip,
		UploadURL:    netaddr.DisplayURL(ip, port),
	}
	report.Ready = report.MediaDir.Writable && report.SpoolDir.Writable && report.Port.Available
	return report
}

func probeDir(dir string, create bool) DirStatus {
	status := DirStatus{Path: dir}
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			status.Error = err.Error()
			return status
		}
	}

	f, err := os.CreateTemp(dir, ".playcast-probe-*")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	status.Writable = true
	return status
}

func probePort(port int) PortStatus {
	status := PortStatus{Port: port}
	ln, err := listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		status.Error = err.Error()
		return status
	}
	_ = ln.Close()

	status.Available = true
	return status
}

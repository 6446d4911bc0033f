// Package hostinfo describes the machine the camera server runs on:
// identity, memory, uptime and free space on the media volumes.
package hostinfo

import (
	"net"
	"os"
	"runtime"
	"time"

	"github.com/avaropoint/camlink/internal/version"
)

// Volume is disk usage for one media directory.
type Volume struct {
	Path  string `json:"path"`
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

// Info is serialised directly by the admin API.
type Info struct {
	Hostname      string   `json:"hostname"`
	OS            string   `json:"os"`
	OSVersion     string   `json:"os_version"`
	Arch          string   `json:"arch"`
	CPUCount      int      `json:"cpu_count"`
	MemoryTotal   uint64   `json:"memory_total"`
	MemoryFree    uint64   `json:"memory_free"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	LocalIPs      []string `json:"local_ips"`
	Volumes       []Volume `json:"volumes"`
	Goroutines    int      `json:"goroutines"`
	Version       string   `json:"version"`
	StartedAt     string   `json:"started_at"`
}

var started = time.Now()

// Collect gathers host details. Each dir in volumes gets a disk usage
// entry; directories that cannot be read report zeros.
func Collect(volumes ...string) Info {
	info := Info{
		Hostname:   hostname(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPUCount:   runtime.NumCPU(),
		LocalIPs:   localIPs(),
		Goroutines: runtime.NumGoroutine(),
		Version:    version.Version,
		StartedAt:  started.UTC().Format(time.RFC3339),
		Volumes:    make([]Volume, 0, len(volumes)),
	}
	collectPlatform(&info)
	for _, dir := range volumes {
		total, free := diskUsage(dir)
		info.Volumes = append(info.Volumes, Volume{Path: dir, Total: total, Free: free})
	}
	return info
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// localIPs returns non-loopback, non-link-local unicast addresses of
// interfaces that are up.
func localIPs() []string {
	ips := []string{}
	ifaces, err := net.Interfaces()
	if err != nil {
		return ips
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ip := usableIP(addr); ip != "" {
				ips = append(ips, ip)
			}
		}
	}
	return ips
}

func usableIP(addr net.Addr) string {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return ""
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return ""
	}
	return ip.String()
}

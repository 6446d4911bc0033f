//go:build linux

package hostinfo

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

func collectPlatform(info *Info) {
	info.OSVersion = osRelease("/etc/os-release")

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		unit := uint64(si.Unit)
		if unit == 0 {
			unit = 1
		}
		info.MemoryTotal = uint64(si.Totalram) * unit
		info.MemoryFree = (uint64(si.Freeram) + uint64(si.Bufferram)) * unit
		info.UptimeSeconds = int64(si.Uptime)
	}
}

// osRelease returns PRETTY_NAME from an os-release file.
func osRelease(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "Linux"
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return "Linux"
}

//go:build darwin

package hostinfo

import (
	"time"

	"golang.org/x/sys/unix"
)

func collectPlatform(info *Info) {
	if v, err := unix.Sysctl("kern.osproductversion"); err == nil {
		info.OSVersion = "macOS " + v
	} else {
		info.OSVersion = "macOS"
	}
	if total, err := unix.SysctlUint64("hw.memsize"); err == nil {
		info.MemoryTotal = total
	}
	if tv, err := unix.SysctlTimeval("kern.boottime"); err == nil {
		info.UptimeSeconds = int64(time.Since(time.Unix(tv.Unix())).Seconds())
	}
}

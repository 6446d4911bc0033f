//go:build windows

package hostinfo

import "golang.org/x/sys/windows"

func diskUsage(dir string) (total, free uint64) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, 0
	}
	var avail, all, unused uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &all, &unused); err != nil {
		return 0, 0
	}
	return all, avail
}

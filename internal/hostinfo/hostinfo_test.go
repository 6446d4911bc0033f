package hostinfo

import (
	"net"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	info := Collect(dir, missing)

	if info.Hostname == "" || info.OS != runtime.GOOS || info.CPUCount < 1 {
		t.Errorf("identity = %+v", info)
	}
	if len(info.Volumes) != 2 {
		t.Fatalf("volumes = %+v", info.Volumes)
	}
	if runtime.GOOS == "linux" {
		if info.Volumes[0].Total == 0 {
			t.Error("temp dir reports zero capacity")
		}
		if info.MemoryTotal == 0 {
			t.Error("memory total is zero")
		}
	}
	if v := info.Volumes[1]; v.Total != 0 || v.Free != 0 {
		t.Errorf("missing dir = %+v, want zeros", v)
	}
	if info.LocalIPs == nil {
		t.Error("LocalIPs is nil, want empty slice")
	}
}

func TestUsableIP(t *testing.T) {
	tests := []struct {
		addr net.Addr
		want string
	}{
		{&net.IPNet{IP: net.ParseIP("192.168.1.20")}, "192.168.1.20"},
		{&net.IPNet{IP: net.ParseIP("127.0.0.1")}, ""},
		{&net.IPAddr{IP: net.ParseIP("fe80::1")}, ""},
		{&net.IPAddr{IP: net.ParseIP("2001:db8::5")}, "2001:db8::5"},
		{&net.TCPAddr{}, ""},
	}
	for _, tt := range tests {
		if got := usableIP(tt.addr); got != tt.want {
			t.Errorf("usableIP(%v) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

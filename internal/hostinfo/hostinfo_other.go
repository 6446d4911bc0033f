//go:build !linux && !darwin

package hostinfo

func collectPlatform(*Info) {}

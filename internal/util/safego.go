// Package util has small helpers shared by the server, client and archive
// workers: panic-safe goroutines and retry with backoff.
package util

import (
	"runtime/debug"
	"sync"

	"github.com/avaropoint/camlink/internal/logging"
)

// SafeGo runs fn on a new goroutine. A panic is logged with its stack and
// swallowed so one misbehaving worker cannot take the process down.
func SafeGo(fn func()) {
	go func() {
		defer recoverPanic("")
		fn()
	}()
}

// SafeGoWithName is SafeGo with a goroutine name in the panic log.
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer recoverPanic(name)
		fn()
	}()
}

// GoTracked is SafeGoWithName for workers that a caller later joins
// through wg.
func GoTracked(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverPanic(name)
		fn()
	}()
}

func recoverPanic(name string) {
	r := recover()
	if r == nil {
		return
	}
	args := []any{"panic", r, "stack", string(debug.Stack())}
	if name != "" {
		args = append(args, "goroutine", name)
	}
	logging.Error("goroutine panic recovered", args...)
}

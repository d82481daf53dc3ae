//go:build deadlock

// Package syncx provides mutex types that can be swapped for deadlock detection.
// This variant wraps go-deadlock and reports lock-order inversions and long waits.
package syncx

import (
	"os"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Mutex is a mutual exclusion lock with deadlock detection.
type Mutex = deadlock.Mutex

// RWMutex is a reader/writer mutual exclusion lock with deadlock detection.
type RWMutex = deadlock.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

func init() {
	deadlock.Opts.DeadlockTimeout = 10 * time.Second
	if os.Getenv("LUADAP_NO_DEADLOCK_DETECT") != "" {
		deadlock.Opts.Disable = true
		return
	}
	deadlock.Opts.PrintAllCurrentGoroutines = true
	// stdout carries DAP traffic; reports must go to stderr.
	deadlock.Opts.LogBuf = os.Stderr
}

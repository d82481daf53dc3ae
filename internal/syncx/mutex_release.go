//go:build !deadlock

// Package syncx provides mutex types that can be swapped for deadlock detection.
// Build with -tags deadlock to use go-deadlock.
package syncx

import "sync"

// Mutex is a mutual exclusion lock.
type Mutex = sync.Mutex

// RWMutex is a reader/writer mutual exclusion lock.
type RWMutex = sync.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

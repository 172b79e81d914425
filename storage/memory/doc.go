// Package memory provides an in-memory implementation of the storage interfaces.
//
// Store implements ClientStore, CodeStore and TokenStore using Go maps guarded by
// one sync.RWMutex. Code redemption and access token rotation each run inside a
// single critical section.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Injectable clock for expiry decisions (SetClock)
//   - Periodic sweep of expired codes and access tokens (NewWithInterval, Sweep)
//   - Storage size gauges and operation metrics via SetInstrumentation
//
// Nothing survives a restart and nothing is shared between processes.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, store, store, config, logger)
package memory

// Package storage persists what outlives a process: operator audit entries
// and the tracker's per-package state. The notification stream itself is
// never stored.
//
// Drivers:
//   - "file": audit JSON Lines plus a state snapshot and journal
//   - "sqlite": one SQLite file (build tag sqlite)
package storage

package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one administrative action.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Source string    `json:"source"` // telegram, http, cli
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}

// PackageState is the tracker's last known view of one package.
type PackageState struct {
	Package  string    `json:"package"`
	Class    string    `json:"class"`
	LastType string    `json:"last_type"`
	At       time.Time `json:"at"`
	Events   uint64    `json:"events"`
}

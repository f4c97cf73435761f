//go:build sqlite

package storage

import (
	"path/filepath"
	"testing"

	"uiroute/pkg/logx"
)

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "uiroute.sqlite")
	exerciseStore(t, func() Store {
		st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return st
	})
}

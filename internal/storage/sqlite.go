//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"uiroute/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, source, action, target, err, took_ms) VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Actor, e.Source, e.Action, nullStr(e.Target), nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		n = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor, source, action, COALESCE(target,''), COALESCE(err,''), took_ms
		 FROM (SELECT * FROM audit ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var at string
		if err := rows.Scan(&at, &e.Actor, &e.Source, &e.Action, &e.Target, &e.Error, &e.TookMS); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutState(ctx context.Context, st PackageState) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(st.Package) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO package_state(package, class, last_type, at_ms, events) VALUES(?,?,?,?,?)
		 ON CONFLICT(package) DO UPDATE SET class=excluded.class, last_type=excluded.last_type,
		   at_ms=excluded.at_ms, events=excluded.events`,
		st.Package, st.Class, st.LastType, st.At.UnixMilli(), st.Events,
	)
	return err
}

func (s *sqliteStore) GetState(ctx context.Context, pkg string) (PackageState, bool, error) {
	if s == nil || s.db == nil {
		return PackageState{}, false, ErrDisabled
	}
	st := PackageState{Package: pkg}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT class, last_type, at_ms, events FROM package_state WHERE package = ?`, pkg,
	).Scan(&st.Class, &st.LastType, &ms, &st.Events)
	if errors.Is(err, sql.ErrNoRows) {
		return PackageState{}, false, nil
	}
	if err != nil {
		return PackageState{}, false, err
	}
	st.At = time.UnixMilli(ms)
	return st, true, nil
}

func (s *sqliteStore) ListStates(ctx context.Context) ([]PackageState, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT package, class, last_type, at_ms, events FROM package_state ORDER BY package`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PackageState
	for rows.Next() {
		var st PackageState
		var ms int64
		if err := rows.Scan(&st.Package, &st.Class, &st.LastType, &ms, &st.Events); err != nil {
			return nil, err
		}
		st.At = time.UnixMilli(ms)
		out = append(out, st)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

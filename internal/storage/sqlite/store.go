// Package sqlite stores the ledger record in two SQLite tables. Save rewrites
// both tables inside a single transaction so a reader never sees half a
// record.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"vpnshare/internal/core"

	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	path string
}

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; modernc serialises anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (*core.State, error) {
	st := core.NewState()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, username, role FROM users`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id       int64
			u        core.User
			username sql.NullString
			role     string
		)
		if err := rows.Scan(&id, &u.Name, &username, &role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if username.Valid {
			h := username.String
			u.Username = &h
		}
		u.Role = core.Role(role)
		st.Users[core.UserID(id)] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	prow, err := s.db.QueryContext(ctx, `SELECT month, user_id, paid FROM payments`)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer prow.Close()
	for prow.Next() {
		var (
			month string
			id    int64
			paid  bool
		)
		if err := prow.Scan(&month, &id, &paid); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		m := core.Month(month)
		if st.Payments[m] == nil {
			st.Payments[m] = map[core.UserID]bool{}
		}
		st.Payments[m][core.UserID(id)] = paid
	}
	if err := prow.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return st, nil
}

func (s *Store) Save(ctx context.Context, st *core.State) error {
	st = st.Normalize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("clear users: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM payments`); err != nil {
		return fmt.Errorf("clear payments: %w", err)
	}

	userStmt, err := tx.PrepareContext(ctx, `INSERT INTO users (id, name, username, role) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare user insert: %w", err)
	}
	defer userStmt.Close()
	for id, u := range st.Users {
		var username sql.NullString
		if u.Username != nil {
			username = sql.NullString{String: *u.Username, Valid: true}
		}
		if _, err := userStmt.ExecContext(ctx, int64(id), u.Name, username, string(u.Role)); err != nil {
			return fmt.Errorf("insert user %d: %w", id, err)
		}
	}

	payStmt, err := tx.PrepareContext(ctx, `INSERT INTO payments (month, user_id, paid) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare payment insert: %w", err)
	}
	defer payStmt.Close()
	for m, bucket := range st.Payments {
		for id, paid := range bucket {
			if _, err := payStmt.ExecContext(ctx, string(m), int64(id), paid); err != nil {
				return fmt.Errorf("insert payment %s/%d: %w", m, id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	slog.DebugContext(ctx, "State saved to SQLite",
		"path", s.path,
		"users", len(st.Users),
		"months", len(st.Payments))
	return nil
}

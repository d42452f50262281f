package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sheetmail/internal/dispatch"
	"sheetmail/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
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

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
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

func (s *sqliteStore) RecordRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	outcomes, err := json.Marshal(r.Outcomes)
	if err != nil {
		return err
	}
	var fatal any
	if r.Fatal != nil {
		b, err := json.Marshal(r.Fatal)
		if err != nil {
			return err
		}
		fatal = string(b)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, group_id, template, state, reason, err, total, processed, sent, rejected, started_at, finished_at, outcomes, fatal)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   state=excluded.state, reason=excluded.reason, err=excluded.err,
		   processed=excluded.processed, sent=excluded.sent, rejected=excluded.rejected,
		   finished_at=excluded.finished_at, outcomes=excluded.outcomes, fatal=excluded.fatal`,
		r.RunID, r.GroupID, r.Template, r.State, nullStr(r.Reason), nullStr(r.Error),
		r.Total, r.Processed, r.Sent, r.Rejected,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), string(outcomes), fatal,
	)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, f Filter) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var (
		where []string
		args  []any
	)
	if f.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if !f.Since.IsZero() {
		where = append(where, "finished_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	q := `SELECT run_id, group_id, template, state, reason, err, total, processed, sent, rejected, started_at, finished_at, outcomes, fatal FROM runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY finished_at DESC LIMIT ?"
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                   RunRecord
			reason, errStr      sql.NullString
			outcomes, fatal     sql.NullString
			startedMS, finishMS int64
		)
		if err := rows.Scan(&r.RunID, &r.GroupID, &r.Template, &r.State, &reason, &errStr,
			&r.Total, &r.Processed, &r.Sent, &r.Rejected, &startedMS, &finishMS, &outcomes, &fatal); err != nil {
			return nil, err
		}
		r.Reason, r.Error = reason.String, errStr.String
		r.StartedAt, r.FinishedAt = time.UnixMilli(startedMS), time.UnixMilli(finishMS)
		if f.WithOutcomes && outcomes.Valid && outcomes.String != "" && outcomes.String != "null" {
			if err := json.Unmarshal([]byte(outcomes.String), &r.Outcomes); err != nil {
				return nil, fmt.Errorf("run %s outcomes: %w", r.RunID, err)
			}
		}
		if fatal.Valid && fatal.String != "" {
			var o dispatch.Outcome
			if err := json.Unmarshal([]byte(fatal.String), &o); err == nil {
				r.Fatal = &o
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

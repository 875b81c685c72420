package status

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// LogsInsert appends one build log chunk.
func (s *Store) LogsInsert(ctx context.Context, r types.LogRecord) error {
	if r.Created.IsZero() {
		r.Created = time.Now().UTC()
	}
	const q = `INSERT INTO logs (package_base, version, process_id, created, record, repository, architecture)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	return s.tx(ctx, "logs insert", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q, r.ID.Base, r.ID.Version, r.ID.ProcessID, r.Created.UnixNano(), r.Message, s.repo.Name, s.repo.Architecture)
		return err
	})
}

// LogsGet returns the transcript of a package base ordered by time.
// Version and process id narrow the query when not empty.
func (s *Store) LogsGet(ctx context.Context, base, version, processID string) (string, error) {
	records, err := s.LogRecords(ctx, base, version, processID)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.Message
	}
	return strings.Join(lines, "\n"), nil
}

// LogRecords returns the individual log records behind LogsGet.
func (s *Store) LogRecords(ctx context.Context, base, version, processID string) ([]types.LogRecord, error) {
	where := []string{"package_base = ?", "repository = ?", "architecture = ?"}
	args := []any{base, s.repo.Name, s.repo.Architecture}
	if version != "" {
		where = append(where, "version = ?")
		args = append(args, version)
	}
	if processID != "" {
		where = append(where, "process_id = ?")
		args = append(args, processID)
	}

	q := `SELECT package_base, version, process_id, created, record FROM logs WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created, id`
	rows, err := s.rdb.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, types.NewErrStore("logs get", err)
	}
	defer rows.Close()

	var out []types.LogRecord
	for rows.Next() {
		var (
			r       types.LogRecord
			created int64
		)
		if err := rows.Scan(&r.ID.Base, &r.ID.Version, &r.ID.ProcessID, &created, &r.Message); err != nil {
			return nil, types.NewErrStore("logs get", err)
		}
		r.Created = fromNanos(created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewErrStore("logs get", err)
	}
	return out, nil
}

// LogsRemove deletes the logs of a package base.  When current is set
// the logs of that version are kept and only older versions go.
func (s *Store) LogsRemove(ctx context.Context, base, current string) error {
	q := `DELETE FROM logs WHERE package_base = ? AND repository = ? AND architecture = ?`
	args := []any{base, s.repo.Name, s.repo.Architecture}
	if current != "" {
		q += ` AND version <> ?`
		args = append(args, current)
	}
	return s.tx(ctx, "logs remove", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	})
}

// LogsRotate keeps only the keep most recent process runs of every
// package base and deletes the rest.
func (s *Store) LogsRotate(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, types.ErrInvalidOption{Option: "logs.keep_last", Value: "<1"}
	}
	const q = `
		DELETE FROM logs
		WHERE repository = ? AND architecture = ?
		AND (package_base, process_id) NOT IN (
			SELECT package_base, process_id FROM (
				SELECT package_base, process_id,
					ROW_NUMBER() OVER (PARTITION BY package_base ORDER BY MAX(created) DESC) AS rn
				FROM logs
				WHERE repository = ? AND architecture = ?
				GROUP BY package_base, process_id
			) WHERE rn <= ?
		)`
	var n int64
	err := s.tx(ctx, "logs rotate", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, s.repo.Name, s.repo.Architecture, s.repo.Name, s.repo.Architecture, keep)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err == nil {
		s.l.Debug("Rotated logs", "removed", n, "keep", keep)
	}
	return n, err
}

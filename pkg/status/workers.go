package status

import (
	"context"
	"database/sql"
	"time"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// WorkersInsert records (or refreshes) a worker announcement.
func (s *Store) WorkersInsert(ctx context.Context, w types.Worker, seen time.Time) error {
	const q = `
		INSERT INTO workers (identifier, address, last_seen) VALUES (?, ?, ?)
		ON CONFLICT (identifier) DO UPDATE SET
			address   = excluded.address,
			last_seen = excluded.last_seen`
	return s.tx(ctx, "workers insert", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q, w.Identifier, w.Address, seen.UnixNano())
		return err
	})
}

// WorkersGet returns every recorded worker with its last announcement
// time.
func (s *Store) WorkersGet(ctx context.Context) (map[types.Worker]time.Time, error) {
	rows, err := s.rdb.QueryContext(ctx, `SELECT identifier, address, last_seen FROM workers ORDER BY identifier`)
	if err != nil {
		return nil, types.NewErrStore("workers get", err)
	}
	defer rows.Close()

	out := make(map[types.Worker]time.Time)
	for rows.Next() {
		var (
			w    types.Worker
			seen int64
		)
		if err := rows.Scan(&w.Identifier, &w.Address, &seen); err != nil {
			return nil, types.NewErrStore("workers get", err)
		}
		out[w] = fromNanos(seen)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewErrStore("workers get", err)
	}
	return out, nil
}

// WorkersClear forgets every worker.
func (s *Store) WorkersClear(ctx context.Context) error {
	return s.tx(ctx, "workers clear", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM workers`)
		return err
	})
}

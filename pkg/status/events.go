package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// EventInsert appends an event to the log.
func (s *Store) EventInsert(ctx context.Context, e types.Event) error {
	return s.tx(ctx, "event insert", func(tx *sql.Tx) error {
		return insertEvent(ctx, tx, s.repo, e)
	})
}

func insertEvent(ctx context.Context, tx *sql.Tx, repo types.RepositoryID, e types.Event) error {
	if e.Created.IsZero() {
		e.Created = time.Now().UTC()
	}
	var data sql.NullString
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return err
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	const q = `INSERT INTO events (created, event, object_id, message, data, repository, architecture)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, e.Created.UnixNano(), string(e.Type), e.ObjectID, e.Message, data, repo.Name, repo.Architecture)
	return err
}

// EventGet returns events matching the filter in insertion order.
func (s *Store) EventGet(ctx context.Context, f types.EventFilter) ([]types.Event, error) {
	where := []string{"repository = ?", "architecture = ?"}
	args := []any{s.repo.Name, s.repo.Architecture}
	if f.Type != "" {
		where = append(where, "event = ?")
		args = append(args, string(f.Type))
	}
	if f.ObjectID != "" {
		where = append(where, "object_id = ?")
		args = append(args, f.ObjectID)
	}
	if !f.From.IsZero() {
		where = append(where, "created >= ?")
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		where = append(where, "created < ?")
		args = append(args, f.To.UnixNano())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, f.Offset)

	q := `SELECT id, created, event, object_id, message, data FROM events WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY id LIMIT ? OFFSET ?`
	rows, err := s.rdb.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, types.NewErrStore("event get", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var (
			e       types.Event
			created int64
			kind    string
			data    sql.NullString
		)
		if err := rows.Scan(&e.ID, &created, &kind, &e.ObjectID, &e.Message, &data); err != nil {
			return nil, types.NewErrStore("event get", err)
		}
		e.Created = fromNanos(created)
		e.Type = types.EventType(kind)
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, types.NewErrStore("event get", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewErrStore("event get", err)
	}
	return out, nil
}

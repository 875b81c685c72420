package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// PackageUpdate inserts or replaces the metadata of a package base.
func (s *Store) PackageUpdate(ctx context.Context, p types.Package) error {
	source, err := json.Marshal(p.Remote)
	if err != nil {
		return types.NewErrStore("package update", err)
	}
	pkgs, err := json.Marshal(p.Packages)
	if err != nil {
		return types.NewErrStore("package update", err)
	}

	const q = `
		INSERT INTO packages (package_base, version, source, packages, packager, repository, architecture)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (package_base, architecture, repository) DO UPDATE SET
			version  = excluded.version,
			source   = excluded.source,
			packages = excluded.packages,
			packager = excluded.packager`
	return s.tx(ctx, "package update", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q, p.Base, p.Version, string(source), string(pkgs), p.Packager, s.repo.Name, s.repo.Architecture)
		return err
	})
}

// PackageGet returns the stored metadata of a package base, or
// types.ErrNotFound.
func (s *Store) PackageGet(ctx context.Context, base string) (types.Package, error) {
	const q = `SELECT package_base, version, source, packages, packager FROM packages
		WHERE package_base = ? AND repository = ? AND architecture = ?`
	p, err := scanPackage(s.rdb.QueryRowContext(ctx, q, base, s.repo.Name, s.repo.Architecture))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Package{}, types.ErrNotFound
	}
	if err != nil {
		return types.Package{}, types.NewErrStore("package get", err)
	}
	return p, nil
}

// PackagesGet returns every known package with its current status.
// Packages without a status record are reported as Unknown.
func (s *Store) PackagesGet(ctx context.Context) ([]types.PackageStatus, error) {
	const q = `
		SELECT p.package_base, p.version, p.source, p.packages, p.packager,
			COALESCE(st.status, ''), COALESCE(st.last_updated, 0)
		FROM packages p
		LEFT JOIN package_statuses st
			ON st.package_base = p.package_base
			AND st.repository = p.repository
			AND st.architecture = p.architecture
		WHERE p.repository = ? AND p.architecture = ?
		ORDER BY p.package_base`
	rows, err := s.rdb.QueryContext(ctx, q, s.repo.Name, s.repo.Architecture)
	if err != nil {
		return nil, types.NewErrStore("packages get", err)
	}
	defer rows.Close()

	var out []types.PackageStatus
	for rows.Next() {
		var (
			ps               types.PackageStatus
			source, packages string
			status           string
			updated          int64
		)
		if err := rows.Scan(&ps.Package.Base, &ps.Package.Version, &source, &packages, &ps.Package.Packager, &status, &updated); err != nil {
			return nil, types.NewErrStore("packages get", err)
		}
		if err := decodePackage(&ps.Package, source, packages); err != nil {
			return nil, types.NewErrStore("packages get", err)
		}
		ps.Status = types.BuildStatus{Status: types.ParseBuildStatus(status), Timestamp: fromNanos(updated)}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewErrStore("packages get", err)
	}
	return out, nil
}

// PackageRemove drops a package base together with its status and
// logs, and records a removal event, all in one transaction.
func (s *Store) PackageRemove(ctx context.Context, base string) error {
	return s.tx(ctx, "package remove", func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM packages WHERE package_base = ? AND repository = ? AND architecture = ?`,
			`DELETE FROM package_statuses WHERE package_base = ? AND repository = ? AND architecture = ?`,
			`DELETE FROM logs WHERE package_base = ? AND repository = ? AND architecture = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, base, s.repo.Name, s.repo.Architecture); err != nil {
				return err
			}
		}
		return insertEvent(ctx, tx, s.repo, types.NewEvent(types.EventPackageRemoved, base, "package removed"))
	})
}

// StatusGet returns the current status of a package base.  A base
// that was never recorded is Unknown.
func (s *Store) StatusGet(ctx context.Context, base string) (types.BuildStatus, error) {
	const q = `SELECT status, last_updated FROM package_statuses
		WHERE package_base = ? AND repository = ? AND architecture = ?`
	var (
		status  string
		updated int64
	)
	err := s.rdb.QueryRowContext(ctx, q, base, s.repo.Name, s.repo.Architecture).Scan(&status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return types.BuildStatus{Status: types.StatusUnknown}, nil
	}
	if err != nil {
		return types.BuildStatus{}, types.NewErrStore("status get", err)
	}
	return types.BuildStatus{Status: types.ParseBuildStatus(status), Timestamp: fromNanos(updated)}, nil
}

// StatusSet replaces the current status of a package base.
func (s *Store) StatusSet(ctx context.Context, base string, st types.BuildStatus) error {
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now().UTC()
	}
	const q = `
		INSERT INTO package_statuses (package_base, status, last_updated, repository, architecture)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (package_base, architecture, repository) DO UPDATE SET
			status       = excluded.status,
			last_updated = excluded.last_updated`
	return s.tx(ctx, "status set", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q, base, string(st.Status), st.Timestamp.UnixNano(), s.repo.Name, s.repo.Architecture)
		return err
	})
}

// ReconcileBuilding resets every package left in Building to Pending.
// A process that died mid-build leaves such records behind and they
// are not to be trusted.
func (s *Store) ReconcileBuilding(ctx context.Context) (int64, error) {
	const q = `UPDATE package_statuses SET status = ?, last_updated = ?
		WHERE status = ? AND repository = ? AND architecture = ?`
	var n int64
	err := s.tx(ctx, "reconcile building", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, string(types.StatusPending), time.Now().UTC().UnixNano(),
			string(types.StatusBuilding), s.repo.Name, s.repo.Architecture)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if n > 0 {
		s.l.Warn("Reset stale building statuses", "count", n)
	}
	return n, err
}

func scanPackage(row *sql.Row) (types.Package, error) {
	var (
		p                types.Package
		source, packages string
	)
	if err := row.Scan(&p.Base, &p.Version, &source, &packages, &p.Packager); err != nil {
		return types.Package{}, err
	}
	if err := decodePackage(&p, source, packages); err != nil {
		return types.Package{}, err
	}
	return p, nil
}

func decodePackage(p *types.Package, source, packages string) error {
	if err := json.Unmarshal([]byte(source), &p.Remote); err != nil {
		return err
	}
	return json.Unmarshal([]byte(packages), &p.Packages)
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"anonreport/internal/apperr"
	"anonreport/internal/content"
	"anonreport/internal/membership"
	"anonreport/internal/registry"
	"anonreport/internal/zk"

	"github.com/lib/pq"
)

// Postgres keeps state in four tables. Commit runs the nullifier insert and
// the report insert in one transaction.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Postgres{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		idx BIGINT PRIMARY KEY,
		commitment BYTEA NOT NULL UNIQUE,
		enrolled_epoch BIGINT NOT NULL,
		enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT FALSE,
		revoked_epoch BIGINT NOT NULL DEFAULT 0,
		revoked_at TIMESTAMP WITH TIME ZONE,
		leaked BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS digests (
		epoch BIGINT PRIMARY KEY,
		root BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reports (
		id BIGINT PRIMARY KEY,
		content_ref BYTEA NOT NULL,
		tags TEXT[] NOT NULL DEFAULT '{}',
		submitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
		nullifier BYTEA NOT NULL UNIQUE,
		membership_root BYTEA NOT NULL,
		action_context BYTEA NOT NULL,
		signal BYTEA NOT NULL,
		verified BOOLEAN NOT NULL,
		supersedes BIGINT REFERENCES reports(id),
		proof_digest BYTEA NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nullifiers (
		nullifier BYTEA PRIMARY KEY,
		report_id BIGINT NOT NULL REFERENCES reports(id) DEFERRABLE INITIALLY DEFERRED
	);

	CREATE INDEX IF NOT EXISTS idx_reports_submitted ON reports(submitted_at);
	`

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (s *Postgres) SaveMember(ctx context.Context, m membership.Member, d *membership.Digest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO members
		(idx, commitment, enrolled_epoch, enrolled_at, revoked, revoked_epoch, revoked_at, leaked)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (idx) DO UPDATE SET
		revoked = EXCLUDED.revoked,
		revoked_epoch = EXCLUDED.revoked_epoch,
		revoked_at = EXCLUDED.revoked_at,
		leaked = EXCLUDED.leaked
	`,
		int64(m.Index),
		m.Commitment[:],
		int64(m.EnrolledEpoch),
		m.EnrolledAt,
		m.Revoked,
		int64(m.RevokedEpoch),
		nullTime(m.RevokedAt),
		m.Leaked,
	)
	if err != nil {
		return fmt.Errorf("saving member: %w", err)
	}
	if d != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO digests (epoch, root, created_at) VALUES ($1, $2, $3)`,
			int64(d.Epoch), d.Root[:], d.CreatedAt)
		if err != nil {
			return fmt.Errorf("saving digest: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Postgres) LoadMembership(ctx context.Context) ([]membership.Member, []membership.Digest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, commitment, enrolled_epoch, enrolled_at, revoked, revoked_epoch, revoked_at, leaked
		FROM members ORDER BY idx
	`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var members []membership.Member
	for rows.Next() {
		var (
			m                   membership.Member
			idx, enrolled, revE int64
			commitment          []byte
			revokedAt           sql.NullTime
		)
		if err := rows.Scan(&idx, &commitment, &enrolled, &m.EnrolledAt, &m.Revoked, &revE, &revokedAt, &m.Leaked); err != nil {
			return nil, nil, fmt.Errorf("scanning member: %w", err)
		}
		if m.Commitment, err = hashFromBytes(commitment); err != nil {
			return nil, nil, err
		}
		m.Index = uint64(idx)
		m.EnrolledEpoch = uint64(enrolled)
		m.EnrolledAt = m.EnrolledAt.UTC()
		m.RevokedEpoch = uint64(revE)
		if revokedAt.Valid {
			m.RevokedAt = revokedAt.Time.UTC()
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	drows, err := s.db.QueryContext(ctx, `SELECT epoch, root, created_at FROM digests ORDER BY epoch`)
	if err != nil {
		return nil, nil, err
	}
	defer drows.Close()

	var digests []membership.Digest
	for drows.Next() {
		var (
			d     membership.Digest
			epoch int64
			root  []byte
		)
		if err := drows.Scan(&epoch, &root, &d.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scanning digest: %w", err)
		}
		if d.Root, err = hashFromBytes(root); err != nil {
			return nil, nil, err
		}
		d.Epoch = uint64(epoch)
		d.CreatedAt = d.CreatedAt.UTC()
		digests = append(digests, d)
	}
	return members, digests, drows.Err()
}

func (s *Postgres) Commit(ctx context.Context, e registry.Entry) (registry.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.Entry{}, err
	}
	defer tx.Rollback()

	// Serializes id assignment; readers are not blocked.
	if _, err := tx.ExecContext(ctx, `LOCK TABLE reports IN EXCLUSIVE MODE`); err != nil {
		return registry.Entry{}, fmt.Errorf("locking reports: %w", err)
	}
	var (
		next int64
		last sql.NullTime
	)
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0), MAX(submitted_at) FROM reports`).Scan(&next, &last); err != nil {
		return registry.Entry{}, err
	}
	e.ID = uint64(next)
	if last.Valid && e.SubmittedAt.Before(last.Time) {
		e.SubmittedAt = last.Time
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO nullifiers (nullifier, report_id) VALUES ($1, $2) ON CONFLICT (nullifier) DO NOTHING`,
		e.Nullifier[:], next)
	if err != nil {
		return registry.Entry{}, fmt.Errorf("consuming nullifier: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return registry.Entry{}, err
	} else if n == 0 {
		_ = tx.Rollback()
		existing, err := s.ByNullifier(ctx, e.Nullifier)
		if err != nil {
			return registry.Entry{}, fmt.Errorf("%w: consumed nullifier has no report: %v", apperr.ErrLedgerCorruption, err)
		}
		return registry.Entry{}, &registry.DuplicateError{Existing: existing}
	}

	var supersedes sql.NullInt64
	if e.Supersedes != nil {
		supersedes = sql.NullInt64{Int64: int64(*e.Supersedes), Valid: true}
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO reports
		(id, content_ref, tags, submitted_at, nullifier, membership_root, action_context, signal, verified, supersedes, proof_digest)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		next,
		e.ContentRef[:],
		pq.Array(tags),
		e.SubmittedAt,
		e.Nullifier[:],
		e.MembershipRoot[:],
		e.ActionContext[:],
		e.Signal[:],
		e.Verified,
		supersedes,
		e.ProofDigest[:],
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return registry.Entry{}, fmt.Errorf("%w: report id %d", apperr.ErrSequenceConflict, next)
		}
		return registry.Entry{}, fmt.Errorf("appending report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return registry.Entry{}, fmt.Errorf("committing report: %w", err)
	}
	return e, nil
}

const reportColumns = `id, content_ref, tags, submitted_at, nullifier, membership_root, action_context, signal, verified, supersedes, proof_digest`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (registry.Entry, error) {
	var (
		e                                         registry.Entry
		id                                        int64
		ref, nul, root, action, signal, proofHash []byte
		tags                                      []string
		supersedes                                sql.NullInt64
	)
	if err := row.Scan(&id, &ref, pq.Array(&tags), &e.SubmittedAt, &nul, &root, &action, &signal, &e.Verified, &supersedes, &proofHash); err != nil {
		return registry.Entry{}, err
	}
	e.ID = uint64(id)
	if len(ref) != len(e.ContentRef) || len(proofHash) != len(e.ProofDigest) {
		return registry.Entry{}, fmt.Errorf("%w: report %d has malformed digests", apperr.ErrLedgerCorruption, id)
	}
	e.ContentRef = content.Ref(ref)
	copy(e.ProofDigest[:], proofHash)
	var err error
	for _, f := range []struct {
		dst *zk.Hash
		src []byte
	}{{&e.Nullifier, nul}, {&e.MembershipRoot, root}, {&e.ActionContext, action}, {&e.Signal, signal}} {
		if *f.dst, err = hashFromBytes(f.src); err != nil {
			return registry.Entry{}, err
		}
	}
	if len(tags) > 0 {
		e.Tags = tags
	}
	if supersedes.Valid {
		v := uint64(supersedes.Int64)
		e.Supersedes = &v
	}
	e.SubmittedAt = e.SubmittedAt.UTC()
	return e, nil
}

func hashFromBytes(b []byte) (zk.Hash, error) {
	var h zk.Hash
	if len(b) != len(h) {
		return h, fmt.Errorf("%w: stored hash has %d bytes", apperr.ErrLedgerCorruption, len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (s *Postgres) Get(ctx context.Context, id uint64) (registry.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Entry{}, fmt.Errorf("%w: report %d", apperr.ErrNotFound, id)
	}
	return e, err
}

func (s *Postgres) List(ctx context.Context, offset, limit int) ([]registry.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports ORDER BY id ASC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []registry.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n)
	return n, err
}

func (s *Postgres) ByNullifier(ctx context.Context, n zk.Hash) (registry.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE id = (SELECT report_id FROM nullifiers WHERE nullifier = $1)
	`, n[:]))
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Entry{}, fmt.Errorf("%w: nullifier", apperr.ErrNotFound)
	}
	return e, err
}

func (s *Postgres) CountSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE submitted_at >= $1`, t).Scan(&n)
	return n, err
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

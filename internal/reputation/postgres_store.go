package reputation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store backed by the scam_reports table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed report store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `receiver_id, report_count, reasons, first_reported, last_reported, flagged, flag_reason`

func (p *PostgresStore) Report(ctx context.Context, receiverID, reason string, at time.Time) (*Record, error) {
	return p.update(ctx, receiverID, at, func(r *Record) { r.addReport(reason, at) })
}

func (p *PostgresStore) Flag(ctx context.Context, receiverID, reason string, at time.Time) (*Record, error) {
	return p.update(ctx, receiverID, at, func(r *Record) { r.flag(reason, at) })
}

// update locks the receiver's row, applies fn and writes the result back.
// The row is created first so concurrent first reports serialize on it.
func (p *PostgresStore) update(ctx context.Context, receiverID string, at time.Time, fn func(*Record)) (*Record, error) {
	id := Normalize(receiverID)

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scam_reports (receiver_id, report_count, reasons, first_reported, last_reported, flagged, flag_reason)
		VALUES ($1, 0, '{}', $2, $2, FALSE, '')
		ON CONFLICT (receiver_id) DO NOTHING`, id, at); err != nil {
		return nil, err
	}

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM scam_reports WHERE receiver_id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if rec.Count == 0 && !rec.Flagged {
		// Freshly inserted placeholder.
		rec.FirstReported, rec.LastReported = time.Time{}, time.Time{}
	}

	fn(rec)
	reasons := rec.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE scam_reports
		SET report_count = $2, reasons = $3, first_reported = $4, last_reported = $5,
			flagged = $6, flag_reason = $7
		WHERE receiver_id = $1`,
		rec.ReceiverID, rec.Count, pq.Array(reasons),
		rec.FirstReported, rec.LastReported, rec.Flagged, rec.FlagReason,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PostgresStore) Get(ctx context.Context, receiverID string) (*Record, error) {
	rec, err := scanRecord(p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM scam_reports WHERE receiver_id = $1`, Normalize(receiverID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PostgresStore) ListTop(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM scam_reports
		ORDER BY report_count DESC, last_reported DESC, receiver_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	rec := &Record{}
	var reasons []string
	if err := row.Scan(
		&rec.ReceiverID, &rec.Count, pq.Array(&reasons),
		&rec.FirstReported, &rec.LastReported, &rec.Flagged, &rec.FlagReason,
	); err != nil {
		return nil, err
	}
	rec.Reasons = reasons
	rec.FirstReported = rec.FirstReported.UTC()
	rec.LastReported = rec.LastReported.UTC()
	return rec, nil
}

package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mbd888/payguard/internal/pagination"
)

// PostgresStore persists risk assessments in PostgreSQL. The schema lives in
// migrations/ (risk_assessments).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, assessment *RiskAssessment) error {
	if assessment.Verdict == nil {
		return fmt.Errorf("risk assessment %s has no verdict", assessment.ID)
	}
	verdictJSON, err := json.Marshal(assessment.Verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	v := assessment.Verdict
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(id, receiver_id, amount, score, label, decision, score_source, verdict, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		assessment.ID,
		normalizeID(assessment.ReceiverID),
		assessment.Amount,
		v.OverallScore,
		string(v.OverallLabel),
		string(v.Decision),
		string(v.Reconciliation.Source),
		verdictJSON,
		assessment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByReceiver(ctx context.Context, receiverID string, limit int, cursor *pagination.Cursor) ([]*RiskAssessment, error) {
	query := `
		SELECT id, receiver_id, amount, verdict, created_at
		FROM risk_assessments
		WHERE receiver_id = $1`
	args := []any{normalizeID(receiverID)}
	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*RiskAssessment
	for rows.Next() {
		var a RiskAssessment
		var verdictJSON []byte
		if err := rows.Scan(&a.ID, &a.ReceiverID, &a.Amount, &verdictJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		var v RiskVerdict
		if err := json.Unmarshal(verdictJSON, &v); err != nil {
			return nil, fmt.Errorf("failed to decode verdict %s: %w", a.ID, err)
		}
		a.Verdict = &v
		result = append(result, &a)
	}
	return result, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"veritas/internal/platform/postgres"
	"veritas/internal/verification/models"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
	txcontext "veritas/pkg/platform/tx"
)

// PostgresStore persists verifications and steps in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const verificationColumns = `id, certificate_id, requested_by, type, status, result, confidence_score,
	result_data, started_at, completed_at, duration_ms, created_at, updated_at`

const stepColumns = `id, verification_id, sequence_number, step_type, status, result, error_message,
	duration_ms, executed_at, created_at`

func (s *PostgresStore) Create(ctx context.Context, v *models.Verification) error {
	_, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO verifications (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, verificationArgs(v)...)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, v *models.Verification) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		UPDATE verifications
		SET certificate_id = $2, requested_by = $3, type = $4, status = $5, result = $6,
			confidence_score = $7, result_data = $8, started_at = $9, completed_at = $10,
			duration_ms = $11, created_at = $12, updated_at = $13
		WHERE id = $1
	`, verificationArgs(v)...)
	if err != nil {
		return fmt.Errorf("update verification: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) FindByID(ctx context.Context, verificationID id.VerificationID) (*models.Verification, error) {
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE id = $1`, verificationID.String())
	v, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListByCertificate(ctx context.Context, certID id.CertificateID) ([]*models.Verification, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE certificate_id = $1 ORDER BY created_at`,
		certID.String())
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendStep(ctx context.Context, step *models.Step) error {
	_, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO verification_steps (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		step.ID.String(),
		step.VerificationID.String(),
		step.SequenceNumber,
		string(step.Type),
		string(step.Status),
		nullableJSON(step.Result),
		nullableString(step.ErrorMessage),
		step.DurationMs,
		step.ExecutedAt,
		step.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert verification step: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStep(ctx context.Context, step *models.Step) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		UPDATE verification_steps
		SET status = $2, result = $3, error_message = $4, duration_ms = $5
		WHERE id = $1
	`,
		step.ID.String(),
		string(step.Status),
		nullableJSON(step.Result),
		nullableString(step.ErrorMessage),
		step.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("update verification step: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) ListSteps(ctx context.Context, verificationID id.VerificationID) ([]*models.Step, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx,
		`SELECT `+stepColumns+` FROM verification_steps WHERE verification_id = $1 ORDER BY sequence_number`,
		verificationID.String())
	if err != nil {
		return nil, fmt.Errorf("list verification steps: %w", err)
	}
	defer rows.Close()

	out := []*models.Step{}
	for rows.Next() {
		var (
			step     models.Step
			rawID    uuid.UUID
			rawVerID uuid.UUID
			typ      string
			status   string
			result   []byte
			errMsg   sql.NullString
		)
		if err := rows.Scan(&rawID, &rawVerID, &step.SequenceNumber, &typ, &status, &result, &errMsg,
			&step.DurationMs, &step.ExecutedAt, &step.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verification step: %w", err)
		}
		step.ID = id.StepID(rawID)
		step.VerificationID = id.VerificationID(rawVerID)
		step.Type = models.StepType(typ)
		step.Status = models.StepStatus(status)
		step.Result = result
		step.ErrorMessage = errMsg.String
		out = append(out, &step)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSteps(ctx context.Context, verificationID id.VerificationID) error {
	_, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM verification_steps WHERE verification_id = $1`, verificationID.String())
	if err != nil {
		return fmt.Errorf("delete verification steps: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerification(row scanner) (*models.Verification, error) {
	var (
		v           models.Verification
		rawID       uuid.UUID
		rawCertID   uuid.UUID
		requestedBy uuid.NullUUID
		typ         string
		status      string
		result      sql.NullString
		score       sql.NullFloat64
		resultData  []byte
	)
	if err := row.Scan(&rawID, &rawCertID, &requestedBy, &typ, &status, &result, &score, &resultData,
		&v.StartedAt, &v.CompletedAt, &v.DurationMs, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.ID = id.VerificationID(rawID)
	v.CertificateID = id.CertificateID(rawCertID)
	if requestedBy.Valid {
		v.RequestedBy = id.UserID(requestedBy.UUID)
	}
	v.Type = models.Type(typ)
	v.Status = models.Status(status)
	if result.Valid {
		r := models.Result(result.String)
		v.Result = &r
	}
	if score.Valid {
		sc := score.Float64
		v.ConfidenceScore = &sc
	}
	v.ResultData = resultData
	return &v, nil
}

func verificationArgs(v *models.Verification) []any {
	var requestedBy any
	if !v.RequestedBy.IsNil() {
		requestedBy = v.RequestedBy.String()
	}
	var result any
	if v.Result != nil {
		result = string(*v.Result)
	}
	return []any{
		v.ID.String(),
		v.CertificateID.String(),
		requestedBy,
		string(v.Type),
		string(v.Status),
		result,
		v.ConfidenceScore,
		nullableJSON(v.ResultData),
		v.StartedAt,
		v.CompletedAt,
		v.DurationMs,
		v.CreatedAt,
		v.UpdatedAt,
	}
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

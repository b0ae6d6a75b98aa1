package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"veritas/internal/certificate/models"
	"veritas/internal/platform/postgres"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
	txcontext "veritas/pkg/platform/tx"
)

// PostgresStore persists certificates in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const certificateColumns = `id, user_id, type, issuer_type, payload, has_qr_code, has_digital_signature,
	status, identity_verified, identity_verified_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, cert *models.Certificate) error {
	payload, err := json.Marshal(cert.Payload)
	if err != nil {
		return fmt.Errorf("marshal certificate payload: %w", err)
	}
	_, err = txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		cert.ID.String(),
		cert.UserID.String(),
		string(cert.Type),
		cert.IssuerType,
		payload,
		cert.HasQRCode,
		cert.HasDigitalSignature,
		string(cert.Status),
		cert.IdentityVerified,
		cert.IdentityVerifiedAt,
		cert.CreatedAt,
		cert.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, certID.String())

	var (
		cert    models.Certificate
		rawID   uuid.UUID
		rawUser uuid.UUID
		typ     string
		status  string
		payload []byte
	)
	err := row.Scan(&rawID, &rawUser, &typ, &cert.IssuerType, &payload, &cert.HasQRCode,
		&cert.HasDigitalSignature, &status, &cert.IdentityVerified, &cert.IdentityVerifiedAt,
		&cert.CreatedAt, &cert.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	cert.ID = id.CertificateID(rawID)
	cert.UserID = id.UserID(rawUser)
	cert.Type = models.Type(typ)
	cert.Status = models.Status(status)
	if err := json.Unmarshal(payload, &cert.Payload); err != nil {
		return nil, fmt.Errorf("decode certificate payload: %w", err)
	}
	return &cert, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, certID id.CertificateID, status models.Status, now time.Time) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`UPDATE certificates SET status = $2, updated_at = $3 WHERE id = $1`,
		certID.String(), string(status), now)
	if err != nil {
		return fmt.Errorf("update certificate status: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresStore) MarkIdentityVerified(ctx context.Context, certID id.CertificateID, now time.Time) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		UPDATE certificates
		SET identity_verified = TRUE, identity_verified_at = $2, updated_at = $2
		WHERE id = $1
	`, certID.String(), now)
	if err != nil {
		return fmt.Errorf("mark identity verified: %w", err)
	}
	return expectOneRow(res)
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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veritas/internal/platform/postgres"
	"veritas/internal/review/models"
	id "veritas/pkg/domain"
	"veritas/pkg/platform/sentinel"
	txcontext "veritas/pkg/platform/tx"
)

// PostgresStore persists reviews in manual_reviews. A partial unique index
// enforces one active review per certificate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const reviewColumns = `seq, id, certificate_id, verification_id, reason, verifier_id, status, priority,
	decision, comments, sla_deadline, sla_breached, assigned_at, started_at, completed_at, created_at, updated_at`

const queueOrder = ` ORDER BY priority_rank DESC, created_at ASC, seq ASC`

func (s *PostgresStore) Create(ctx context.Context, r *models.Review) error {
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO manual_reviews (id, certificate_id, verification_id, reason, verifier_id, status, priority,
			priority_rank, decision, comments, sla_deadline, sla_breached, assigned_at, started_at, completed_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (certificate_id) WHERE status IN ('PENDING', 'IN_PROGRESS') DO NOTHING
		RETURNING seq
	`,
		r.ID.String(),
		r.CertificateID.String(),
		nullableVerificationID(r.VerificationID),
		r.Reason,
		nullableUserID(r.VerifierID),
		string(r.Status),
		string(r.Priority),
		r.Priority.Rank(),
		nullableDecision(r.Decision),
		r.Comments,
		r.SLADeadline,
		r.SLABreached,
		r.AssignedAt,
		r.StartedAt,
		r.CompletedAt,
		r.CreatedAt,
		r.UpdatedAt,
	).Scan(&r.Seq)
	if err != nil {
		// No row back means another active review holds the certificate. The
		// statement did not fail, so an enclosing transaction stays usable.
		if errors.Is(err, sql.ErrNoRows) || postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, reviewID id.ReviewID) (*models.Review, error) {
	return s.findOne(ctx, `SELECT `+reviewColumns+` FROM manual_reviews WHERE id = $1`, reviewID.String())
}

func (s *PostgresStore) FindActiveByCertificate(ctx context.Context, certID id.CertificateID) (*models.Review, error) {
	return s.findOne(ctx, `SELECT `+reviewColumns+` FROM manual_reviews
		WHERE certificate_id = $1 AND status IN ('PENDING', 'IN_PROGRESS')`, certID.String())
}

// ClaimNext locks the head of the queue. SKIP LOCKED lets concurrent reviewers
// claim different rows instead of queueing behind each other.
func (s *PostgresStore) ClaimNext(ctx context.Context, mutate func(*models.Review)) (*models.Review, error) {
	var claimed *models.Review
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		r, err := s.findOne(ctx, `SELECT `+reviewColumns+` FROM manual_reviews WHERE status = 'PENDING'`+
			queueOrder+` LIMIT 1 FOR UPDATE SKIP LOCKED`)
		if err != nil {
			return err
		}
		mutate(r)
		if err := s.update(ctx, r); err != nil {
			return err
		}
		claimed = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *PostgresStore) Execute(ctx context.Context, reviewID id.ReviewID, validate func(*models.Review) error, mutate func(*models.Review)) (*models.Review, error) {
	var result *models.Review
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		r, err := s.findOne(ctx, `SELECT `+reviewColumns+` FROM manual_reviews WHERE id = $1 FOR UPDATE`, reviewID.String())
		if err != nil {
			return err
		}
		if err := validate(r); err != nil {
			return err
		}
		mutate(r)
		if err := s.update(ctx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Review, int, error) {
	where, args := buildWhere(filter)

	var total int
	if err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM manual_reviews`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}

	args = append(args, page.Size, page.Offset())
	q := `SELECT ` + reviewColumns + ` FROM manual_reviews` + where + queueOrder +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	items, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) ListAll(ctx context.Context, filter models.Filter) ([]*models.Review, error) {
	where, args := buildWhere(filter)
	return s.query(ctx, `SELECT `+reviewColumns+` FROM manual_reviews`+where+queueOrder, args...)
}

func buildWhere(f models.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", pq.Array(statuses))
	}
	if len(f.Priorities) > 0 {
		priorities := make([]string, len(f.Priorities))
		for i, p := range f.Priorities {
			priorities[i] = string(p)
		}
		add("priority = ANY($%d)", pq.Array(priorities))
	}
	if f.VerifierID != nil {
		add("verifier_id = $%d", f.VerifierID.String())
	}
	if f.CertificateID != nil {
		add("certificate_id = $%d", f.CertificateID.String())
	}
	if f.CreatedFrom != nil {
		add("created_at >= $%d", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at < $%d", *f.CreatedTo)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) update(ctx context.Context, r *models.Review) error {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		UPDATE manual_reviews
		SET verifier_id = $2, status = $3, priority = $4, priority_rank = $5, decision = $6, comments = $7,
			sla_deadline = $8, sla_breached = $9, assigned_at = $10, started_at = $11, completed_at = $12,
			updated_at = $13
		WHERE id = $1
	`,
		r.ID.String(),
		nullableUserID(r.VerifierID),
		string(r.Status),
		string(r.Priority),
		r.Priority.Rank(),
		nullableDecision(r.Decision),
		r.Comments,
		r.SLADeadline,
		r.SLABreached,
		r.AssignedAt,
		r.StartedAt,
		r.CompletedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) findOne(ctx context.Context, q string, args ...any) (*models.Review, error) {
	r, err := scanReview(txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find review: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*models.Review, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	out := []*models.Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReview(row scanner) (*models.Review, error) {
	var (
		r              models.Review
		rawID          uuid.UUID
		rawCertID      uuid.UUID
		verificationID uuid.NullUUID
		verifierID     uuid.NullUUID
		status         string
		priority       string
		decision       sql.NullString
	)
	if err := row.Scan(&r.Seq, &rawID, &rawCertID, &verificationID, &r.Reason, &verifierID, &status, &priority,
		&decision, &r.Comments, &r.SLADeadline, &r.SLABreached, &r.AssignedAt, &r.StartedAt, &r.CompletedAt,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ID = id.ReviewID(rawID)
	r.CertificateID = id.CertificateID(rawCertID)
	if verificationID.Valid {
		v := id.VerificationID(verificationID.UUID)
		r.VerificationID = &v
	}
	if verifierID.Valid {
		v := id.UserID(verifierID.UUID)
		r.VerifierID = &v
	}
	r.Status = models.Status(status)
	r.Priority = models.Priority(priority)
	if decision.Valid {
		d := models.Decision(decision.String)
		r.Decision = &d
	}
	return &r, nil
}

func nullableVerificationID(v *id.VerificationID) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func nullableUserID(v *id.UserID) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func nullableDecision(d *models.Decision) any {
	if d == nil {
		return nil
	}
	return string(*d)
}

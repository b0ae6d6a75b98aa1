package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"veritas/internal/audit"
	id "veritas/pkg/domain"
	txcontext "veritas/pkg/platform/tx"
)

// chainLockKey is the advisory lock that serializes appends across processes.
const chainLockKey int64 = 0x7665726974617321

// Store persists the chain in the audit_log table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const entryColumns = `seq, id, entity_type, entity_id, action, user_id, metadata, created_at, hash, previous_hash`

func (s *Store) Append(ctx context.Context, build func(previousHash string) (*audit.Entry, error)) (*audit.Entry, error) {
	var entry *audit.Entry
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecutorFor(ctx, s.db)
		if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
			return fmt.Errorf("lock audit chain: %w", err)
		}

		var prev string
		err := exec.QueryRowContext(ctx, `SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read audit head: %w", err)
		}

		e, err := build(prev)
		if err != nil {
			return err
		}
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		var userID any
		if !e.UserID.IsNil() {
			userID = e.UserID.String()
		}

		err = exec.QueryRowContext(ctx, `
			INSERT INTO audit_log (id, entity_type, entity_id, action, user_id, metadata, created_at, hash, previous_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING seq
		`,
			e.ID.String(),
			string(e.EntityType),
			e.EntityID,
			string(e.Action),
			userID,
			metadata,
			e.CreatedAt,
			e.Hash,
			e.PreviousHash,
		).Scan(&e.Seq)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) ListAll(ctx context.Context) ([]*audit.Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM audit_log ORDER BY seq`)
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityType != "" {
		args = append(args, string(filter.EntityType))
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	q := `SELECT ` + entryColumns + ` FROM audit_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY seq`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.query(ctx, q, args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*audit.Entry, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := []*audit.Entry{}
	for rows.Next() {
		var (
			e        audit.Entry
			rawID    uuid.UUID
			userID   uuid.NullUUID
			typ      string
			action   string
			metadata []byte
		)
		if err := rows.Scan(&e.Seq, &rawID, &typ, &e.EntityID, &action, &userID, &metadata,
			&e.CreatedAt, &e.Hash, &e.PreviousHash); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = id.AuditEntryID(rawID)
		e.EntityType = audit.EntityType(typ)
		e.Action = audit.Action(action)
		if userID.Valid {
			e.UserID = id.UserID(userID.UUID)
		}
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

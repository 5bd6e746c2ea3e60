package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	db DBTX
}

// NewAuditStore creates an AuditStore on db.
func NewAuditStore(db DBTX) *AuditStore {
	return &AuditStore{db: db}
}

// Log appends a new audit entry with the given event name and detail map.
// The detail map is stored as JSONB in the database.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`
	if _, err := s.db.Exec(ctx, query, event, detailJSON); err != nil {
		return dbErr("log audit event "+event, err)
	}
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := listFilter(`SELECT id, event, detail, created_at FROM audit_log WHERE TRUE`,
		nil, "created_at", "id DESC", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list audit entries", err)
	}
	entries, err := collect(rows, scanAuditEntry)
	if err != nil {
		return nil, dbErr("scan audit entries", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.Row) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var detailJSON []byte
	if err := row.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
		return domain.AuditEntry{}, err
	}
	if detailJSON != nil {
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("unmarshal audit detail: %w", err)
		}
	}
	return e, nil
}

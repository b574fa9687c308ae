package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tazhate/calmirror/internal/domain"
)

const mappingColumns = `identity, remote_event_id, last_applied_fingerprint, is_exception,
	exception_of_identity, exception_date, created_at, updated_at`

// === Event mappings ===

// LoadAll returns every mapping ordered by identity.
func (s *Storage) LoadAll(ctx context.Context) ([]domain.MappingRecord, error) {
	return s.queryMappings(ctx, `SELECT `+mappingColumns+` FROM event_mappings ORDER BY identity`)
}

// ListByMaster returns the exception mappings of a master.
func (s *Storage) ListByMaster(ctx context.Context, masterIdentity string) ([]domain.MappingRecord, error) {
	return s.queryMappings(ctx,
		`SELECT `+mappingColumns+` FROM event_mappings
		 WHERE exception_of_identity = ? ORDER BY exception_date, identity`,
		masterIdentity,
	)
}

// GetMapping returns the mapping of identity, or nil if there is none.
func (s *Storage) GetMapping(ctx context.Context, identity string) (*domain.MappingRecord, error) {
	recs, err := s.queryMappings(ctx, `SELECT `+mappingColumns+` FROM event_mappings WHERE identity = ?`, identity)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// Upsert inserts or replaces the mapping of rec.Identity. CreatedAt of an
// existing row is kept.
func (s *Storage) Upsert(ctx context.Context, rec domain.MappingRecord) error {
	now := s.now()
	var exceptionDate sql.NullTime
	if rec.ExceptionDate != nil {
		exceptionDate = sql.NullTime{Time: rec.ExceptionDate.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_mappings (`+mappingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET
			remote_event_id = excluded.remote_event_id,
			last_applied_fingerprint = excluded.last_applied_fingerprint,
			is_exception = excluded.is_exception,
			exception_of_identity = excluded.exception_of_identity,
			exception_date = excluded.exception_date,
			updated_at = excluded.updated_at`,
		rec.Identity, rec.RemoteEventID, rec.LastAppliedFingerprint, rec.IsException,
		rec.ExceptionOfIdentity, exceptionDate, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert mapping %s: %w", rec.Identity, err)
	}
	return nil
}

// Delete removes the mapping of identity. Deleting a missing mapping is not an error.
func (s *Storage) Delete(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM event_mappings WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("delete mapping %s: %w", identity, err)
	}
	return nil
}

func (s *Storage) queryMappings(ctx context.Context, query string, args ...any) ([]domain.MappingRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	var recs []domain.MappingRecord
	for rows.Next() {
		var (
			rec           domain.MappingRecord
			exceptionOf   sql.NullString
			exceptionDate sql.NullTime
		)
		if err := rows.Scan(
			&rec.Identity, &rec.RemoteEventID, &rec.LastAppliedFingerprint, &rec.IsException,
			&exceptionOf, &exceptionDate, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		if exceptionOf.Valid {
			of := exceptionOf.String
			rec.ExceptionOfIdentity = &of
		}
		if exceptionDate.Valid {
			date := exceptionDate.Time.UTC()
			rec.ExceptionDate = &date
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/upkeep/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS activities (
    section        TEXT NOT NULL,
    activity       TEXT NOT NULL,
    frequency      INTEGER NOT NULL CHECK (frequency >= 0),
    extra_interval INTEGER NOT NULL CHECK (extra_interval >= 0),
    last_datetime  TIMESTAMP NOT NULL,
    ordinal        INTEGER NOT NULL,
    PRIMARY KEY (section, activity)
)`

var copyColumns = []string{"section", "activity", "frequency", "extra_interval", "last_datetime", "ordinal"}

// Repository provides Postgres-backed persistence for activity sections.
//
// last_datetime holds naive wall-clock values; they are read back in the
// repository's location.
type Repository struct {
	pool     *pgxpool.Pool
	location *time.Location
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.Local
	}
	return &Repository{pool: pool, location: loc}
}

// EnsureSchema creates the activities table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create activities table: %w", err)
	}
	return nil
}

// Load returns the section's records in insertion order. A section without rows is empty.
func (r *Repository) Load(ctx context.Context, section string) ([]domain.ActivityRecord, error) {
	const query = `SELECT activity, frequency, extra_interval, last_datetime
        FROM activities WHERE section=$1 ORDER BY ordinal, activity`

	rows, err := r.pool.Query(ctx, query, section)
	if err != nil {
		return nil, fmt.Errorf("%w: query section %s: %w", domain.ErrStorageUnavailable, section, err)
	}
	defer rows.Close()

	records := []domain.ActivityRecord{}
	for rows.Next() {
		var (
			rec  domain.ActivityRecord
			last time.Time
		)
		if err := rows.Scan(&rec.Name, &rec.FrequencyDays, &rec.ExtraIntervalHours, &last); err != nil {
			return nil, fmt.Errorf("%w: scan section %s: %w", domain.ErrStorageUnavailable, section, err)
		}
		rec.LastCompletedAt = r.fromWallClock(last)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read section %s: %w", domain.ErrStorageUnavailable, section, err)
	}
	if err := domain.ValidateSection(records); err != nil {
		return nil, fmt.Errorf("%w: section %s: %w", domain.ErrStorageUnavailable, section, err)
	}
	return records, nil
}

// Save replaces the section's rows inside a single transaction.
func (r *Repository) Save(ctx context.Context, section string, records []domain.ActivityRecord) (err error) {
	if err := domain.ValidateSection(records); err != nil {
		return fmt.Errorf("refusing to save section %s: %w", section, err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrStorageUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "DELETE FROM activities WHERE section=$1", section); err != nil {
		return fmt.Errorf("%w: clear section %s: %w", domain.ErrStorageUnavailable, section, err)
	}

	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		rows = append(rows, []any{section, rec.Name, rec.FrequencyDays, rec.ExtraIntervalHours, toWallClock(rec.LastCompletedAt), i})
	}
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{"activities"}, copyColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("%w: write section %s: %w", domain.ErrStorageUnavailable, section, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit section %s: %w", domain.ErrStorageUnavailable, section, err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// toWallClock drops the zone so TIMESTAMP stores the local reading.
func toWallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func (r *Repository) fromWallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, r.location)
}

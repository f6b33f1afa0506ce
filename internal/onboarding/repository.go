package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository is the durable store for onboarding records.
//
// Implementations must merge concurrent updates: steps are unioned into
// steps_completed and step_data is shallow-merged, so two clients completing
// different steps both end up reflected in the record.
type Repository interface {
	Fetch(ctx context.Context, companyID, userID uuid.UUID) (*Record, error)
	// Create inserts rec unless a record already exists for the pair, in which case
	// the existing record is returned with created=false.
	Create(ctx context.Context, rec *Record) (stored *Record, created bool, err error)
	Update(ctx context.Context, companyID, userID uuid.UUID, update RecordUpdate) (*Record, error)
	// ListStalled returns unfinished records idle since before inactiveSince that were
	// not reminded after remindedBefore, oldest activity first.
	ListStalled(ctx context.Context, inactiveSince, remindedBefore time.Time, limit int) ([]*Record, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Schema creates the company_onboarding table
const Schema = `
CREATE TABLE IF NOT EXISTS company_onboarding (
	id               UUID PRIMARY KEY,
	company_id       UUID NOT NULL,
	user_id          UUID NOT NULL,
	current_step     TEXT NOT NULL,
	steps_completed  TEXT[] NOT NULL DEFAULT '{}',
	step_data        JSONB NOT NULL DEFAULT '{}'::jsonb,
	last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at     TIMESTAMPTZ,
	last_reminded_at TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (company_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_company_onboarding_stalled
	ON company_onboarding (last_activity_at)
	WHERE completed_at IS NULL;
ALTER TABLE company_onboarding ADD COLUMN IF NOT EXISTS last_reminded_at TIMESTAMPTZ;
`

const recordColumns = `id, company_id, user_id, current_step, steps_completed, step_data,
	last_activity_at, completed_at, created_at`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the onboarding table and indexes if missing
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create onboarding schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Fetch(ctx context.Context, companyID, userID uuid.UUID) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM company_onboarding WHERE company_id = $1 AND user_id = $2`

	var rec Record
	err := r.db.GetContext(ctx, &rec, query, companyID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch onboarding record: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) Create(ctx context.Context, rec *Record) (*Record, bool, error) {
	query := `
		INSERT INTO company_onboarding (
			id, company_id, user_id, current_step, steps_completed, step_data,
			last_activity_at, completed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (company_id, user_id) DO NOTHING
		RETURNING ` + recordColumns

	var stored Record
	err := r.db.QueryRowxContext(ctx, query,
		rec.ID, rec.CompanyID, rec.UserID, rec.CurrentStep, rec.StepsCompleted, rec.StepData,
		rec.LastActivityAt, rec.CompletedAt, rec.CreatedAt,
	).StructScan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race against another creator: return the winner's row.
		existing, fetchErr := r.Fetch(ctx, rec.CompanyID, rec.UserID)
		if fetchErr != nil {
			return nil, false, fetchErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create onboarding record: %w", err)
	}
	return &stored, true, nil
}

func (r *PostgresRepository) Update(ctx context.Context, companyID, userID uuid.UUID, update RecordUpdate) (*Record, error) {
	query := `
		UPDATE company_onboarding SET
			current_step = CASE
				WHEN completed_at IS NOT NULL AND NOT $4::boolean THEN current_step
				ELSE $3
			END,
			steps_completed = ARRAY(
				SELECT DISTINCT s FROM unnest(
					CASE WHEN $5::boolean THEN $6::text[] ELSE steps_completed || $6::text[] END
				) AS s
			),
			step_data = COALESCE(step_data, '{}'::jsonb) || $7::jsonb,
			last_activity_at = $8,
			completed_at = CASE
				WHEN $4::boolean THEN NULL
				ELSE COALESCE(completed_at, $9::timestamptz)
			END,
			updated_at = NOW()
		WHERE company_id = $1 AND user_id = $2
		RETURNING ` + recordColumns

	var rec Record
	err := r.db.QueryRowxContext(ctx, query,
		companyID, userID, update.CurrentStep, update.ClearCompletedAt, update.ClearSteps,
		StepList(update.AddSteps), update.StepData, update.LastActivityAt, update.CompletedAt,
	).StructScan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update onboarding record: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) ListStalled(ctx context.Context, inactiveSince, remindedBefore time.Time, limit int) ([]*Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM company_onboarding
		WHERE completed_at IS NULL AND last_activity_at < $1
			AND (last_reminded_at IS NULL OR last_reminded_at < $2)
		ORDER BY last_activity_at ASC
		LIMIT $3`

	var records []*Record
	if err := r.db.SelectContext(ctx, &records, query, inactiveSince, remindedBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list stalled onboarding records: %w", err)
	}
	return records, nil
}

func (r *PostgresRepository) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE company_onboarding SET last_reminded_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark onboarding record reminded: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

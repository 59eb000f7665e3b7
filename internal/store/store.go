// Package store is the Persistence Adapter (§8): creates and updates
// websets.jobs/websets.items rows, with atomic counter increments retried
// under jittered exponential backoff on write conflicts. A persistence
// failure is logged and swallowed, never allowed to block ingestion (§8's
// "never blocking on persistent failure").
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/websetdedup/internal/canon"
	"horse.fit/websetdedup/internal/db"
)

const (
	maxIncrementAttempts = 3
	backoffInitial       = 25 * time.Millisecond
	backoffMax           = 400 * time.Millisecond
	backoffJitterFrac    = 0.2
)

// Store implements the dedup.Recorder interface against Postgres via gorm.
type Store struct {
	pool *db.Pool
	log  zerolog.Logger
}

func New(pool *db.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, log: logger.With().Str("component", "store").Logger()}
}

// CreateJob inserts a new job row in the "active" state (§4.7's job
// lifecycle start).
func (s *Store) CreateJob(ctx context.Context, jobID, originalQuery string, entityType *string) error {
	job := db.Job{
		JobID:            jobID,
		OriginalQuery:    originalQuery,
		EntityType:       entityType,
		Status:           "active",
		RejectionReasons: json.RawMessage(`{}`),
	}
	if err := s.pool.GORM().WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("insert job %s: %w", jobID, err)
	}
	return nil
}

// SetJobStatus transitions a job's status column, optionally recording an
// error message and cursor (§4.7, §4.10's job state machine).
func (s *Store) SetJobStatus(ctx context.Context, jobID, status string, nextCursor, errMsg *string) error {
	updates := map[string]any{"status": status}
	if nextCursor != nil {
		updates["next_cursor"] = *nextCursor
	}
	if errMsg != nil {
		updates["error_message"] = *errMsg
	}
	if status == "completed" || status == "error" {
		updates["completed_at"] = gorm.Expr("now()")
	}
	if err := s.pool.GORM().WithContext(ctx).Model(&db.Job{}).Where("job_id = ?", jobID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update job %s status: %w", jobID, err)
	}
	return nil
}

// InsertItem persists the raw record for an item. A duplicate (job_id,
// item_id) insert is silently skipped (ON CONFLICT DO NOTHING), and any
// other insert error is logged as a warning, not a failure: idempotent
// re-ingestion of an already-seen upstream item id must not abort the job.
func (s *Store) InsertItem(ctx context.Context, jobID string, row canon.Row, status string) {
	raw, err := json.Marshal(row.Raw.Data)
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Str("item_id", row.RowID).Msg("marshal raw item data failed")
		raw = json.RawMessage(`{}`)
	}
	item := db.Item{
		JobID:           jobID,
		ItemID:          row.RowID,
		Name:            row.Name,
		URL:             row.URL,
		RawData:         raw,
		Status:          status,
		NormalizedTitle: nonEmptyPtr(row.NormalizedTitle),
	}
	err = s.pool.GORM().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "item_id"}},
		DoNothing: true,
	}).Create(&item).Error
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Str("item_id", row.RowID).Msg("insert item failed, continuing")
	}
}

// RecordAccepted persists an accepted item and increments the job's
// total/unique counters atomically. Satisfies dedup.Recorder.
func (s *Store) RecordAccepted(ctx context.Context, jobID string, row canon.Row) {
	s.InsertItem(ctx, jobID, row, "accepted")
	if err := s.incrementWithRetry(ctx, jobID, map[string]any{
		"total_items":  1,
		"unique_items": 1,
	}, ""); err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("increment accepted counters failed after retries")
	}
}

// RecordRejected persists a rejected item with its reason/matched-row
// details and increments the job's total/rejected counters plus the
// per-reason histogram bucket, all atomically. Satisfies dedup.Recorder.
func (s *Store) RecordRejected(ctx context.Context, jobID string, row canon.Row, reason string, details any) {
	raw, err := json.Marshal(row.Raw.Data)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		detailsJSON = json.RawMessage(`null`)
	}
	item := db.Item{
		JobID:            jobID,
		ItemID:           row.RowID,
		Name:             row.Name,
		URL:              row.URL,
		RawData:          raw,
		Status:           "rejected",
		RejectionReason:  &reason,
		RejectionDetails: detailsJSON,
		NormalizedTitle:  nonEmptyPtr(row.NormalizedTitle),
	}
	createErr := s.pool.GORM().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "item_id"}},
		DoNothing: true,
	}).Create(&item).Error
	if createErr != nil {
		s.log.Warn().Err(createErr).Str("job_id", jobID).Str("item_id", row.RowID).Msg("insert rejected item failed, continuing")
	}

	if err := s.incrementWithRetry(ctx, jobID, map[string]any{
		"total_items":         1,
		"duplicates_rejected": 1,
	}, reason); err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("increment rejected counters failed after retries")
	}
}

// incrementWithRetry runs a single atomic `SET col = col + 1` update per
// counter column plus the reason histogram bump in one transaction, making
// at most maxIncrementAttempts attempts in all, with jittered exponential
// backoff between them, whatever the error (§8).
func (s *Store) incrementWithRetry(ctx context.Context, jobID string, counters map[string]any, reason string) error {
	var lastErr error
	for attempt := 0; attempt < maxIncrementAttempts; attempt++ {
		err := s.pool.GORM().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for col, delta := range counters {
				if err := tx.Exec(
					fmt.Sprintf("UPDATE websets.jobs SET %s = %s + ? WHERE job_id = ?", col, col),
					delta, jobID,
				).Error; err != nil {
					return err
				}
			}
			if reason != "" {
				if err := tx.Exec(
					`UPDATE websets.jobs SET rejection_reasons = jsonb_set(
						rejection_reasons, ARRAY[?], (COALESCE(rejection_reasons->?, '0')::int + 1)::text::jsonb
					) WHERE job_id = ?`,
					reason, reason, jobID,
				).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxIncrementAttempts-1 {
			break
		}
		select {
		case <-time.After(backoffSleep(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("increment counters for job %s after %d attempts: %w", jobID, maxIncrementAttempts, lastErr)
}

func backoffSleep(attempt int) time.Duration {
	sleep := backoffInitial
	for i := 0; i < attempt && sleep < backoffMax; i++ {
		sleep *= 2
	}
	if sleep > backoffMax {
		sleep = backoffMax
	}
	jitter := 1 + (rand.Float64()*2-1)*backoffJitterFrac
	return time.Duration(float64(sleep) * jitter)
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

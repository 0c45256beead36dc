// Package usage is the append-once billing ledger: exactly one entry per
// job that reached a terminal state with billable work. Only the worker
// writes here.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/voxhub/asr-gateway/internal/identity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Entry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	// upsert key; makes worker retries idempotent with respect to billing
	JobID string `gorm:"size:26;uniqueIndex;not null"`

	// denormalized owner identity, copied from the job
	ApplicationID *uuid.UUID `gorm:"type:varchar(36);index"`
	UserID        *uint64    `gorm:"index"`
	SessionKey    *string    `gorm:"type:varchar(40);index"`

	// plan captured at job creation, never re-resolved
	PlanCode string `gorm:"type:varchar(32);not null"`

	AudioDurationSec float64 `gorm:"not null"`
	WordsCount       int     `gorm:"not null;default:0"`
	CharsCount       int     `gorm:"not null;default:0"`
	CostUnits        float64 `gorm:"not null;default:0"`

	CreatedAt time.Time
}

func (Entry) TableName() string { return "usage_ledger" }

// Cost computes the linear tariff: duration dominates, words are a small
// surcharge. Reproducible from stored fields alone.
func Cost(durationSec float64, wordsCount int, wordCost float64) float64 {
	return durationSec + wordCost*float64(wordsCount)
}

// MonthStart is the first instant of the current calendar month, UTC.
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Upsert writes the ledger entry keyed by job id. Running it twice for the
// same job overwrites rather than double-counts.
func (s *Store) Upsert(ctx context.Context, e *Entry) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"audio_duration_sec", "words_count", "chars_count", "cost_units",
			}),
		}).
		Create(e).Error
}

// EntryForJob returns the billing row for one job, nil when the job has not
// been billed.
func (s *Store) EntryForJob(ctx context.Context, jobID string) (*Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// MonthlySeconds sums the identity's billed audio seconds since the start
// of the current month. Read without a lock: concurrent admissions near a
// quota boundary are best-effort by design.
func (s *Store) MonthlySeconds(ctx context.Context, ident identity.Identity) (float64, error) {
	var total *float64
	err := scopeByIdentity(s.db.WithContext(ctx).Model(&Entry{}), ident).
		Where("created_at >= ?", MonthStart(time.Now())).
		Select("SUM(audio_duration_sec)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

type Summary struct {
	TotalCostUnits float64 `json:"total_cost_units"`
	TotalAudioSec  float64 `json:"total_audio_sec"`
	TotalWords     int64   `json:"total_words"`
	Count          int64   `json:"count"`
}

// SummaryFor aggregates the identity's lifetime usage.
func (s *Store) SummaryFor(ctx context.Context, ident identity.Identity) (*Summary, error) {
	var row struct {
		TotalCost  *float64
		TotalSec   *float64
		TotalWords *int64
		Cnt        int64
	}
	err := scopeByIdentity(s.db.WithContext(ctx).Model(&Entry{}), ident).
		Select("SUM(cost_units) AS total_cost, SUM(audio_duration_sec) AS total_sec, SUM(words_count) AS total_words, COUNT(*) AS cnt").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	out := &Summary{Count: row.Cnt}
	if row.TotalCost != nil {
		out.TotalCostUnits = *row.TotalCost
	}
	if row.TotalSec != nil {
		out.TotalAudioSec = *row.TotalSec
	}
	if row.TotalWords != nil {
		out.TotalWords = *row.TotalWords
	}
	return out, nil
}

func scopeByIdentity(q *gorm.DB, ident identity.Identity) *gorm.DB {
	switch {
	case ident.IsApplication():
		return q.Where("application_id = ?", *ident.ApplicationID)
	case ident.IsUser():
		return q.Where("user_id = ?", *ident.UserID)
	default:
		return q.Where("session_key = ?", *ident.SessionKey)
	}
}

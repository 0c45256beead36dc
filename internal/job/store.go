package job

import (
	"context"
	"errors"
	"time"

	"github.com/voxhub/asr-gateway/internal/identity"
	"gorm.io/gorm"
)

var (
	// ErrNotFound covers both a missing job and a job owned by another
	// identity; callers must not be able to tell the two apart.
	ErrNotFound = errors.New("job: not found")

	ErrIllegalTransition = errors.New("job: illegal status transition")
)

// allowedFrom lists, per target status, the states a job may come from.
// error -> processing exists solely for the worker's bounded retry of
// transient failures; done is final without exception.
var allowedFrom = map[Status][]Status{
	StatusProcessing: {StatusQueued, StatusError},
	StatusDone:       {StatusProcessing},
	StatusError:      {StatusProcessing},
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB { return s.db }

type CreateParams struct {
	Identity         identity.Identity
	PlanCode         string
	AudioMime        string
	AudioDurationSec *float64
}

// Create inserts the initial queued row. This is the only job write the
// request-handling context ever performs besides SetTaskID.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Job, error) {
	if err := p.Identity.Validate(); err != nil {
		return nil, err
	}

	id, err := NewID()
	if err != nil {
		return nil, err
	}

	j := &Job{
		ID:               id,
		ApplicationID:    p.Identity.ApplicationID,
		UserID:           p.Identity.UserID,
		SessionKey:       p.Identity.SessionKey,
		Status:           StatusQueued,
		PlanCode:         p.PlanCode,
		AudioDurationSec: p.AudioDurationSec,
	}
	if p.AudioMime != "" {
		j.AudioMime = &p.AudioMime
	}
	if err := s.db.WithContext(ctx).Create(j).Error; err != nil {
		return nil, err
	}
	return j, nil
}

// SetTaskID records the async handle after dispatch.
func (s *Store) SetTaskID(ctx context.Context, jobID, taskID string) error {
	return s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", jobID).
		Update("task_id", taskID).Error
}

// Transition moves a job to newStatus, enforcing the forward-only edge
// table with a guarded update. fields are applied in the same write. A job
// already past the allowed source states yields ErrIllegalTransition; a
// missing job yields ErrNotFound.
func (s *Store) Transition(ctx context.Context, jobID string, newStatus Status, fields map[string]any) error {
	from, ok := allowedFrom[newStatus]
	if !ok {
		return ErrIllegalTransition
	}

	updates := map[string]any{"status": newStatus}
	for k, v := range fields {
		updates[k] = v
	}

	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var cnt int64
		if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt == 0 {
			return ErrNotFound
		}
		return ErrIllegalTransition
	}
	return nil
}

// Get loads a job without ownership scoping. Worker-side only; the API
// surface goes through FindForIdentity.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

// FindForIdentity returns the job only if ident owns it. Cross-identity
// lookups are indistinguishable from missing jobs.
func (s *Store) FindForIdentity(ctx context.Context, ident identity.Identity, jobID string) (*Job, error) {
	if err := ident.Validate(); err != nil {
		return nil, ErrNotFound
	}

	var j Job
	err := scopeByIdentity(s.db.WithContext(ctx), ident).Where("id = ?", jobID).First(&j).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

type HistoryPage struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
	Jobs     []Job `json:"-"`
}

// History lists the identity's jobs newest first. retentionDays, when
// non-nil, limits the window per the plan's history retention.
func (s *Store) History(ctx context.Context, ident identity.Identity, retentionDays *int, page, pageSize int) (*HistoryPage, error) {
	if err := ident.Validate(); err != nil {
		return nil, ErrNotFound
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	q := scopeByIdentity(s.db.WithContext(ctx).Model(&Job{}), ident)
	if retentionDays != nil {
		cutoff := time.Now().UTC().AddDate(0, 0, -*retentionDays)
		q = q.Where("created_at >= ?", cutoff)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	var jobs []Job
	if err := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error; err != nil {
		return nil, err
	}

	return &HistoryPage{Page: page, PageSize: pageSize, Total: total, Jobs: jobs}, nil
}

// StaleQueued lists jobs stuck in queued longer than threshold, for an
// external sweeper to pick up.
func (s *Store) StaleQueued(ctx context.Context, threshold time.Duration, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().Add(-threshold)

	var jobs []Job
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", StatusQueued, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
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

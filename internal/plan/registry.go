package plan

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Registry resolves plan codes to quota profiles, lazily materializing
// recognized codes from the seed table. Resolution never fails a request:
// unknown codes fall back to the default plan.
type Registry struct {
	db    *gorm.DB
	seeds map[string]Seed
}

func NewRegistry(db *gorm.DB, seeds map[string]Seed) *Registry {
	if seeds == nil {
		seeds = DefaultSeeds()
	}
	return &Registry{db: db, seeds: seeds}
}

// Resolve returns the active plan for code, creating it from the seed table
// if it is a recognized default. Unknown or inactive codes resolve to the
// default plan so plan lookups never block job creation.
func (r *Registry) Resolve(ctx context.Context, code string) (*Plan, error) {
	if code == "" {
		return r.getOrCreate(ctx, DefaultCode)
	}

	var p Plan
	err := r.db.WithContext(ctx).Where("code = ? AND is_active = ?", code, true).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if _, ok := r.seeds[code]; ok {
		return r.getOrCreate(ctx, code)
	}
	return r.getOrCreate(ctx, DefaultCode)
}

func (r *Registry) getOrCreate(ctx context.Context, code string) (*Plan, error) {
	seed, ok := r.seeds[code]
	if !ok {
		return nil, errors.New("plan: no seed for code " + code)
	}

	p := Plan{
		Code:                 code,
		Name:                 seed.Name,
		MonthlySecondsLimit:  seed.MonthlySecondsLimit,
		MaxFileSizeMB:        seed.MaxFileSizeMB,
		HistoryRetentionDays: seed.HistoryRetentionDays,
		IsActive:             true,
	}
	// Concurrent first references race on the unique code index; losing the
	// race just means the row already exists.
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(&p).Error; err != nil {
		return nil, err
	}

	var out Plan
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// Package plan holds the quota profiles that drive admission control and
// history retention. Plans are immutable per version and are never deleted
// while usage ledger rows reference them.
package plan

import (
	"os"
	"strconv"
)

const (
	CodeAnon = "anon"
	CodeFree = "free"
	CodePlus = "plus"
	CodePro  = "pro"
)

// DefaultCode is the fallback plan for unrecognized or missing codes.
const DefaultCode = CodeAnon

type Plan struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	Code string `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Name string `gorm:"type:varchar(64);not null" json:"name"`

	// nil means unlimited
	MonthlySecondsLimit  *int `json:"monthly_seconds_limit"`
	MaxFileSizeMB        *int `json:"max_file_size_mb"`
	HistoryRetentionDays *int `json:"history_retention_days"`

	IsActive bool `gorm:"not null;default:true" json:"is_active"`
}

func (Plan) TableName() string { return "plans" }

// Seed is the static default profile a recognized plan code materializes
// from on first reference.
type Seed struct {
	Name                 string
	MonthlySecondsLimit  *int
	MaxFileSizeMB        *int
	HistoryRetentionDays *int
}

// DefaultSeeds returns the built-in plan table. Limits can be overridden per
// plan through the environment (e.g. FREE_MONTHLY_SECONDS, FREE_MAX_FILE_MB,
// FREE_HISTORY_DAYS).
func DefaultSeeds() map[string]Seed {
	return map[string]Seed{
		CodeAnon: {
			Name:                 "Anonymous",
			MonthlySecondsLimit:  seedInt("ANON_MONTHLY_SECONDS", 120),
			MaxFileSizeMB:        seedInt("ANON_MAX_FILE_MB", 5),
			HistoryRetentionDays: seedInt("ANON_HISTORY_DAYS", 1),
		},
		CodeFree: {
			Name:                 "Free",
			MonthlySecondsLimit:  seedInt("FREE_MONTHLY_SECONDS", 1800),
			MaxFileSizeMB:        seedInt("FREE_MAX_FILE_MB", 25),
			HistoryRetentionDays: seedInt("FREE_HISTORY_DAYS", 7),
		},
		CodePlus: {
			Name:                 "Plus",
			MonthlySecondsLimit:  seedInt("PLUS_MONTHLY_SECONDS", 14400),
			MaxFileSizeMB:        seedInt("PLUS_MAX_FILE_MB", 100),
			HistoryRetentionDays: seedInt("PLUS_HISTORY_DAYS", 30),
		},
		CodePro: {
			Name:                 "Pro",
			MonthlySecondsLimit:  seedInt("PRO_MONTHLY_SECONDS", 43200),
			MaxFileSizeMB:        seedInt("PRO_MAX_FILE_MB", 250),
			HistoryRetentionDays: seedInt("PRO_HISTORY_DAYS", 180),
		},
	}
}

func seedInt(key string, def int) *int {
	n := def
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			n = parsed
		}
	}
	return &n
}

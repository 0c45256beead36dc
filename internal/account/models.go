package account

import (
	"time"

	"github.com/google/uuid"
	"github.com/voxhub/asr-gateway/internal/plan"
)

type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"type:varchar(72);not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

// Profile is created together with the user, not by a side effect.
type Profile struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement"`
	UserID       uint64     `gorm:"uniqueIndex;not null"`
	PlanID       *uint64    `gorm:"index"`
	Plan         *plan.Plan `gorm:"constraint:OnDelete:RESTRICT"`
	TokenVersion int        `gorm:"not null;default:1"`
}

func (Profile) TableName() string { return "profiles" }

type Subscription struct {
	ID       uint64     `gorm:"primaryKey;autoIncrement"`
	UserID   uint64     `gorm:"uniqueIndex;not null"`
	PlanID   *uint64    `gorm:"index"`
	Plan     *plan.Plan `gorm:"constraint:OnDelete:RESTRICT"`
	IsActive bool       `gorm:"not null;default:false"`
	StartsAt *time.Time
	EndsAt   *time.Time
}

func (Subscription) TableName() string { return "subscriptions" }

type Application struct {
	ID        uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Application) TableName() string { return "applications" }

type APIToken struct {
	ID            uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	ApplicationID uuid.UUID `gorm:"type:varchar(36);index;not null" json:"-"`
	Name          string    `gorm:"type:varchar(100);not null" json:"name"`
	TokenHash     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	TokenLastFour string    `gorm:"type:varchar(4);not null" json:"token_last_four"`
	RevokedAt     *time.Time `json:"revoked_at"`
	LastUsedAt    *time.Time `json:"last_used_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (APIToken) TableName() string { return "api_tokens" }

func (t APIToken) IsRevoked() bool { return t.RevokedAt != nil }

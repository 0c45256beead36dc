package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voxhub/asr-gateway/internal/plan"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUsernameTaken      = errors.New("account: username already exists")
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrTokenInvalid       = errors.New("account: api token invalid or revoked")
)

type Service struct {
	db    *gorm.DB
	plans *plan.Registry
}

func NewService(db *gorm.DB, plans *plan.Registry) *Service {
	return &Service{db: db, plans: plans}
}

// Register creates the user and its profile in one step. The profile starts
// on the free plan.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	free, err := s.plans.Resolve(ctx, plan.CodeFree)
	if err != nil {
		return nil, err
	}

	user := &User{Username: username, PasswordHash: string(hash)}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cnt int64
		if err := tx.Model(&User{}).Where("username = ?", username).Count(&cnt).Error; err != nil {
			return err
		}
		if cnt > 0 {
			return ErrUsernameTaken
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&Profile{UserID: user.ID, PlanID: &free.ID}).Error
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// EffectivePlanForUser resolves the user's plan with an explicit fallback
// chain: active unexpired subscription, then profile, then free.
func (s *Service) EffectivePlanForUser(ctx context.Context, userID uint64) (*plan.Plan, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).Preload("Plan").Where("user_id = ?", userID).First(&sub).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil && sub.IsActive && sub.Plan != nil {
		if sub.EndsAt != nil && sub.EndsAt.Before(time.Now()) {
			return s.plans.Resolve(ctx, plan.CodeFree)
		}
		return sub.Plan, nil
	}

	var prof Profile
	err = s.db.WithContext(ctx).Preload("Plan").Where("user_id = ?", userID).First(&prof).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil && prof.Plan != nil {
		return prof.Plan, nil
	}

	return s.plans.Resolve(ctx, plan.CodeFree)
}

// EffectivePlanForApplication is the owning user's plan.
func (s *Service) EffectivePlanForApplication(ctx context.Context, appID uuid.UUID) (*plan.Plan, error) {
	var app Application
	if err := s.db.WithContext(ctx).Where("id = ?", appID).First(&app).Error; err != nil {
		return nil, err
	}
	return s.EffectivePlanForUser(ctx, app.UserID)
}

// HashToken is the stored form of an API token; raw tokens are never
// persisted.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// AuthenticateAPIToken maps a raw bearer token to its active application and
// touches last_used_at. Revoked tokens and inactive applications fail.
func (s *Service) AuthenticateAPIToken(ctx context.Context, raw string) (*Application, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	var token APIToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", HashToken(raw)).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if token.IsRevoked() {
		return nil, ErrTokenInvalid
	}

	var app Application
	if err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", token.ApplicationID, true).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	now := time.Now()
	_ = s.db.WithContext(ctx).Model(&APIToken{}).Where("id = ?", token.ID).Update("last_used_at", now).Error

	return &app, nil
}

// CreateApplication registers an application under a user and issues its
// first token. The raw token is returned once and only its hash is stored.
func (s *Service) CreateApplication(ctx context.Context, userID uint64, name string) (*Application, string, error) {
	app := &Application{ID: uuid.New(), UserID: userID, Name: name, IsActive: true}
	raw := "ak_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(app).Error; err != nil {
			return err
		}
		return tx.Create(&APIToken{
			ID:            uuid.New(),
			ApplicationID: app.ID,
			Name:          "default",
			TokenHash:     HashToken(raw),
			TokenLastFour: raw[len(raw)-4:],
		}).Error
	})
	if err != nil {
		return nil, "", err
	}
	return app, raw, nil
}

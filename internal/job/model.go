package job

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is expected. An error job
// is terminal from the outside; only the worker's bounded retry may move it
// back to processing.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

// Job is the durable lifecycle record of one transcription request. Owner
// identity is exactly one of application, user or session key; application
// jobs never carry a session key.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID

	ApplicationID *uuid.UUID `gorm:"type:varchar(36);index"`
	UserID        *uint64    `gorm:"index"`
	SessionKey    *string    `gorm:"type:varchar(40);index"`

	Status Status `gorm:"type:varchar(16);index;not null"`

	// plan captured at creation; billing never re-resolves it
	PlanCode string `gorm:"type:varchar(32);not null"`

	// internal detail for operators vs. fixed public taxonomy for clients
	ErrorMessage       *string `gorm:"type:text"`
	ErrorCode          *string `gorm:"type:varchar(64)"`
	ErrorMessagePublic *string `gorm:"type:text"`

	Text *string `gorm:"type:text"`

	AudioDurationSec *float64
	AudioSampleRate  *int
	AudioChannels    *int
	AudioFormat      *string `gorm:"type:varchar(32)"`
	AudioMime        *string `gorm:"type:varchar(64)"`

	WordsCount        int `gorm:"not null;default:0"`
	CharsCount        int `gorm:"not null;default:0"`
	ProcessingTimeSec *float64

	// correlation handle of the dispatched task
	TaskID *string `gorm:"type:varchar(64)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "asr_jobs" }

// NewID returns an opaque, non-guessable job id.
func NewID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

package job

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/voxhub/asr-gateway/internal/dispatch"
	"github.com/voxhub/asr-gateway/internal/identity"
	"github.com/voxhub/asr-gateway/internal/plan"
	"github.com/voxhub/asr-gateway/internal/quota"
	"github.com/voxhub/asr-gateway/internal/usage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubDispatcher struct {
	tasks []dispatch.TaskMessage
	err   error
}

func (d *stubDispatcher) PublishTask(_ context.Context, task dispatch.TaskMessage) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.tasks = append(d.tasks, task)
	return "task-1", nil
}

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Job{}, &usage.Entry{}))
	return db
}

func meteredPlan(maxMB, monthlySec int) *plan.Plan {
	return &plan.Plan{Code: "free", MaxFileSizeMB: &maxMB, MonthlySecondsLimit: &monthlySec, IsActive: true}
}

func serviceWAV(durationSec float64) []byte {
	sampleRate := 8000
	byteRate := sampleRate * 2
	dataLen := int(durationSec * float64(byteRate))

	buf := make([]byte, 0, 44+dataLen)
	buf = append(buf, []byte("RIFF")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataLen))
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, 2)
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, []byte("data")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataLen))
	buf = append(buf, make([]byte, dataLen)...)
	return buf
}

func TestSubmitDispatchesAdmittedJob(t *testing.T) {
	db := newServiceDB(t)
	disp := &stubDispatcher{}
	svc := NewService(NewStore(db), quota.NewGuard(usage.NewStore(db)), disp, nil, zap.NewNop(), "fa")

	audio := serviceWAV(3)
	j, decision, err := svc.Submit(context.Background(), SubmitParams{
		Identity:     identity.ForUser(7),
		Plan:         meteredPlan(25, 1800),
		Audio:        audio,
		ContentType:  "audio/wav",
		DeclaredSize: int64(len(audio)),
	})
	require.NoError(t, err)
	require.Nil(t, decision)
	require.NotNil(t, j)
	require.Equal(t, StatusQueued, j.Status)
	require.Equal(t, "free", j.PlanCode)
	require.NotNil(t, j.AudioDurationSec)
	require.NotNil(t, j.TaskID)

	require.Len(t, disp.tasks, 1)
	require.Equal(t, j.ID, disp.tasks[0].JobID)
	require.Equal(t, audio, disp.tasks[0].Audio)
	require.Equal(t, "fa", disp.tasks[0].Language)
}

func TestSubmitRejectionLeavesNoRow(t *testing.T) {
	db := newServiceDB(t)
	disp := &stubDispatcher{}
	svc := NewService(NewStore(db), quota.NewGuard(usage.NewStore(db)), disp, nil, zap.NewNop(), "fa")

	_, decision, err := svc.Submit(context.Background(), SubmitParams{
		Identity:     identity.ForUser(7),
		Plan:         meteredPlan(1, 1800),
		Audio:        []byte("oversized"),
		ContentType:  "audio/wav",
		DeclaredSize: 2 * 1024 * 1024,
	})
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.False(t, decision.Allowed)
	require.Equal(t, quota.CodeFileTooLarge, decision.Code)

	var cnt int64
	require.NoError(t, db.Model(&Job{}).Count(&cnt).Error)
	require.Zero(t, cnt)
	require.Empty(t, disp.tasks)
}

func TestSubmitDispatchFailureLeavesQueuedRow(t *testing.T) {
	db := newServiceDB(t)
	disp := &stubDispatcher{err: errors.New("broker down")}
	svc := NewService(NewStore(db), quota.NewGuard(usage.NewStore(db)), disp, nil, zap.NewNop(), "fa")

	audio := serviceWAV(1)
	_, _, err := svc.Submit(context.Background(), SubmitParams{
		Identity:     identity.ForUser(7),
		Plan:         meteredPlan(25, 1800),
		Audio:        audio,
		ContentType:  "audio/wav",
		DeclaredSize: int64(len(audio)),
	})
	require.Error(t, err)

	// the queued row survives for the sweeper
	var jobs []Job
	require.NoError(t, db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, StatusQueued, jobs[0].Status)
	require.Nil(t, jobs[0].TaskID)
}

func TestSubmitAmbiguousIdentityRejected(t *testing.T) {
	db := newServiceDB(t)
	svc := NewService(NewStore(db), quota.NewGuard(usage.NewStore(db)), &stubDispatcher{}, nil, zap.NewNop(), "fa")

	uid := uint64(1)
	sid := "sess"
	_, _, err := svc.Submit(context.Background(), SubmitParams{
		Identity: identity.Identity{UserID: &uid, SessionKey: &sid},
		Plan:     meteredPlan(25, 1800),
		Audio:    serviceWAV(1),
	})
	require.ErrorIs(t, err, identity.ErrAmbiguous)
}

func TestSubmitLanguageOverride(t *testing.T) {
	db := newServiceDB(t)
	disp := &stubDispatcher{}
	svc := NewService(NewStore(db), quota.NewGuard(usage.NewStore(db)), disp, nil, zap.NewNop(), "fa")

	audio := serviceWAV(1)
	_, _, err := svc.Submit(context.Background(), SubmitParams{
		Identity:     identity.ForUser(7),
		Plan:         meteredPlan(25, 1800),
		Audio:        audio,
		ContentType:  "audio/wav",
		Language:     "en",
		DeclaredSize: int64(len(audio)),
	})
	require.NoError(t, err)
	require.Equal(t, "en", disp.tasks[0].Language)
}

package quota

import (
	"context"
	"encoding/binary"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/voxhub/asr-gateway/internal/identity"
	"github.com/voxhub/asr-gateway/internal/plan"
	"github.com/voxhub/asr-gateway/internal/usage"
	"gorm.io/gorm"
)

func newGuard(t *testing.T) (*Guard, *usage.Store) {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usage.Entry{}))
	ledger := usage.NewStore(db)
	return NewGuard(ledger), ledger
}

func intp(n int) *int { return &n }

// wav builds a minimal PCM WAV of the given duration at 16kHz mono 16-bit.
func wav(durationSec float64) []byte {
	sampleRate, channels := 16000, 1
	byteRate := sampleRate * channels * 2
	dataLen := int(durationSec * float64(byteRate))

	buf := make([]byte, 0, 44+dataLen)
	buf = append(buf, []byte("RIFF")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataLen))
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, 1)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels*2))
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, []byte("data")...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataLen))
	buf = append(buf, make([]byte, dataLen)...)
	return buf
}

func TestFileTooLargeBeforeAnyProbe(t *testing.T) {
	g, _ := newGuard(t)
	ident := identity.ForUser(1)
	p := &plan.Plan{Code: "free", MaxFileSizeMB: intp(25)}

	// 30MB declared size against a 25MB cap rejects without touching the
	// payload: the bytes here are not even valid audio.
	d, err := g.Admit(context.Background(), ident, p, 30*1024*1024, []byte("not audio"))
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, CodeFileTooLarge, d.Code)
}

func TestMonthlyLimitExceeded(t *testing.T) {
	g, ledger := newGuard(t)
	ident := identity.ForUser(1)
	p := &plan.Plan{Code: "free", MonthlySecondsLimit: intp(1800)}

	// 1700s already billed this month
	require.NoError(t, ledger.Upsert(context.Background(), &usage.Entry{
		JobID: "prior", UserID: ident.UserID, PlanCode: "free", AudioDurationSec: 1700,
	}))

	// a 150s upload would overflow 1800
	d, err := g.Admit(context.Background(), ident, p, 0, wav(150))
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, CodeMonthlyLimitExceeded, d.Code)

	// a 50s upload still fits exactly
	d, err = g.Admit(context.Background(), ident, p, 0, wav(50))
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.NotNil(t, d.DurationSec)
	require.InDelta(t, 50, *d.DurationSec, 0.5)
}

func TestUnknownDurationIsAdmitted(t *testing.T) {
	g, ledger := newGuard(t)
	ident := identity.ForUser(1)
	p := &plan.Plan{Code: "free", MonthlySecondsLimit: intp(10)}

	// way over the limit already, but the probe cannot read this payload:
	// unknown duration participates in no quota check
	require.NoError(t, ledger.Upsert(context.Background(), &usage.Entry{
		JobID: "prior", UserID: ident.UserID, PlanCode: "free", AudioDurationSec: 9999,
	}))

	d, err := g.Admit(context.Background(), ident, p, 100, []byte("opaque codec bytes"))
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Nil(t, d.DurationSec)
}

func TestUnlimitedPlan(t *testing.T) {
	g, _ := newGuard(t)
	p := &plan.Plan{Code: "pro"} // nil limits = unlimited

	d, err := g.Admit(context.Background(), identity.ForUser(1), p, 500*1024*1024, wav(1))
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestQuotaRaceIsBestEffort(t *testing.T) {
	// The monthly aggregate is read without a lock. Two admissions checked
	// before either job bills can both pass near the boundary; this is the
	// documented best-effort admission model, not a defect.
	g, _ := newGuard(t)
	ident := identity.ForSession("sess-1")
	p := &plan.Plan{Code: "anon", MonthlySecondsLimit: intp(120)}

	first, err := g.Admit(context.Background(), ident, p, 0, wav(100))
	require.NoError(t, err)
	second, err := g.Admit(context.Background(), ident, p, 0, wav(100))
	require.NoError(t, err)

	require.True(t, first.Allowed)
	require.True(t, second.Allowed)
}

package job

import (
	"context"
	"math/rand"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/voxhub/asr-gateway/internal/identity"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Job{}))
	return NewStore(db)
}

func mustCreate(t *testing.T, s *Store, ident identity.Identity) *Job {
	t.Helper()
	j, err := s.Create(context.Background(), CreateParams{
		Identity:  ident,
		PlanCode:  "free",
		AudioMime: "audio/wav",
	})
	require.NoError(t, err)
	return j
}

func TestCreateQueuedRow(t *testing.T) {
	s := newTestStore(t)
	j := mustCreate(t, s, identity.ForUser(1))

	require.Len(t, j.ID, 26)
	require.Equal(t, StatusQueued, j.Status)
	require.Equal(t, "free", j.PlanCode)
	require.NotNil(t, j.AudioMime)
	require.Nil(t, j.ApplicationID)
	require.Nil(t, j.SessionKey)
}

func TestCreateRejectsAmbiguousIdentity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(context.Background(), CreateParams{Identity: identity.Identity{}, PlanCode: "free"})
	require.ErrorIs(t, err, identity.ErrAmbiguous)
}

func TestTransitionHappyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := mustCreate(t, s, identity.ForUser(1))

	require.NoError(t, s.Transition(ctx, j.ID, StatusProcessing, nil))

	text := "hello world"
	require.NoError(t, s.Transition(ctx, j.ID, StatusDone, map[string]any{
		"text": text, "words_count": 2, "chars_count": len(text),
	}))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDone, got.Status)
	require.Equal(t, text, *got.Text)
	require.Equal(t, 2, got.WordsCount)
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// queued -> done skips processing
	j := mustCreate(t, s, identity.ForUser(1))
	require.ErrorIs(t, s.Transition(ctx, j.ID, StatusDone, nil), ErrIllegalTransition)

	// done is final
	require.NoError(t, s.Transition(ctx, j.ID, StatusProcessing, nil))
	require.NoError(t, s.Transition(ctx, j.ID, StatusDone, nil))
	require.ErrorIs(t, s.Transition(ctx, j.ID, StatusProcessing, nil), ErrIllegalTransition)
	require.ErrorIs(t, s.Transition(ctx, j.ID, StatusError, nil), ErrIllegalTransition)

	// error may re-enter processing (worker retry), but not jump to done
	k := mustCreate(t, s, identity.ForUser(1))
	require.NoError(t, s.Transition(ctx, k.ID, StatusProcessing, nil))
	require.NoError(t, s.Transition(ctx, k.ID, StatusError, nil))
	require.ErrorIs(t, s.Transition(ctx, k.ID, StatusDone, nil), ErrIllegalTransition)
	require.NoError(t, s.Transition(ctx, k.ID, StatusProcessing, nil))
	require.NoError(t, s.Transition(ctx, k.ID, StatusDone, nil))

	// queued is never a transition target
	require.ErrorIs(t, s.Transition(ctx, k.ID, StatusQueued, nil), ErrIllegalTransition)

	// unknown job
	require.ErrorIs(t, s.Transition(ctx, "01AAAAAAAAAAAAAAAAAAAAAAAA", StatusProcessing, nil), ErrNotFound)
}

// Random walks over the transition API must only ever produce paths from
// the legal edge table; every illegal call errors and leaves state intact.
func TestTransitionPropertyRandomWalk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	statuses := []Status{StatusQueued, StatusProcessing, StatusDone, StatusError}
	legal := map[Status]map[Status]bool{
		StatusQueued:     {StatusProcessing: true},
		StatusProcessing: {StatusDone: true, StatusError: true},
		StatusError:      {StatusProcessing: true},
		StatusDone:       {},
	}

	for trial := 0; trial < 20; trial++ {
		j := mustCreate(t, s, identity.ForUser(uint64(trial+1)))
		current := StatusQueued

		for step := 0; step < 30; step++ {
			target := statuses[rng.Intn(len(statuses))]
			err := s.Transition(ctx, j.ID, target, nil)

			if legal[current][target] {
				require.NoError(t, err, "edge %s -> %s must be legal", current, target)
				current = target
			} else {
				require.ErrorIs(t, err, ErrIllegalTransition, "edge %s -> %s must be rejected", current, target)
			}

			got, getErr := s.Get(ctx, j.ID)
			require.NoError(t, getErr)
			require.Equal(t, current, got.Status)
		}
	}
}

func TestFindForIdentityIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appID := uuid.New()
	userJob := mustCreate(t, s, identity.ForUser(1))
	appJob := mustCreate(t, s, identity.ForApplication(appID))
	sessJob := mustCreate(t, s, identity.ForSession("sess-1"))

	// owners see their own jobs
	_, err := s.FindForIdentity(ctx, identity.ForUser(1), userJob.ID)
	require.NoError(t, err)
	_, err = s.FindForIdentity(ctx, identity.ForApplication(appID), appJob.ID)
	require.NoError(t, err)
	_, err = s.FindForIdentity(ctx, identity.ForSession("sess-1"), sessJob.ID)
	require.NoError(t, err)

	// any cross-identity access is not-found, never forbidden-but-exists
	for _, ident := range []identity.Identity{
		identity.ForUser(2),
		identity.ForSession("sess-other"),
		identity.ForApplication(uuid.New()),
	} {
		for _, id := range []string{userJob.ID, appJob.ID, sessJob.ID} {
			_, err := s.FindForIdentity(ctx, ident, id)
			if err == nil {
				continue // own job
			}
			require.ErrorIs(t, err, ErrNotFound)
		}
	}

	// user identity never sees session or app jobs
	_, err = s.FindForIdentity(ctx, identity.ForUser(1), sessJob.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindForIdentity(ctx, identity.ForUser(1), appJob.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryRetentionCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ident := identity.ForUser(1)

	fresh := mustCreate(t, s, ident)
	stale := mustCreate(t, s, ident)
	old := time.Now().UTC().AddDate(0, 0, -10)
	require.NoError(t, s.DB().Model(&Job{}).Where("id = ?", stale.ID).Update("created_at", old).Error)

	seven := 7
	page, err := s.History(ctx, ident, &seven, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, fresh.ID, page.Jobs[0].ID)

	// unlimited retention sees both
	page, err = s.History(ctx, ident, nil, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 2, page.Total)
}

func TestStaleQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := mustCreate(t, s, identity.ForUser(1))
	longAgo := time.Now().Add(-time.Hour)
	require.NoError(t, s.DB().Model(&Job{}).Where("id = ?", j.ID).Update("updated_at", longAgo).Error)

	active := mustCreate(t, s, identity.ForUser(1))
	require.NoError(t, s.Transition(ctx, active.ID, StatusProcessing, nil))

	stale, err := s.StaleQueued(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, j.ID, stale[0].ID)
}

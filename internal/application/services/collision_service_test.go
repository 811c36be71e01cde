package services

import (
	"testing"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collisionFixture struct {
	svc          *CollisionService
	userRepo     *fakeUserRepo
	fingerprints *FingerprintService
}

func newCollisionFixture(t *testing.T) *collisionFixture {
	t.Helper()
	logger := newTestLogger(t)
	tracker := newTestTracker()

	userRepo := newFakeUserRepo()
	fingerprints := NewFingerprintService(logger, tracker, newFakeDeviceRepo())

	return &collisionFixture{
		svc:          NewCollisionService(logger, tracker, fingerprints, userRepo),
		userRepo:     userRepo,
		fingerprints: fingerprints,
	}
}

func TestDetectExactMatch(t *testing.T) {
	fx := newCollisionFixture(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fx.userRepo.addAccount("user-a", base)
	fx.userRepo.addAccount("user-b", base.Add(time.Hour))
	fx.userRepo.addAccount("user-c", base.Add(2*time.Hour))

	fp := fx.fingerprints.Generate("user-b", goodDevice())
	fx.userRepo.byHash[fp.Hash] = []string{"user-a", "user-b", "user-c"}

	records, err := fx.svc.Detect("user-b", goodDevice())
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, captcha.CollisionExactMatch, record.Type)
	assert.Equal(t, 1.0, record.Confidence)
	assert.Equal(t, []string{"user-a", "user-b", "user-c"}, record.UserIDs)
	assert.Equal(t, "user-a", record.OriginalUserID)
	assert.Equal(t, "1920x1080", record.Evidence.ScreenResolution)
}

func TestDetectOriginalIsIndependentOfTrigger(t *testing.T) {
	// The earliest-registered account is the original no matter which member
	// of the set triggered the check.
	fx := newCollisionFixture(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fx.userRepo.addAccount("user-a", base)
	fx.userRepo.addAccount("user-b", base.Add(time.Hour))

	for _, trigger := range []string{"user-a", "user-b"} {
		fp := fx.fingerprints.Generate(trigger, goodDevice())
		fx.userRepo.byHash[fp.Hash] = []string{"user-a", "user-b"}

		records, err := fx.svc.Detect(trigger, goodDevice())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "user-a", records[0].OriginalUserID, "trigger %s", trigger)
	}
}

func TestDetectTieBreaksOnSmallerID(t *testing.T) {
	fx := newCollisionFixture(t)
	registered := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fx.userRepo.addAccount("user-z", registered)
	fx.userRepo.addAccount("user-a", registered)

	fp := fx.fingerprints.Generate("user-z", goodDevice())
	fx.userRepo.byHash[fp.Hash] = []string{"user-a", "user-z"}

	records, err := fx.svc.Detect("user-z", goodDevice())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "user-a", records[0].OriginalUserID)
}

func TestDetectDeduplicatesAcrossChecks(t *testing.T) {
	// The same pair matching on the exact hash and the canvas fingerprint
	// should yield a single record at the higher confidence.
	fx := newCollisionFixture(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fx.userRepo.addAccount("user-a", base)
	fx.userRepo.addAccount("user-b", base.Add(time.Hour))

	fp := fx.fingerprints.Generate("user-b", goodDevice())
	fx.userRepo.byHash[fp.Hash] = []string{"user-a", "user-b"}
	fx.userRepo.byCanvas[fp.CanvasHash] = []string{"user-a", "user-b"}

	records, err := fx.svc.Detect("user-b", goodDevice())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, captcha.CollisionExactMatch, records[0].Type)
}

func TestDetectCanvasOnlyMatch(t *testing.T) {
	fx := newCollisionFixture(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fx.userRepo.addAccount("user-a", base)
	fx.userRepo.addAccount("user-b", base.Add(time.Hour))

	fp := fx.fingerprints.Generate("user-b", goodDevice())
	fx.userRepo.byCanvas[fp.CanvasHash] = []string{"user-a", "user-b"}

	records, err := fx.svc.Detect("user-b", goodDevice())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, captcha.CollisionCanvasMatch, records[0].Type)
	assert.Equal(t, 0.99, records[0].Confidence)
}

func TestDetectNoCollision(t *testing.T) {
	fx := newCollisionFixture(t)
	fx.userRepo.addAccount("user-a", time.Now())

	records, err := fx.svc.Detect("user-a", goodDevice())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDetectFallbackFingerprintSkips(t *testing.T) {
	fx := newCollisionFixture(t)
	fx.userRepo.addAccount("user-a", time.Now())

	records, err := fx.svc.Detect("user-a", &captcha.DeviceData{})
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestDetectStorageFailureIsAnError(t *testing.T) {
	fx := newCollisionFixture(t)
	fx.userRepo.addAccount("user-a", time.Now())
	fx.userRepo.failFindByHash = true

	_, err := fx.svc.Detect("user-a", goodDevice())
	require.Error(t, err)
}

func TestDetectUnknownUserIsAnError(t *testing.T) {
	fx := newCollisionFixture(t)

	_, err := fx.svc.Detect("ghost", goodDevice())
	require.Error(t, err)
}

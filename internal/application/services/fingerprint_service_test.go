package services

import (
	"strings"
	"testing"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFingerprintService(t *testing.T) (*FingerprintService, *fakeDeviceRepo) {
	t.Helper()
	deviceRepo := newFakeDeviceRepo()
	return NewFingerprintService(newTestLogger(t), newTestTracker(), deviceRepo), deviceRepo
}

func TestFingerprintGenerate(t *testing.T) {
	svc, _ := newFingerprintService(t)

	t.Run("deterministic for identical input", func(t *testing.T) {
		first := svc.Generate("user-1", goodDevice())
		second := svc.Generate("user-1", goodDevice())

		require.False(t, first.Fallback)
		assert.Equal(t, first.Hash, second.Hash)
		assert.Equal(t, first.CanvasHash, second.CanvasHash)
		assert.Equal(t, first.HardwareSignature, second.HardwareSignature)
	})

	t.Run("hash differs across users with different devices", func(t *testing.T) {
		base := svc.Generate("user-1", goodDevice())

		other := goodDevice()
		other.Rendering.CanvasHash = "canvas-zzz999"
		changed := svc.Generate("user-2", other)

		assert.NotEqual(t, base.Hash, changed.Hash)
		assert.NotEqual(t, base.CanvasHash, changed.CanvasHash)
		// Hardware-only signature ignores the rendering change.
		assert.Equal(t, base.HardwareSignature, changed.HardwareSignature)
	})

	t.Run("full payload has full quality and low risk", func(t *testing.T) {
		fp := svc.Generate("user-1", goodDevice())
		assert.InDelta(t, 1.0, fp.Quality, 0.001)
		assert.Less(t, fp.RiskScore, 0.2)
	})

	t.Run("missing attributes raise risk without failing", func(t *testing.T) {
		sparse := goodDevice()
		sparse.Rendering = captcha.RenderingInfo{}
		sparse.Browser.Vendor = ""
		sparse.Browser.Product = ""

		fp := svc.Generate("user-1", sparse)
		require.False(t, fp.Fallback)
		assert.Less(t, fp.Quality, 0.8)
		assert.Greater(t, fp.RiskScore, 0.1)
	})

	t.Run("empty payload degrades to fallback", func(t *testing.T) {
		fp := svc.Generate("user-1", &captcha.DeviceData{})
		require.True(t, fp.Fallback)
		assert.True(t, strings.HasPrefix(fp.Hash, "fallback-"))
		assert.InDelta(t, 0.5, fp.RiskScore, 0.001)
	})

	t.Run("nil payload degrades to fallback", func(t *testing.T) {
		fp := svc.Generate("user-1", nil)
		require.True(t, fp.Fallback)
		assert.True(t, strings.HasPrefix(fp.Hash, "fallback-"))
	})

	t.Run("headless user agent is penalized", func(t *testing.T) {
		honest := svc.Generate("user-1", goodDevice())

		headless := goodDevice()
		headless.Browser.UserAgent = "Mozilla/5.0 HeadlessChrome/120.0"
		flagged := svc.Generate("user-1", headless)

		assert.Greater(t, flagged.RiskScore, honest.RiskScore)
	})
}

func TestFingerprintConsistency(t *testing.T) {
	svc, deviceRepo := newFingerprintService(t)

	t.Run("session hash match is fully consistent", func(t *testing.T) {
		fp := svc.Generate("user-1", goodDevice())
		assert.InDelta(t, 1.0, svc.Consistency("user-1", fp.Hash, fp), 0.001)
	})

	t.Run("stored fingerprint match is fully consistent", func(t *testing.T) {
		fp := svc.Generate("user-1", goodDevice())
		require.NoError(t, deviceRepo.Save("user-1", fp))
		assert.InDelta(t, 1.0, svc.Consistency("user-1", "different-session-hash", fp), 0.001)
	})

	t.Run("partial component overlap scores between bounds", func(t *testing.T) {
		stored := svc.Generate("user-2", goodDevice())
		require.NoError(t, deviceRepo.Save("user-2", stored))

		drifted := goodDevice()
		drifted.Rendering.CanvasHash = "canvas-other"
		current := svc.Generate("user-2", drifted)

		score := svc.Consistency("user-2", "stale-hash", current)
		assert.Greater(t, score, 0.4) // hardware still matches
		assert.Less(t, score, 1.0)
	})

	t.Run("fallback fingerprint defaults to neutral", func(t *testing.T) {
		fallback := svc.Generate("user-3", nil)
		assert.InDelta(t, 0.5, svc.Consistency("user-3", "anything", fallback), 0.001)
	})

	t.Run("no stored fingerprint defaults to neutral", func(t *testing.T) {
		current := svc.Generate("user-nobody", goodDevice())
		assert.InDelta(t, 0.5, svc.Consistency("user-nobody", "stale", current), 0.001)
	})
}

func TestHardwareSignature(t *testing.T) {
	first := HardwareSignature(goodDevice())
	second := HardwareSignature(goodDevice())
	assert.Equal(t, first, second)

	changed := goodDevice()
	changed.Hardware.CPUCores = 4
	assert.NotEqual(t, first, HardwareSignature(changed))
}

package services

import (
	"testing"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRiskService(t *testing.T, threatRepo captcha.ThreatRepository) *RiskService {
	t.Helper()
	logger := newTestLogger(t)
	return NewRiskService(logger, newTestTracker(), geo.NewResolver(logger), threatRepo)
}

func TestLevelForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  captcha.RiskLevel
	}{
		{0.0, captcha.RiskLow},
		{0.39, captcha.RiskLow},
		{0.4, captcha.RiskMedium}, // lower bound inclusive
		{0.59, captcha.RiskMedium},
		{0.6, captcha.RiskHigh}, // lower bound inclusive
		{0.79, captcha.RiskHigh},
		{0.8, captcha.RiskCritical}, // lower bound inclusive
		{1.0, captcha.RiskCritical},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelForScore(tc.score), "score %.2f", tc.score)
	}
}

func TestRiskAssess(t *testing.T) {
	threatRepo := newFakeThreatRepo()
	svc := newRiskService(t, threatRepo)

	lowRiskPrint := &captcha.Fingerprint{RiskScore: 0.1}

	t.Run("clean request scores low", func(t *testing.T) {
		assessment, err := svc.Assess("user-1", lowRiskPrint, "203.0.113.7", "US")
		require.NoError(t, err)
		assert.Equal(t, captcha.RiskLow, assessment.Level)
		assert.InDelta(t, 0.04, assessment.OverallRisk, 0.001)
		assert.Zero(t, assessment.BehaviorRisk)
	})

	t.Run("blocked country alone trips the hard gate", func(t *testing.T) {
		_, err := svc.Assess("user-1", lowRiskPrint, "203.0.113.7", "KP")
		require.ErrorIs(t, err, captcha.ErrLocationBlocked)
	})

	t.Run("tor exit raises location risk without gating", func(t *testing.T) {
		assessment, err := svc.Assess("user-1", lowRiskPrint, "185.220.100.5", "US")
		require.NoError(t, err)
		assert.InDelta(t, 0.6, assessment.LocationRisk, 0.001)
	})

	t.Run("suspicious country plus tor sums then clamps", func(t *testing.T) {
		// 0.3 + 0.6 = 0.9 trips the gate despite neither signal doing so alone.
		_, err := svc.Assess("user-1", lowRiskPrint, "185.220.100.5", "VN")
		require.ErrorIs(t, err, captcha.ErrLocationBlocked)
	})

	t.Run("nil fingerprint defaults device risk to medium", func(t *testing.T) {
		assessment, err := svc.Assess("user-1", nil, "203.0.113.7", "US")
		require.NoError(t, err)
		assert.InDelta(t, 0.5, assessment.DeviceRisk, 0.001)
	})

	t.Run("threat history feeds behavior risk", func(t *testing.T) {
		threatRepo.indicators["user-hot"] = []*captcha.ThreatIndicator{
			{UserID: "user-hot", Kind: "rapid_referrals", Score: 0.8, CreatedAt: time.Now()},
			{UserID: "user-hot", Kind: "wallet_reuse", Score: 0.6, CreatedAt: time.Now()},
		}

		assessment, err := svc.Assess("user-hot", lowRiskPrint, "203.0.113.7", "US")
		require.NoError(t, err)
		assert.InDelta(t, 0.7, assessment.BehaviorRisk, 0.001)
		// 0.4*0.1 + 0.3*0 + 0.3*0.7
		assert.InDelta(t, 0.25, assessment.OverallRisk, 0.001)
	})

	t.Run("unparseable address degrades to zero location risk", func(t *testing.T) {
		assessment, err := svc.Assess("user-1", lowRiskPrint, "not-an-ip", "")
		require.NoError(t, err)
		assert.Zero(t, assessment.LocationRisk)
	})
}

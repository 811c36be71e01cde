// Package services provides application-level orchestration services
package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
)

// FingerprintService turns raw client device attributes into a canonical
// fingerprint hash plus quality and risk sub-scores. Generation never fails
// outward; degenerate input yields a tagged fallback fingerprint instead.
type FingerprintService struct {
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	deviceRepo  captcha.DeviceRepository
}

// NewFingerprintService creates a new fingerprint service
func NewFingerprintService(logger *logging.ChanneledLogger, perfTracker *performance.Tracker, deviceRepo captcha.DeviceRepository) *FingerprintService {
	return &FingerprintService{
		logger:      logger,
		perfTracker: perfTracker,
		deviceRepo:  deviceRepo,
	}
}

// stableAttributes flattens the stable subset of device attributes into a
// key/value map. Hashing iterates the keys in sorted order so two logically
// identical payloads always produce the same digest.
func stableAttributes(data *captcha.DeviceData) map[string]string {
	return map[string]string{
		"screenWidth":    strconv.Itoa(data.Hardware.ScreenWidth),
		"screenHeight":   strconv.Itoa(data.Hardware.ScreenHeight),
		"colorDepth":     strconv.Itoa(data.Hardware.ColorDepth),
		"platform":       data.Hardware.Platform,
		"cpuCores":       strconv.Itoa(data.Hardware.CPUCores),
		"deviceMemory":   strconv.FormatFloat(data.Hardware.DeviceMemory, 'f', -1, 64),
		"timezone":       data.Browser.Timezone,
		"timezoneOffset": strconv.Itoa(data.Browser.TimezoneOffset),
		"language":       data.Browser.Language,
		"userAgent":      data.Browser.UserAgent,
		"vendor":         data.Browser.Vendor,
		"product":        data.Browser.Product,
		"canvasHash":     data.Rendering.CanvasHash,
		"webglHash":      data.Rendering.WebGLHash,
	}
}

// canonicalDigest hashes the attribute map in sorted key order.
func canonicalDigest(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(attrs[k])
		sb.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// HardwareSignature digests the hardware-only attribute subset used by the
// hardware collision check.
func HardwareSignature(data *captcha.DeviceData) string {
	parts := []string{
		strconv.Itoa(data.Hardware.ScreenWidth),
		strconv.Itoa(data.Hardware.ScreenHeight),
		data.Hardware.Platform,
		strconv.Itoa(data.Hardware.CPUCores),
		strconv.FormatFloat(data.Hardware.DeviceMemory, 'f', -1, 64),
		data.Browser.Timezone,
		data.Browser.Language,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// canvasDigest digests the rendering sub-fingerprint alone.
func canvasDigest(data *captcha.DeviceData) string {
	if data.Rendering.CanvasHash == "" && data.Rendering.WebGLHash == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(data.Rendering.CanvasHash + "|" + data.Rendering.WebGLHash))
	return hex.EncodeToString(sum[:])
}

// Generate computes the canonical fingerprint for the given device payload.
// Missing attributes degrade the quality score and raise the risk score, they
// never fail the call. A nil or empty payload yields a fallback fingerprint
// with a medium risk score.
func (f *FingerprintService) Generate(userID string, data *captcha.DeviceData) *captcha.Fingerprint {
	marker := f.perfTracker.StartOperation("fingerprint_generate")
	defer marker.Complete()

	if data == nil || isEmptyDevice(data) {
		f.logger.Captcha().Warn("Fingerprint generation degraded to fallback", "userId", userID)
		marker.SetSuccess(false)
		return fallbackFingerprint()
	}

	attrs := stableAttributes(data)

	fp := &captcha.Fingerprint{
		Hash:              canonicalDigest(attrs),
		CanvasHash:        canvasDigest(data),
		HardwareSignature: HardwareSignature(data),
		Quality:           attributeQuality(attrs),
		RiskScore:         deviceRisk(data, attrs),
		Fallback:          false,
		CreatedAt:         time.Now().UTC(),
	}

	marker.SetSuccess(true)
	f.logger.Captcha().Debug("Fingerprint generated", "userId", userID, "quality", fp.Quality, "riskScore", fp.RiskScore)
	return fp
}

// fallbackFingerprint tags a degenerate generation so downstream consumers
// can skip collision checks rather than act on garbage.
func fallbackFingerprint() *captcha.Fingerprint {
	return &captcha.Fingerprint{
		Hash:      fmt.Sprintf("fallback-%d", time.Now().UnixMilli()),
		Quality:   0.0,
		RiskScore: 0.5,
		Fallback:  true,
		CreatedAt: time.Now().UTC(),
	}
}

func isEmptyDevice(data *captcha.DeviceData) bool {
	return data.Hardware.ScreenWidth == 0 &&
		data.Hardware.Platform == "" &&
		data.Browser.UserAgent == "" &&
		data.Rendering.CanvasHash == ""
}

// attributeQuality is the fraction of stable attributes actually supplied.
func attributeQuality(attrs map[string]string) float64 {
	present := 0
	for _, v := range attrs {
		if v != "" && v != "0" {
			present++
		}
	}
	return float64(present) / float64(len(attrs))
}

// deviceRisk rises with missing attributes and internal inconsistencies.
func deviceRisk(data *captcha.DeviceData, attrs map[string]string) float64 {
	risk := (1.0 - attributeQuality(attrs)) * 0.5

	if data.Hardware.TouchSupport != data.Browser.ClaimsMobile {
		risk += 0.15
	}
	if data.Hardware.ScreenWidth > 0 && !plausibleScreen(data.Hardware.ScreenWidth, data.Hardware.ScreenHeight) {
		risk += 0.2
	}
	if data.Browser.TimezoneOffset < -720 || data.Browser.TimezoneOffset > 840 {
		risk += 0.15
	}
	if looksHeadless(data.Browser.UserAgent) {
		risk += 0.3
	}

	return clamp01(risk)
}

func plausibleScreen(width, height int) bool {
	return width >= 320 && width <= 7680 && height >= 240 && height <= 4320
}

func looksHeadless(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	return strings.Contains(ua, "headless") || strings.Contains(ua, "phantomjs") || strings.Contains(ua, "selenium")
}

// Consistency compares a freshly generated fingerprint against the hash bound
// to the session, falling back to a weighted component comparison against the
// user's last stored fingerprint when the full hashes diverge. Returns 1.0
// for an exact match, 0.0 for fully inconsistent, and 0.5 when the comparison
// itself fails.
func (f *FingerprintService) Consistency(userID, sessionHash string, current *captcha.Fingerprint) float64 {
	if current == nil || current.Fallback {
		return 0.5
	}
	if sessionHash != "" && current.Hash == sessionHash {
		return 1.0
	}

	stored, err := f.deviceRepo.FindLatestByUserID(userID)
	if err != nil {
		f.logger.LogError(logging.ChannelCaptcha, "fingerprint_consistency", err, map[string]any{"userId": userID})
		return 0.5
	}
	if stored == nil {
		return 0.5
	}
	if current.Hash == stored.Hash {
		return 1.0
	}

	// Component weights: rendering and hardware carry the signal, quality
	// closeness breaks ties.
	score := 0.0
	if current.CanvasHash != "" && current.CanvasHash == stored.CanvasHash {
		score += 0.4
	}
	if current.HardwareSignature != "" && current.HardwareSignature == stored.HardwareSignature {
		score += 0.4
	}
	diff := current.Quality - stored.Quality
	if diff < 0 {
		diff = -diff
	}
	score += 0.2 * (1.0 - clamp01(diff))

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

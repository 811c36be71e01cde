package services

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/performance"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	cfg := logging.DefaultLoggerConfig()
	cfg.OutputToFile = false
	cfg.OutputToConsole = false
	cfg.DefaultLevel = slog.Level(12) // above error, silences everything
	logger, err := logging.NewChanneledLogger(cfg)
	require.NoError(t, err)
	return logger
}

func newTestTracker() *performance.Tracker {
	return performance.NewTracker(performance.DefaultTrackerConfig())
}

// fakeUserRepo is an in-memory UserRepository keyed by account ID.
type fakeUserRepo struct {
	mu       sync.Mutex
	accounts map[string]*captcha.Account
	byHash   map[string][]string
	byCanvas map[string][]string
	byHW     map[string][]string

	failFindByHash bool
	statusUpdates  int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		accounts: make(map[string]*captcha.Account),
		byHash:   make(map[string][]string),
		byCanvas: make(map[string][]string),
		byHW:     make(map[string][]string),
	}
}

func (f *fakeUserRepo) addAccount(id string, registeredAt time.Time) *captcha.Account {
	account := &captcha.Account{ID: id, Status: captcha.StatusActive, RegisteredAt: registeredAt}
	f.accounts[id] = account
	return account
}

func (f *fakeUserRepo) FindByID(id string) (*captcha.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id], nil
}

func (f *fakeUserRepo) UpdateStatus(id string, status captcha.AccountStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return errors.New("no such account")
	}
	account.Status = status
	account.StatusReason = reason
	f.statusUpdates++
	return nil
}

func (f *fakeUserRepo) lookup(ids []string) []*captcha.Account {
	out := make([]*captcha.Account, 0, len(ids))
	for _, id := range ids {
		if account, ok := f.accounts[id]; ok {
			out = append(out, account)
		}
	}
	return out
}

func (f *fakeUserRepo) FindByDeviceHash(hash string) ([]*captcha.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFindByHash {
		return nil, errors.New("storage unavailable")
	}
	return f.lookup(f.byHash[hash]), nil
}

func (f *fakeUserRepo) FindByCanvasFingerprint(canvasHash string) ([]*captcha.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookup(f.byCanvas[canvasHash]), nil
}

func (f *fakeUserRepo) FindByHardwareSignature(signature string) ([]*captcha.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookup(f.byHW[signature]), nil
}

func (f *fakeUserRepo) FindRegisteredSince(since time.Time) ([]*captcha.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*captcha.Account
	for _, account := range f.accounts {
		if !account.RegisteredAt.Before(since) {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeDeviceRepo stores the latest fingerprint per user.
type fakeDeviceRepo struct {
	mu     sync.Mutex
	latest map[string]*captcha.Fingerprint
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{latest: make(map[string]*captcha.Fingerprint)}
}

func (f *fakeDeviceRepo) Save(userID string, fp *captcha.Fingerprint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest[userID] = fp
	return nil
}

func (f *fakeDeviceRepo) FindLatestByUserID(userID string) (*captcha.Fingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[userID], nil
}

// fakeSessionRepo stores sessions and verification results in memory.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*captcha.Session
	results  []*captcha.VerificationRecord
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*captcha.Session)}
}

func (f *fakeSessionRepo) Save(session *captcha.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionRepo) FindByID(id string) (*captcha.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionRepo) Update(session *captcha.Session) error {
	return f.Save(session)
}

func (f *fakeSessionRepo) SaveResult(record *captcha.VerificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, record)
	return nil
}

func (f *fakeSessionRepo) CountFailuresByUser(userID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, record := range f.results {
		if record.UserID == userID && !record.Success && record.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionRepo) CountFailuresByIP(ipAddress string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, record := range f.results {
		if record.IPAddress == ipAddress && !record.Success && record.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionRepo) DeleteExpiredBefore(cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for id, session := range f.sessions {
		if session.ExpiresAt.Before(cutoff) {
			delete(f.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// fakeEnforcementRepo records blocks, bans, and incidents.
type fakeEnforcementRepo struct {
	mu         sync.Mutex
	userBlocks map[string][]*captcha.UserBlock
	ipBlocks   map[string][]*captcha.IPBlock
	banRecords []*captcha.BanRecord
	incidents  []*captcha.SecurityIncident
}

func newFakeEnforcementRepo() *fakeEnforcementRepo {
	return &fakeEnforcementRepo{
		userBlocks: make(map[string][]*captcha.UserBlock),
		ipBlocks:   make(map[string][]*captcha.IPBlock),
	}
}

func (f *fakeEnforcementRepo) AddUserBlock(block *captcha.UserBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userBlocks[block.UserID] = append(f.userBlocks[block.UserID], block)
	return nil
}

func (f *fakeEnforcementRepo) FindUserBlocks(userID string) ([]*captcha.UserBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userBlocks[userID], nil
}

func (f *fakeEnforcementRepo) AddIPBlock(block *captcha.IPBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ipBlocks[block.IPAddress] = append(f.ipBlocks[block.IPAddress], block)
	return nil
}

func (f *fakeEnforcementRepo) FindIPBlocks(ipAddress string) ([]*captcha.IPBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ipBlocks[ipAddress], nil
}

func (f *fakeEnforcementRepo) SaveBanRecord(record *captcha.BanRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banRecords = append(f.banRecords, record)
	return nil
}

func (f *fakeEnforcementRepo) FindBanRecordsByUser(userID string) ([]*captcha.BanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*captcha.BanRecord
	for _, record := range f.banRecords {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeEnforcementRepo) SaveIncident(incident *captcha.SecurityIncident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents = append(f.incidents, incident)
	return nil
}

func (f *fakeEnforcementRepo) FindRecentIncidents(limit int) ([]*captcha.SecurityIncident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.incidents) <= limit {
		return f.incidents, nil
	}
	return f.incidents[len(f.incidents)-limit:], nil
}

// fakeThreatRepo serves canned indicators per user.
type fakeThreatRepo struct {
	indicators map[string][]*captcha.ThreatIndicator
}

func newFakeThreatRepo() *fakeThreatRepo {
	return &fakeThreatRepo{indicators: make(map[string][]*captcha.ThreatIndicator)}
}

func (f *fakeThreatRepo) FindIndicatorsByUser(userID string) ([]*captcha.ThreatIndicator, error) {
	return f.indicators[userID], nil
}

// fakeMailer counts alert sends.
type fakeMailer struct {
	mu        sync.Mutex
	banAlerts int
}

func (f *fakeMailer) SendBanAlert(record *captcha.BanRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banAlerts++
	return nil
}

func (f *fakeMailer) SendIncidentAlert(incident *captcha.SecurityIncident) error {
	return nil
}

// goodDevice returns a fully populated, internally consistent device payload.
func goodDevice() *captcha.DeviceData {
	return &captcha.DeviceData{
		Hardware: captcha.HardwareInfo{
			ScreenWidth:  1920,
			ScreenHeight: 1080,
			ColorDepth:   24,
			Platform:     "Win32",
			CPUCores:     8,
			DeviceMemory: 8,
			TouchSupport: false,
		},
		Browser: captcha.BrowserInfo{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			Language:       "en-US",
			Vendor:         "Google Inc.",
			Product:        "Gecko",
			Timezone:       "America/New_York",
			TimezoneOffset: -300,
			CookiesEnabled: true,
			ClaimsMobile:   false,
		},
		Rendering: captcha.RenderingInfo{
			CanvasHash:    "canvas-abc123",
			WebGLHash:     "webgl-def456",
			WebGLVendor:   "Google Inc. (NVIDIA)",
			WebGLRenderer: "ANGLE (NVIDIA GeForce RTX 3060)",
		},
		Network: captcha.NetworkInfo{
			IPAddress:      "203.0.113.7",
			ConnectionType: "wifi",
		},
		Behavior: captcha.BehaviorInfo{
			BotScore:        0.0,
			MouseEvents:     140,
			KeyEvents:       12,
			InteractionTime: 9000,
		},
	}
}

package performance

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Tracker manages performance markers and provides metrics aggregation
type Tracker struct {
	markers map[string]*Marker
	mu      sync.RWMutex
	started time.Time
	config  *TrackerConfig
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	MaxMarkers      int           `json:"maxMarkers"`      // Maximum number of markers to retain
	CleanupInterval time.Duration `json:"cleanupInterval"` // How often completed markers are pruned
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		MaxMarkers:      10000,
		CleanupInterval: 10 * time.Minute,
	}
}

// NewTracker creates a new performance tracker with the given configuration
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}

	return &Tracker{
		markers: make(map[string]*Marker),
		started: time.Now(),
		config:  config,
	}
}

// StartOperation creates and tracks a new performance marker for an operation
func (t *Tracker) StartOperation(operation string) *Marker {
	marker := &Marker{
		Operation: operation,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
		Success:   true, // Assume success until proven otherwise
	}

	markerID := fmt.Sprintf("%s_%d", operation, time.Now().UnixNano())

	t.mu.Lock()
	if len(t.markers) >= t.config.MaxMarkers {
		t.evictOldestLocked()
	}
	t.markers[markerID] = marker
	t.mu.Unlock()

	return marker
}

// evictOldestLocked drops the oldest completed marker. Caller holds t.mu.
func (t *Tracker) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, m := range t.markers {
		if !m.Completed {
			continue
		}
		if oldestID == "" || m.StartTime.Before(oldest) {
			oldestID = id
			oldest = m.StartTime
		}
	}
	if oldestID != "" {
		delete(t.markers, oldestID)
	}
}

// OperationStats summarizes completed markers for a single operation
type OperationStats struct {
	Operation    string        `json:"operation"`
	Count        int           `json:"count"`
	Failures     int           `json:"failures"`
	TotalTime    time.Duration `json:"totalTime"`
	AverageTime  time.Duration `json:"averageTime"`
	MaxTime      time.Duration `json:"maxTime"`
	SuccessRatio float64       `json:"successRatio"`
}

// Snapshot is a point-in-time aggregation of all tracked operations
type Snapshot struct {
	TakenAt    time.Time        `json:"takenAt"`
	Uptime     time.Duration    `json:"uptime"`
	Operations []OperationStats `json:"operations"`
}

// GetSnapshot aggregates all completed markers into per-operation statistics
func (t *Tracker) GetSnapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byOp := make(map[string]*OperationStats)
	for _, m := range t.markers {
		if !m.Completed {
			continue
		}
		stats, ok := byOp[m.Operation]
		if !ok {
			stats = &OperationStats{Operation: m.Operation}
			byOp[m.Operation] = stats
		}
		stats.Count++
		stats.TotalTime += m.Duration
		if m.Duration > stats.MaxTime {
			stats.MaxTime = m.Duration
		}
		if !m.Success {
			stats.Failures++
		}
	}

	ops := make([]OperationStats, 0, len(byOp))
	for _, stats := range byOp {
		if stats.Count > 0 {
			stats.AverageTime = stats.TotalTime / time.Duration(stats.Count)
			stats.SuccessRatio = float64(stats.Count-stats.Failures) / float64(stats.Count)
		}
		ops = append(ops, *stats)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Operation < ops[j].Operation })

	return &Snapshot{
		TakenAt:    time.Now(),
		Uptime:     time.Since(t.started),
		Operations: ops,
	}
}

// PruneCompleted removes completed markers older than the given age
func (t *Tracker) PruneCompleted(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, m := range t.markers {
		if m.Completed && m.EndTime.Before(cutoff) {
			delete(t.markers, id)
			removed++
		}
	}
	return removed
}

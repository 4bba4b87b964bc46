package metrics

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Pipeline Stage Latency
// =============================================================================

// Stage names recorded by the digest pipeline.
const (
	StageFetch     = "fetch"
	StageSummarize = "summarize_batch"
	StageFallback  = "summarize_single"
	StageDeliver   = "deliver"
)

// StageTracker keeps a sliding window of stage durations and computes
// percentiles over it.
type StageTracker struct {
	mu         sync.Mutex
	samples    []int64 // microseconds
	maxSamples int
	sorted     bool
}

// NewStageTracker creates a tracker. windowSize caps the retained samples.
func NewStageTracker(windowSize int) *StageTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &StageTracker{
		samples:    make([]int64, 0, windowSize),
		maxSamples: windowSize,
	}
}

// Record adds one measurement.
func (st *StageTracker) Record(d time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.samples) >= st.maxSamples {
		// drop the oldest tenth instead of shifting on every insert
		removeCount := st.maxSamples / 10
		if removeCount < 1 {
			removeCount = 1
		}
		st.samples = st.samples[removeCount:]
	}

	st.samples = append(st.samples, d.Microseconds())
	st.sorted = false
}

// StageStats holds the computed view of one stage, in milliseconds.
type StageStats struct {
	Count int64   `json:"count"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Stats computes the current window's statistics.
func (st *StageTracker) Stats() StageStats {
	st.mu.Lock()
	defer st.mu.Unlock()

	n := len(st.samples)
	if n == 0 {
		return StageStats{}
	}

	if !st.sorted {
		sort.Slice(st.samples, func(i, j int) bool { return st.samples[i] < st.samples[j] })
		st.sorted = true
	}

	var sum int64
	for _, v := range st.samples {
		sum += v
	}

	ms := func(micros int64) float64 { return float64(micros) / 1000 }
	return StageStats{
		Count: int64(n),
		MinMs: ms(st.samples[0]),
		MaxMs: ms(st.samples[n-1]),
		AvgMs: ms(sum / int64(n)),
		P50Ms: ms(st.percentile(0.50)),
		P95Ms: ms(st.percentile(0.95)),
		P99Ms: ms(st.percentile(0.99)),
	}
}

// percentile requires the lock held and samples sorted.
func (st *StageTracker) percentile(p float64) int64 {
	if len(st.samples) == 0 {
		return 0
	}
	idx := int(float64(len(st.samples)-1) * p)
	return st.samples[idx]
}

// Reset clears the window.
func (st *StageTracker) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.samples = st.samples[:0]
	st.sorted = false
}

// =============================================================================
// Stage Registry
// =============================================================================

// StageRegistry manages trackers for every pipeline stage.
type StageRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*StageTracker
	window   int
}

// NewStageRegistry creates a registry with the given window per stage.
func NewStageRegistry(windowSize int) *StageRegistry {
	return &StageRegistry{
		trackers: make(map[string]*StageTracker),
		window:   windowSize,
	}
}

// Record adds a measurement for the named stage.
func (r *StageRegistry) Record(stage string, d time.Duration) {
	r.mu.RLock()
	tracker, ok := r.trackers[stage]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if tracker, ok = r.trackers[stage]; !ok {
			tracker = NewStageTracker(r.window)
			r.trackers[stage] = tracker
		}
		r.mu.Unlock()
	}

	tracker.Record(d)
}

// AllStats returns statistics for every recorded stage.
func (r *StageRegistry) AllStats() map[string]StageStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]StageStats, len(r.trackers))
	for name, tracker := range r.trackers {
		result[name] = tracker.Stats()
	}
	return result
}

// =============================================================================
// Global Stage Registry (Singleton)
// =============================================================================

var (
	globalStages     *StageRegistry
	globalStagesOnce sync.Once
)

// GlobalStages returns the global stage registry.
func GlobalStages() *StageRegistry {
	globalStagesOnce.Do(func() {
		globalStages = NewStageRegistry(1000)
	})
	return globalStages
}

// RecordStage records a stage duration to the global registry.
func RecordStage(stage string, d time.Duration) {
	GlobalStages().Record(stage, d)
}

// AllStageStats returns every stage's statistics from the global registry.
func AllStageStats() map[string]StageStats {
	return GlobalStages().AllStats()
}

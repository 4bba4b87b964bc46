// ============================================================================
// Inference Gate
// ============================================================================
// 프로세스 전체 모델 호출 동시성 제한
//
// Every model invocation in the process passes through one gate, no matter
// which user or worker triggered it. Acquire blocks until a permit frees up
// or the context ends; the returned release restores the permit and is safe
// to call more than once.
// ============================================================================

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrent = 3

// InferenceGate is a process-wide counting semaphore for model calls.
type InferenceGate struct {
	sem      *semaphore.Weighted
	capacity int64

	inFlight atomic.Int64
	acquired atomic.Int64
}

// GateStats is a point-in-time view for the stats endpoint.
type GateStats struct {
	Capacity      int64 `json:"capacity"`
	InFlight      int64 `json:"in_flight"`
	TotalAcquired int64 `json:"total_acquired"`
}

// NewInferenceGate creates a gate with the given permit count.
// Non-positive values fall back to DefaultMaxConcurrent.
func NewInferenceGate(maxConcurrent int) *InferenceGate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &InferenceGate{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: int64(maxConcurrent),
	}
}

// Acquire takes one permit, blocking until one is free or ctx is done.
// Callers must invoke the returned release on every exit path.
func (g *InferenceGate) Acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.inFlight.Add(1)
	g.acquired.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		})
	}
	return release, nil
}

// TryAcquire takes a permit without blocking. ok is false when the gate is
// full; release is non-nil only when ok.
func (g *InferenceGate) TryAcquire() (func(), bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	g.inFlight.Add(1)
	g.acquired.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		})
	}
	return release, true
}

// Stats snapshots the gate counters.
func (g *InferenceGate) Stats() GateStats {
	return GateStats{
		Capacity:      g.capacity,
		InFlight:      g.inFlight.Load(),
		TotalAcquired: g.acquired.Load(),
	}
}

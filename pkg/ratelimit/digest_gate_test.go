package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestInferenceGateCapacity(t *testing.T) {
	gate := NewInferenceGate(2)

	rel1, ok := gate.TryAcquire()
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	rel2, ok := gate.TryAcquire()
	if !ok {
		t.Fatal("second acquire should succeed")
	}

	if _, ok := gate.TryAcquire(); ok {
		t.Error("third acquire should fail at capacity 2")
	}
	if got := gate.Stats().InFlight; got != 2 {
		t.Errorf("in_flight = %d, want 2", got)
	}

	rel1()
	if _, ok := gate.TryAcquire(); !ok {
		t.Error("acquire should succeed after release")
	}

	rel2()
}

func TestInferenceGateDoubleReleaseIsNoop(t *testing.T) {
	gate := NewInferenceGate(1)

	rel, ok := gate.TryAcquire()
	if !ok {
		t.Fatal("acquire failed")
	}
	rel()
	rel() // second call must not over-release

	if got := gate.Stats().InFlight; got != 0 {
		t.Errorf("in_flight = %d, want 0", got)
	}
	if _, ok := gate.TryAcquire(); !ok {
		t.Error("gate should hold exactly one free permit")
	}
}

func TestInferenceGateAcquireHonorsContext(t *testing.T) {
	gate := NewInferenceGate(1)

	rel, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer rel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := gate.Acquire(ctx); err == nil {
		t.Error("Acquire on a full gate should fail once the context ends")
	}
}

func TestInferenceGateDefaultCapacity(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int64
	}{
		{"explicit", 5, 5},
		{"zero falls back", 0, DefaultMaxConcurrent},
		{"negative falls back", -1, DefaultMaxConcurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewInferenceGate(tt.in)
			if got := gate.Stats().Capacity; got != tt.want {
				t.Errorf("capacity = %d, want %d", got, tt.want)
			}
		})
	}
}

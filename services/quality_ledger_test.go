package services

import (
	"math"
	"testing"

	"kb-search-platform/internal/config"
)

func newTestLedger() *QualityLedger {
	return NewQualityLedger(&config.Config{
		QualityFeedbackGain:      0.1,
		QualityMinVotes:          3,
		QualityMultiplierFloor:   0.9,
		QualityMultiplierCeiling: 1.1,
	})
}

func TestComputeMultiplierColdStart(t *testing.T) {
	l := newTestLedger()

	// Below three total votes the multiplier is neutral for every history
	histories := [][2]int{{0, 0}, {1, 0}, {0, 1}, {2, 0}, {0, 2}, {1, 1}}
	for _, h := range histories {
		if m := l.ComputeMultiplier(h[0], h[1]); m != 1.0 {
			t.Errorf("ComputeMultiplier(%d, %d) = %f, want exactly 1.0", h[0], h[1], m)
		}
	}
}

func TestComputeMultiplierBounds(t *testing.T) {
	l := newTestLedger()

	if m := l.ComputeMultiplier(3, 0); math.Abs(m-1.1) > 1e-9 {
		t.Errorf("all-positive at threshold: got %f, want 1.1", m)
	}
	if m := l.ComputeMultiplier(0, 3); math.Abs(m-0.9) > 1e-9 {
		t.Errorf("all-negative at threshold: got %f, want 0.9", m)
	}
	if m := l.ComputeMultiplier(100, 0); m > 1.1 {
		t.Errorf("multiplier exceeded ceiling: %f", m)
	}
	if m := l.ComputeMultiplier(0, 100); m < 0.9 {
		t.Errorf("multiplier broke floor: %f", m)
	}
}

func TestComputeMultiplierMonotonic(t *testing.T) {
	l := newTestLedger()

	// For a fixed total, more net positives never lowers the multiplier
	for total := 3; total <= 20; total++ {
		prev := -1.0
		for up := 0; up <= total; up++ {
			m := l.ComputeMultiplier(up, total-up)
			if m < prev {
				t.Errorf("multiplier decreased at up=%d/total=%d: %f < %f", up, total, m, prev)
			}
			prev = m
		}
	}
}

func TestComputeMultiplierMixedVotes(t *testing.T) {
	l := newTestLedger()

	// 4 up, 1 down: 1.0 + 0.1 * 3/5 = 1.06
	if m := l.ComputeMultiplier(4, 1); math.Abs(m-1.06) > 1e-9 {
		t.Errorf("ComputeMultiplier(4, 1) = %f, want 1.06", m)
	}
	// Split vote stays neutral
	if m := l.ComputeMultiplier(5, 5); math.Abs(m-1.0) > 1e-9 {
		t.Errorf("ComputeMultiplier(5, 5) = %f, want 1.0", m)
	}
}

func TestNegativeFeedbackAdjustsScore(t *testing.T) {
	l := newTestLedger()

	// Three negatives drive the multiplier to the floor; a chunk with raw
	// similarity 0.8 from that document then ranks at 0.72.
	m := l.ComputeMultiplier(0, 3)
	if math.Abs(m-0.9) > 1e-9 {
		t.Fatalf("three negatives: got multiplier %f, want 0.9", m)
	}

	adjusted := 0.8 * m
	if math.Abs(adjusted-0.72) > 1e-9 {
		t.Errorf("adjusted score = %f, want 0.72", adjusted)
	}
}

func TestHashAnswerStable(t *testing.T) {
	a := HashAnswer("Sharding splits data across nodes. [1]")
	b := HashAnswer("  Sharding splits data across nodes. [1]\n")

	if a != b {
		t.Errorf("whitespace-trimmed answers should hash identically: %s vs %s", a, b)
	}
	if a == HashAnswer("A different answer.") {
		t.Error("different answers produced the same hash")
	}
	if len(a) != 40 {
		t.Errorf("expected 40 hex chars, got %d", len(a))
	}
}

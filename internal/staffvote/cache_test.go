package staffvote

import "testing"

func TestVoteLatchesStaffOnHighConfidenceRun(t *testing.T) {
	c := New()

	votes := []struct {
		class Classification
		conf  float64
	}{
		{ClassificationStaff, 0.9},
		{ClassificationStaff, 0.8},
		{ClassificationCustomer, 0.55},
		{ClassificationStaff, 0.75},
	}

	var label Label
	var fixed bool
	for i, v := range votes {
		label, fixed = c.Vote(7, v.class, v.conf, i+1)
		if fixed {
			break
		}
	}

	if !fixed {
		t.Fatalf("expected vote to latch within the given evidence, got unfixed")
	}
	if label != LabelStaff {
		t.Fatalf("label = %v, want staff", label)
	}
	if got, ok := c.Get(7); !ok || got != LabelStaff {
		t.Fatalf("Get(7) = (%v, %v), want (staff, true)", got, ok)
	}
}

func TestVoteOnceFixedStaysFixed(t *testing.T) {
	c := New(WithVoteThreshold(4))
	c.Vote(1, ClassificationStaff, 0.9, 1)
	label, fixed := c.Vote(1, ClassificationStaff, 0.9, 2)
	if !fixed || label != LabelStaff {
		t.Fatalf("expected latched staff by frame 2, got (%v, %v)", label, fixed)
	}

	// Further votes, even customer-leaning, must not move the label.
	label, fixed = c.Vote(1, ClassificationCustomer, 0.9, 3)
	if !fixed || label != LabelStaff {
		t.Fatalf("fixed label changed after latch: got (%v, %v)", label, fixed)
	}
}

func TestVoteWindowExpiryBreaksTieToCustomer(t *testing.T) {
	c := New(WithVoteThreshold(100), WithVoteWindow(3))

	c.Vote(2, ClassificationStaff, 0.6, 1)
	label, fixed := c.Vote(2, ClassificationCustomer, 0.6, 2)
	if fixed {
		t.Fatalf("should not be fixed before window elapses, got %v", label)
	}
	label, fixed = c.Vote(2, ClassificationUnknown, 0.9, 3)
	if !fixed {
		t.Fatalf("expected window-forced decision at frame 3")
	}
	if label != LabelCustomer {
		t.Fatalf("tie (or customer lean) should break to customer, got %v", label)
	}
}

func TestVoteUnknownAddsHalfWeightToCustomer(t *testing.T) {
	c := New(WithVoteThreshold(1), WithVoteWindow(100))
	label, fixed := c.Vote(3, ClassificationUnknown, 0.9, 1)
	if !fixed || label != LabelCustomer {
		t.Fatalf("unknown@0.9 (weight 2.0/2=1.0) should latch customer at threshold 1, got (%v, %v)", label, fixed)
	}
}

func TestCleanupEvictsOnlyInactiveStaleEntries(t *testing.T) {
	c := New(WithKeepFrames(30))
	c.Vote(1, ClassificationStaff, 0.9, 1)
	c.Vote(2, ClassificationStaff, 0.9, 1)

	c.Cleanup(map[int]bool{1: true}, 40)

	if _, ok := c.entries.Peek(1); !ok {
		t.Fatalf("active track 1 should survive Cleanup")
	}
	if _, ok := c.entries.Peek(2); ok {
		t.Fatalf("stale inactive track 2 should have been evicted")
	}
}

package crawl

import "testing"

func TestFrontier_MarkSeen(t *testing.T) {
	f := NewFrontier()
	k := NaturalKey{Name: "SetX CardY #1", Tag: "Rare"}
	if !f.MarkSeen(k) {
		t.Error("Expected first MarkSeen to report novel")
	}
	if f.MarkSeen(k) {
		t.Error("Expected second MarkSeen to report duplicate")
	}
	if !f.MarkSeen(NaturalKey{Name: "SetX CardY #1", Tag: "Common"}) {
		t.Error("Expected same name with different tag to be novel")
	}
	if f.Len() != 2 {
		t.Errorf("Expected 2 seen keys, got %d", f.Len())
	}
}

func TestFrontier_NoProgressStreak(t *testing.T) {
	f := NewFrontier()
	if f.RecordBatch(0) != 1 || f.RecordBatch(0) != 2 {
		t.Fatal("Expected streak to grow on empty batches")
	}
	if f.RecordBatch(3) != 0 {
		t.Error("Expected streak to reset on progress")
	}
	if f.NoProgress() != 0 {
		t.Errorf("Expected NoProgress 0, got %d", f.NoProgress())
	}
}

package observability

import "testing"

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(StageCompletion, 500)
	w.Observe(StageCompletion, 700)
	w.Observe(StageCompletion, 900)
	w.ObserveIndicator("cache_hit")
	w.ObserveIndicator("cache_hit")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageCompletion {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageCompletion)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 8000 {
		t.Fatalf("TargetP95MS = %.2f, want 8000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one cache_hit x2", snap.Indicators)
	}
}

func TestLatencyWindowWrapsRing(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe(StageChatTurn, 1)
	w.Observe(StageChatTurn, 2)
	w.Observe(StageChatTurn, 300)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 151 {
		t.Fatalf("AvgMS = %.2f, want 151", s.AvgMS)
	}
}

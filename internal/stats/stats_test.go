package stats

import (
	"testing"
	"time"
)

func TestRecordAccumulatesAndTracksMinMax(t *testing.T) {
	s := NewRenderStats()

	s.Record(30*time.Millisecond, 5*time.Millisecond, "a/1/2/3")
	snap := s.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("Count = %d", snap.Count)
	}
	if snap.MinRender != 30*time.Millisecond || snap.MaxRender != 30*time.Millisecond {
		t.Errorf("after first sample min/max = %v/%v", snap.MinRender, snap.MaxRender)
	}

	s.Record(10*time.Millisecond, 2*time.Millisecond, "a/1/0/0")
	s.Record(50*time.Millisecond, 8*time.Millisecond, "a/1/1/1")
	snap = s.Snapshot()

	if snap.Count != 3 {
		t.Errorf("Count = %d, want 3", snap.Count)
	}
	if snap.MinRender != 10*time.Millisecond {
		t.Errorf("MinRender = %v, want 10ms", snap.MinRender)
	}
	if snap.MaxRender != 50*time.Millisecond {
		t.Errorf("MaxRender = %v, want 50ms", snap.MaxRender)
	}
	if snap.MinRender > snap.MaxRender {
		t.Error("MinRender must be <= MaxRender once count >= 2")
	}
	if snap.TotalRender != 90*time.Millisecond {
		t.Errorf("TotalRender = %v, want 90ms", snap.TotalRender)
	}
}

func TestSnapshotMonotonicity(t *testing.T) {
	s := NewRenderStats()
	prev := s.Snapshot()

	for i := 0; i < 5; i++ {
		s.Record(time.Duration(i+1)*time.Millisecond, time.Millisecond, "x")
		cur := s.Snapshot()
		if cur.Count < prev.Count {
			t.Fatal("Count decreased")
		}
		if cur.TotalRender < prev.TotalRender {
			t.Fatal("TotalRender decreased")
		}
		prev = cur
	}
}

func TestAggregatorSnapshotReportsAllWorkers(t *testing.T) {
	agg := NewAggregator("Test Server")
	agg.Register("worker-0").Record(time.Millisecond, time.Microsecond, "t")
	agg.Register("worker-1")

	report := agg.Snapshot()
	if report.ServerName != "Test Server" {
		t.Errorf("ServerName = %q", report.ServerName)
	}
	if len(report.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(report.Workers))
	}
	if report.Workers["worker-0"].Count != 1 {
		t.Errorf("worker-0 count = %d", report.Workers["worker-0"].Count)
	}
	if report.Workers["worker-1"].Count != 0 {
		t.Errorf("worker-1 count = %d", report.Workers["worker-1"].Count)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	agg := NewAggregator("s")
	a := agg.Register("w")
	b := agg.Register("w")
	if a != b {
		t.Error("Register should return the same RenderStats for the same name")
	}
}

package discovery

import "testing"

func TestFindFastestPrefersLowestLatency(t *testing.T) {
	results := []Result{
		{Address: "10.0.0.1:5432", Responding: false},
		{Address: "10.0.0.2:5432", Responding: true, LatencyMs: 40},
		{Address: "10.0.0.3:5432", Responding: true, LatencyMs: 12},
		{Address: "10.0.0.4:5432", Responding: true, LatencyMs: 55},
	}

	best := FindFastest(results)
	if best == nil || best.Address != "10.0.0.3:5432" {
		t.Fatalf("expected 10.0.0.3:5432 to win, got %+v", best)
	}
}

func TestFindFastestAllUnresponsive(t *testing.T) {
	results := []Result{
		{Address: "10.0.0.1:5432"},
		{Address: "10.0.0.2:5432"},
	}
	if best := FindFastest(results); best != nil {
		t.Fatalf("expected no winner, got %+v", best)
	}
}

func TestIncrementIPWraps(t *testing.T) {
	ip := []byte{192, 168, 1, 255}
	incrementIP(ip)
	want := []byte{192, 168, 2, 0}
	for i := range want {
		if ip[i] != want[i] {
			t.Fatalf("incrementIP(192.168.1.255) = %v, want %v", ip, want)
		}
	}
}

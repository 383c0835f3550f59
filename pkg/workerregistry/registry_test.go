package workerregistry

import "testing"

func TestLoadScore(t *testing.T) {
	tests := []struct {
		name                    string
		ramPct, cpuPct, sessPct float64
		want                    int
	}{
		{name: "idle worker", want: 0},
		{name: "uniform half load", ramPct: 50, cpuPct: 50, sessPct: 50, want: 50},
		{name: "published weights", ramPct: 80, cpuPct: 50, sessPct: 30, want: 56}, // 32 + 15 + 9
		{name: "fully loaded", ramPct: 100, cpuPct: 100, sessPct: 100, want: 100},
		{name: "overreported clamps to 100", ramPct: 250, cpuPct: 180, sessPct: 120, want: 100},
		{name: "negative clamps to 0", ramPct: -5, cpuPct: -1, sessPct: 0, want: 0},
		{name: "rounds to nearest", ramPct: 1, cpuPct: 1, sessPct: 0, want: 1}, // 0.4 + 0.3 = 0.7
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LoadScore(tt.ramPct, tt.cpuPct, tt.sessPct)
			if got != tt.want {
				t.Errorf("LoadScore(%v, %v, %v) = %d, want %d", tt.ramPct, tt.cpuPct, tt.sessPct, got, tt.want)
			}
			if got < 0 || got > 100 {
				t.Errorf("score %d outside 0..100", got)
			}
		})
	}
}

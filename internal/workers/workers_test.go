package workers

import (
	"runtime"
	"testing"
)

func TestCount(t *testing.T) {
	availableCPU := runtime.GOMAXPROCS(0)

	tests := []struct {
		name       string
		multiplier float64
		limit      int
		minExpect  int
		maxExpect  int
	}{
		{"I/O-bound (2.0x)", 2.0, 0, 1, availableCPU * 2},
		{"Mixed (1.5x)", 1.5, 0, 1, int(float64(availableCPU) * 1.5)},
		{"Limit lower than calculated", 2.0, 1, 1, 1},
		{"Very low multiplier", 0.01, 0, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Count("", tt.multiplier, tt.limit)
			if got < tt.minExpect || got > tt.maxExpect {
				t.Errorf("Count(%v, %d) = %d, want in [%d, %d]", tt.multiplier, tt.limit, got, tt.minExpect, tt.maxExpect)
			}
		})
	}
}

func TestCountEnvOverride(t *testing.T) {
	tests := []struct {
		name  string
		value string
		limit int
		want  int
	}{
		{"valid override", "5", 0, 5},
		{"override capped by limit", "50", 8, 8},
		{"invalid override ignored", "abc", 1, 1},
		{"zero override ignored", "0", 1, 1},
		{"negative override ignored", "-3", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_POOL_WORKERS", tt.value)
			if got := Count("TEST_POOL_WORKERS", 1.0, tt.limit); got != tt.want {
				t.Errorf("Count() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	t.Setenv("TEST_IO_WORKERS", "3")
	if got := ForIO("TEST_IO_WORKERS", 0); got != 3 {
		t.Errorf("ForIO = %d, want 3", got)
	}
	if got := ForMixed("", 1); got != 1 {
		t.Errorf("ForMixed with limit 1 = %d, want 1", got)
	}
}

package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Count returns the number of workers for a pool, honouring an operator
// override in envVar before falling back to GOMAXPROCS * multiplier.
//
// The limit parameter caps the result, including overrides. Use 0 for no
// limit. An empty envVar disables the override.
func Count(envVar string, multiplier float64, limit int) int {
	if envVar != "" {
		if override := os.Getenv(envVar); override != "" {
			if count, err := strconv.Atoi(override); err == nil && count > 0 {
				return capAt(count, limit)
			}
		}
	}

	// GOMAXPROCS is automatically set to container CPU limit in Go 1.19+
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)
	if workers < 1 {
		workers = 1
	}
	return capAt(workers, limit)
}

func capAt(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}

// ForIO returns a worker count for network-bound pools (2 per CPU).
func ForIO(envVar string, limit int) int {
	return Count(envVar, 2.0, limit)
}

// ForMixed returns a worker count for pools that download and then resize
// (1.5 per CPU).
func ForMixed(envVar string, limit int) int {
	return Count(envVar, 1.5, limit)
}

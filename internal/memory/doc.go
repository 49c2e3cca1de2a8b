// Package memory sizes the Go heap for containers and pauses cache workers
// under memory pressure.
//
// Call [ConfigureFromEnv] first thing in main. It derives GOMEMLIMIT from
// MEMORY_LIMIT and MEMORY_RATIO unless GOMEMLIMIT is already set:
//
//	env:
//	- name: MEMORY_LIMIT
//	  valueFrom:
//	    resourceFieldRef:
//	      resource: limits.memory
//	- name: MEMORY_RATIO
//	  value: "0.75"
//
// A [Monitor] then samples the heap and implements the cache pool's
// backpressure hook: workers block in WaitIfPaused while usage is above the
// pause ratio, and continue once it drops below the resume ratio.
package memory

package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// progress redraws a single status line while work runs. When out is not a
// terminal nothing is drawn and only the final summaries are printed.
type progress struct {
	out  io.Writer
	live bool
}

func newProgress(out io.Writer, live bool) *progress {
	return &progress{out: out, live: live}
}

// follow polls line every progressInterval and redraws it until the returned
// stop func is called. stop is idempotent and clears the line.
func (p *progress) follow(line func() string) (stop func()) {
	if !p.live {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Fprintf(p.out, "\r\033[K%s", line())
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			fmt.Fprint(p.out, "\r\033[K")
		})
	}
}

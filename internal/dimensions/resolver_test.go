package dimensions

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"scrapbook/internal/database"
	"scrapbook/internal/fetcher"
	"scrapbook/internal/media"
	"scrapbook/internal/metrics"
)

type stubProber struct {
	mu      sync.Mutex
	calls   []string
	dims    map[string][2]int
	errs    map[string]error
	video   bool
	gate    chan struct{}
	entered chan struct{}
}

func newStubProber() *stubProber {
	return &stubProber{dims: map[string][2]int{}, errs: map[string]error{}}
}

func (p *stubProber) probe(rawURL string) (int, int, error) {
	p.mu.Lock()
	p.calls = append(p.calls, rawURL)
	gate, entered := p.gate, p.entered
	p.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[rawURL]; ok {
		return 0, 0, err
	}
	if d, ok := p.dims[rawURL]; ok {
		return d[0], d[1], nil
	}
	return 640, 480, nil
}

func (p *stubProber) ProbeDimensions(_ context.Context, rawURL string) (int, int, error) {
	return p.probe(rawURL)
}

func (p *stubProber) ProbeVideoDimensions(_ context.Context, rawURL string) (int, int, error) {
	return p.probe(rawURL)
}

func (p *stubProber) VideoAvailable() bool { return p.video }

func (p *stubProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func setupResolver(t *testing.T, prober Prober) (*Resolver, *database.Database) {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	r := NewResolver(db, prober, Config{Workers: 4, BatchSize: 10})
	return r, db
}

func addPins(t *testing.T, db *database.Database, urls ...string) []int64 {
	t.Helper()

	ids := make([]int64, 0, len(urls))
	for _, u := range urls {
		id, err := db.CreatePin(context.Background(), 1, u)
		if err != nil {
			t.Fatalf("CreatePin(%q): %v", u, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func runJob(t *testing.T, r *Resolver, opts Options) JobState {
	t.Helper()

	if err := r.Start(opts); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Wait()
	return r.State()
}

func pinEntry(t *testing.T, db *database.Database, pinID int64) *database.MediaCacheEntry {
	t.Helper()

	ctx := context.Background()
	pin, err := db.GetPin(ctx, pinID)
	if err != nil {
		t.Fatalf("GetPin(%d): %v", pinID, err)
	}
	if pin.CachedMediaID == nil {
		return nil
	}
	entry, err := db.GetEntry(ctx, *pin.CachedMediaID)
	if err != nil {
		t.Fatalf("GetEntry(%d): %v", *pin.CachedMediaID, err)
	}
	return entry
}

func TestContinuousJobProcessesAllBatches(t *testing.T) {
	tests := []struct {
		name      string
		pins      int
		batchSize int
		batches   int
	}{
		{"exact multiple", 6, 3, 2},
		{"remainder", 7, 3, 3},
		{"single small batch", 2, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := newStubProber()
			r, db := setupResolver(t, prober)

			urls := make([]string, tt.pins)
			for i := range urls {
				urls[i] = fmt.Sprintf("https://i.pinimg.com/originals/%d.jpg", i)
			}
			ids := addPins(t, db, urls...)

			state := runJob(t, r, Options{Continuous: true, BatchSize: tt.batchSize})

			if state.IsRunning {
				t.Error("IsRunning should be false after the job")
			}
			if state.Batches != tt.batches {
				t.Errorf("Batches = %d, want %d", state.Batches, tt.batches)
			}
			if state.Processed != tt.pins || state.Success != tt.pins {
				t.Errorf("Processed/Success = %d/%d, want %d", state.Processed, state.Success, tt.pins)
			}
			if state.Total < state.Processed {
				t.Errorf("Total %d < Processed %d", state.Total, state.Processed)
			}
			if state.EndTime == nil {
				t.Error("EndTime should be set")
			}

			for _, id := range ids {
				entry := pinEntry(t, db, id)
				if entry == nil {
					t.Fatalf("pin %d not linked", id)
				}
				if entry.Width != 640 || entry.Height != 480 {
					t.Errorf("pin %d dims = %dx%d, want 640x480", id, entry.Width, entry.Height)
				}
				if entry.QualityLevel != database.QualityLow || entry.Status != database.StatusPending {
					t.Errorf("pin %d entry = %s/%s, want low/pending", id, entry.QualityLevel, entry.Status)
				}
			}

			counts, err := db.DimensionCounts(context.Background())
			if err != nil {
				t.Fatalf("DimensionCounts: %v", err)
			}
			if counts.PinsWithDimensions != tt.pins {
				t.Errorf("PinsWithDimensions = %d, want %d", counts.PinsWithDimensions, tt.pins)
			}
		})
	}
}

func TestSingleBatchJob(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)

	for i := 0; i < 5; i++ {
		addPins(t, db, fmt.Sprintf("https://example.com/%d.png", i))
	}

	state := runJob(t, r, Options{BatchSize: 2})

	if state.Batches != 1 || state.Processed != 2 {
		t.Errorf("Batches/Processed = %d/%d, want 1/2", state.Batches, state.Processed)
	}
	if state.Total != 2 {
		t.Errorf("Total = %d, want 2", state.Total)
	}
	if prober.callCount() != 2 {
		t.Errorf("probe calls = %d, want 2", prober.callCount())
	}
}

func TestJobLimit(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)

	for i := 0; i < 10; i++ {
		addPins(t, db, fmt.Sprintf("https://example.com/%d.jpg", i))
	}

	state := runJob(t, r, Options{Continuous: true, BatchSize: 3, Limit: 5})

	if state.Processed != 5 {
		t.Errorf("Processed = %d, want 5", state.Processed)
	}
	if state.Batches != 2 {
		t.Errorf("Batches = %d, want 2", state.Batches)
	}
}

func TestDenylistedAndPlaceholderSkipped(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)

	ids := addPins(t, db,
		"https://www.instagram.com/p/abc123/",
		"/static/images/placeholder.png",
	)

	state := runJob(t, r, Options{Continuous: true})

	if state.Skipped != 2 || state.Success != 0 || state.Failed != 0 {
		t.Errorf("Skipped/Success/Failed = %d/%d/%d, want 2/0/0", state.Skipped, state.Success, state.Failed)
	}
	if prober.callCount() != 0 {
		t.Errorf("probe calls = %d, want 0", prober.callCount())
	}
	for _, id := range ids {
		if entry := pinEntry(t, db, id); entry != nil {
			t.Errorf("pin %d should have no entry, got %d", id, entry.ID)
		}
	}

	entries := r.Activity().Entries
	if len(entries) != 2 {
		t.Fatalf("activity entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Outcome != OutcomeSkipped || e.Error == nil {
			t.Errorf("activity entry %+v should be skipped with a reason", e)
		}
	}
}

func TestProbeFailureRecordsClass(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)

	bad := "https://example.com/missing.jpg"
	prober.errs[bad] = &fetcher.NetworkError{URL: bad, StatusCode: 404, Err: errors.New("not found")}
	ids := addPins(t, db, bad)

	state := runJob(t, r, Options{Continuous: true})

	if state.Failed != 1 {
		t.Errorf("Failed = %d, want 1", state.Failed)
	}
	if entry := pinEntry(t, db, ids[0]); entry != nil {
		t.Error("a failed probe should not create an entry")
	}

	entries := r.Activity().Entries
	if len(entries) != 1 || entries[0].Error == nil || *entries[0].Error != "http" {
		t.Errorf("activity = %+v, want one failure of class http", entries)
	}

	// A later job picks the pin up again.
	delete(prober.errs, bad)
	state = runJob(t, r, Options{Continuous: true})
	if state.Success != 1 {
		t.Errorf("second job Success = %d, want 1", state.Success)
	}
}

func TestVideoWithoutDecoder(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)

	addPins(t, db, "https://v.pinimg.com/videos/clip.mp4")

	state := runJob(t, r, Options{Continuous: true})

	if state.Failed != 1 {
		t.Errorf("Failed = %d, want 1", state.Failed)
	}
	if prober.callCount() != 0 {
		t.Errorf("probe calls = %d, want 0", prober.callCount())
	}
	entries := r.Activity().Entries
	if len(entries) != 1 || entries[0].Error == nil || *entries[0].Error != "decoder unavailable" {
		t.Errorf("activity = %+v, want decoder unavailable", entries)
	}
}

func TestExistingEntryGetsDimensions(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)
	ctx := context.Background()

	u := "https://images.unsplash.com/photo-1"
	prober.dims[u] = [2]int{1200, 800}
	ids := addPins(t, db, u)

	entryID, err := db.UpsertPending(ctx, u, database.QualityMedium)
	if err != nil {
		t.Fatalf("UpsertPending: %v", err)
	}
	if _, err := db.LinkPin(ctx, ids[0], entryID); err != nil {
		t.Fatalf("LinkPin: %v", err)
	}

	runJob(t, r, Options{Continuous: true})

	entry := pinEntry(t, db, ids[0])
	if entry == nil || entry.ID != entryID {
		t.Fatalf("pin should stay linked to entry %d, got %+v", entryID, entry)
	}
	if entry.Width != 1200 || entry.Height != 800 {
		t.Errorf("dims = %dx%d, want 1200x800", entry.Width, entry.Height)
	}
}

func TestStartWhileRunning(t *testing.T) {
	prober := newStubProber()
	prober.gate = make(chan struct{})
	prober.entered = make(chan struct{}, 1)
	r, db := setupResolver(t, prober)

	addPins(t, db, "https://example.com/a.jpg")

	if err := r.Start(Options{Continuous: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-prober.entered

	if err := r.Start(Options{}); !errors.Is(err, ErrJobRunning) {
		t.Errorf("second Start = %v, want ErrJobRunning", err)
	}
	if !r.State().IsRunning || !r.Activity().IsRunning {
		t.Error("job should report running")
	}

	close(prober.gate)
	r.Wait()

	if r.State().IsRunning {
		t.Error("job should have finished")
	}
}

func TestStopWhenIdle(t *testing.T) {
	r, _ := setupResolver(t, newStubProber())

	if err := r.Stop(); !errors.Is(err, ErrJobNotRunning) {
		t.Errorf("Stop = %v, want ErrJobNotRunning", err)
	}
}

func TestStopMidJob(t *testing.T) {
	prober := newStubProber()
	prober.gate = make(chan struct{})
	prober.entered = make(chan struct{}, 1)
	r, db := setupResolver(t, prober)
	r.cfg.Workers = 1

	for i := 0; i < 20; i++ {
		addPins(t, db, fmt.Sprintf("https://example.com/%d.jpg", i))
	}

	if err := r.Start(Options{Continuous: true, BatchSize: 5}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-prober.entered

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(prober.gate)

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop")
	}

	state := r.State()
	if state.IsRunning {
		t.Error("IsRunning should be false")
	}
	if state.Processed >= 20 {
		t.Errorf("Processed = %d, stop should end the job early", state.Processed)
	}
	if state.Processed < 1 {
		t.Error("the in-flight probe should complete")
	}
}

func TestStats(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)

	addPins(t, db, "https://example.com/a.jpg", "https://example.com/b.jpg")
	runJob(t, r, Options{Continuous: true})

	stats, err := r.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalPins != 2 || stats.PinsWithDimensions != 2 {
		t.Errorf("counts = %+v, want 2/2", stats.DimensionCounts)
	}
	if stats.Job.Success != 2 {
		t.Errorf("Job.Success = %d, want 2", stats.Job.Success)
	}
}

func TestCoverageGaugeIsRatio(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)

	bad := "https://example.com/broken.jpg"
	prober.errs[bad] = &fetcher.DecodeError{URL: bad, Err: errors.New("bad header")}
	addPins(t, db, "https://example.com/a.jpg", bad)

	runJob(t, r, Options{Continuous: true})
	if got := testutil.ToFloat64(metrics.DimensionCoverage); got != 0.5 {
		t.Errorf("coverage after first job = %v, want 0.5", got)
	}

	delete(prober.errs, bad)
	// A second job recomputes the total before it starts.
	runJob(t, r, Options{Continuous: true})
	if got := testutil.ToFloat64(metrics.DimensionCoverage); got != 1 {
		t.Errorf("coverage after second job = %v, want 1", got)
	}
}

func TestRateRecomputedEveryTenAndWindowResets(t *testing.T) {
	r, _ := setupResolver(t, newStubProber())

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	r.SetClock(func() time.Time { return clock })
	r.windowStart = base

	c := database.DimensionCandidate{PinID: 1, ImageURL: "https://example.com/a.jpg"}
	step := func(n int, d time.Duration) {
		for i := 0; i < n; i++ {
			clock = clock.Add(d)
			r.record(c, OutcomeSuccess, 1, 1, "")
		}
	}

	step(9, time.Second)
	if rate := r.State().Rate; rate != 0 {
		t.Fatalf("rate after 9 items = %v, want 0", rate)
	}

	step(1, time.Second)
	if rate := r.State().Rate; rate != 1 {
		t.Fatalf("rate after 10 items = %v, want 1", rate)
	}

	// Faster items between multiples of ten leave the rate alone.
	for i := 11; i <= 15; i++ {
		step(1, 100*time.Millisecond)
		if rate := r.State().Rate; rate != 1 {
			t.Fatalf("rate after %d items = %v, want 1", i, rate)
		}
	}

	step(85, time.Second)
	want := 100 / 95.5
	if rate := r.State().Rate; math.Abs(rate-want) > 1e-9 {
		t.Fatalf("rate after 100 items = %v, want %v", rate, want)
	}

	// The window restarted at item 100; the next ten items alone set the rate.
	step(10, 500*time.Millisecond)
	if rate := r.State().Rate; rate != 2 {
		t.Errorf("rate after 110 items = %v, want 2", rate)
	}
	if got := testutil.ToFloat64(metrics.DimensionJobRate); got != 2 {
		t.Errorf("rate gauge = %v, want 2", got)
	}
}

func writePNG(t *testing.T, path string, w, h int) int64 {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

func TestLocalCachedURLs(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)
	r.cfg.CacheDir = t.TempDir()
	ctx := context.Background()

	// A cached file that already has an entry gets that entry's dimensions.
	owned := media.CacheFilename("https://example.com/orig.png", database.QualityLow)
	size := writePNG(t, filepath.Join(r.cfg.CacheDir, owned), 30, 20)
	entryID, err := db.UpsertPending(ctx, "https://example.com/orig.png", database.QualityLow)
	if err != nil {
		t.Fatalf("UpsertPending: %v", err)
	}
	if err := db.MarkCached(ctx, entryID, owned, size, 0, 0); err != nil {
		t.Fatalf("MarkCached: %v", err)
	}

	orphan := media.CacheFilename("https://example.com/other.png", database.QualityMedium)
	writePNG(t, filepath.Join(r.cfg.CacheDir, orphan), 12, 7)
	missing := media.CacheFilename("https://example.com/gone.jpg", database.QualityLow)

	ids := addPins(t, db,
		"/cached/"+owned,
		"/cached/"+orphan,
		"/cached/"+missing,
		"/cached/notes.txt",
	)

	state := runJob(t, r, Options{Continuous: true})

	if state.Success != 2 || state.Failed != 1 || state.Skipped != 1 {
		t.Errorf("Success/Failed/Skipped = %d/%d/%d, want 2/1/1", state.Success, state.Failed, state.Skipped)
	}
	if prober.callCount() != 0 {
		t.Errorf("probe calls = %d, want 0", prober.callCount())
	}

	entry := pinEntry(t, db, ids[0])
	if entry == nil || entry.ID != entryID {
		t.Fatalf("pin %d should link to entry %d, got %+v", ids[0], entryID, entry)
	}
	if entry.Width != 30 || entry.Height != 20 {
		t.Errorf("owned dims = %dx%d, want 30x20", entry.Width, entry.Height)
	}

	entry = pinEntry(t, db, ids[1])
	if entry == nil || entry.Width != 12 || entry.Height != 7 {
		t.Errorf("orphan entry = %+v, want 12x7", entry)
	}

	for _, e := range r.Activity().Entries {
		if e.PinID == ids[2] && (e.Error == nil || *e.Error != "file missing") {
			t.Errorf("missing file recorded as %+v, want file missing", e)
		}
	}
}

func TestLocalCacheName(t *testing.T) {
	valid := media.CacheFilename("https://example.com/a.jpg", database.QualityThumbnail)
	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"/cached/" + valid, valid, true},
		{"/cached/" + valid + "?v=2", valid, true},
		{"https://example.com/cached/" + valid, "", false},
		{"/cached/notes.txt", "", false},
		{"/cached/../" + valid, "", false},
		{"/static/images/placeholder.png", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, ok := localCacheName(tt.url)
			if got != tt.want || ok != tt.ok {
				t.Errorf("localCacheName(%q) = %q, %v, want %q, %v", tt.url, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	prober := newStubProber()
	r, db := setupResolver(t, prober)

	ids := addPins(t, db, "https://example.com/a.jpg", "https://example.com/b.jpg")
	state := runJob(t, r, Options{Continuous: true, DryRun: true})

	if !state.DryRun || state.Success != 2 {
		t.Errorf("DryRun/Success = %v/%d, want true/2", state.DryRun, state.Success)
	}
	if prober.callCount() != 2 {
		t.Errorf("probe calls = %d, want 2", prober.callCount())
	}
	for _, id := range ids {
		if entry := pinEntry(t, db, id); entry != nil {
			t.Errorf("pin %d should have no entry after a dry run, got %d", id, entry.ID)
		}
	}
}

func TestClearActivity(t *testing.T) {
	prober := newStubProber()
	prober.gate = make(chan struct{})
	prober.entered = make(chan struct{}, 1)
	r, db := setupResolver(t, prober)

	addPins(t, db, "https://example.com/a.jpg")
	if err := r.Start(Options{Continuous: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-prober.entered
	if err := r.ClearActivity(); !errors.Is(err, ErrJobRunning) {
		t.Errorf("ClearActivity() while running = %v, want ErrJobRunning", err)
	}
	close(prober.gate)
	r.Wait()

	if n := len(r.Activity().Entries); n != 1 {
		t.Fatalf("activity entries = %d, want 1", n)
	}
	if err := r.ClearActivity(); err != nil {
		t.Fatalf("ClearActivity: %v", err)
	}
	if n := len(r.Activity().Entries); n != 0 {
		t.Errorf("activity entries after clear = %d, want 0", n)
	}
}

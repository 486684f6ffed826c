package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"wincore.dev/engine/download"
	"wincore.dev/engine/model"
)

type fakeDiscoverer struct {
	latest model.BuildCoordinate
	found  bool
	err    error
	url    string
}

func (f *fakeDiscoverer) LatestFor(ctx context.Context, comp model.Component, branch model.Branch, hint model.BuildCoordinate, maxLookbackDays int) (model.BuildCoordinate, bool, error) {
	return f.latest, f.found, f.err
}

func (f *fakeDiscoverer) BuildURL(comp model.Component, branch model.Branch, coord model.BuildCoordinate) (string, error) {
	return f.url, nil
}

type fakeDownloader struct {
	result download.Result
	err    error
}

func (f *fakeDownloader) Download(ctx context.Context, layout download.Layout, coord model.BuildCoordinate, artifactURL, checksumHeader string) (download.Result, error) {
	return f.result, f.err
}

type fakeExtractor struct{ err error }

func (f *fakeExtractor) Extract(ctx context.Context, zipPath, destRoot string) error { return f.err }

type fakeTracking struct {
	mu      sync.Mutex
	prior   model.BuildTracking
	history []model.BuildHistoryEntry
	upserts []model.BuildTracking
}

func (f *fakeTracking) Tracking(ctx context.Context, componentID, branchID int64) (model.BuildTracking, bool, error) {
	return f.prior, !f.prior.Latest.IsZero(), nil
}

func (f *fakeTracking) UpsertTracking(ctx context.Context, t model.BuildTracking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, t)
	return nil
}

func (f *fakeTracking) AppendHistory(ctx context.Context, h model.BuildHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, h)
	return nil
}

type fakePruner struct {
	called bool
	pruned int
}

func (f *fakePruner) Prune(ctx context.Context, tuple model.Tuple, keep int) (int, error) {
	f.called = true
	return f.pruned, nil
}

type fakeActivity struct{ entries []model.ActivityLogEntry }

func (f *fakeActivity) Record(ctx context.Context, entry model.ActivityLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func testTuple() model.Tuple {
	return model.Tuple{
		Component: model.Component{ID: 1, GUID: "guid-1", Name: "demo"},
		Branch:    model.Branch{ID: 2, Name: "main"},
		Policy:    model.PollingConfig{IntervalSeconds: 60},
	}
}

func TestPipelineRunDownloadsNewBuild(t *testing.T) {
	tracking := &fakeTracking{}
	pruner := &fakePruner{}
	activity := &fakeActivity{}
	p := NewPipeline(PipelineConfig{
		Discoverer: &fakeDiscoverer{latest: model.BuildCoordinate{Date: "20260101", Sequence: 1}, found: true, url: "https://example/a.zip"},
		Downloader: &fakeDownloader{result: download.Result{CurrentPath: "/x/s/demo.zip", HistoryPath: "/x/s/history/20260101.1/demo.zip", SizeBytes: 10, Checksum: "abc"}},
		Extractor:  &fakeExtractor{},
		Tracking:   tracking,
		Retention:  pruner,
		Activity:   activity,
		BaseDrive:  "/base",
	})

	out, err := p.Run(context.Background(), testTuple(), "X-Checksum-Sha256", 7, 5, 5*time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.NewBuild || !out.Downloaded || !out.Extracted {
		t.Fatalf("expected outcome to record new build, download, extraction; got %+v", out)
	}

	if len(tracking.history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(tracking.history))
	}
	if !pruner.called {
		t.Fatal("expected retention to be invoked")
	}
	ops := make([]model.Operation, 0, len(activity.entries))
	for _, e := range activity.entries {
		if e.Level != model.LevelInfo {
			t.Fatalf("expected info-level entries only, got %+v", e)
		}
		ops = append(ops, e.Operation)
	}
	want := []model.Operation{model.OpPoll, model.OpDownload, model.OpExtraction}
	if len(ops) != len(want) {
		t.Fatalf("expected %v activity operations, got %v", want, ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("expected %v activity operations, got %v", want, ops)
		}
	}
}

func TestPipelineRunSkipsWhenAlreadyCurrent(t *testing.T) {
	coord := model.BuildCoordinate{Date: "20260101", Sequence: 1}
	tracking := &fakeTracking{prior: model.BuildTracking{Latest: coord, DownloadStatus: model.StatusCompleted}}
	downloader := &fakeDownloader{}
	activity := &fakeActivity{}
	p := NewPipeline(PipelineConfig{
		Discoverer: &fakeDiscoverer{latest: coord, found: true},
		Downloader: downloader,
		Extractor:  &fakeExtractor{},
		Tracking:   tracking,
		Retention:  &fakePruner{},
		Activity:   activity,
		BaseDrive:  "/base",
	})

	out, err := p.Run(context.Background(), testTuple(), "", 7, 5, 5*time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.NewBuild {
		t.Fatalf("expected no new build recorded, got %+v", out)
	}
	if len(tracking.history) != 0 {
		t.Fatalf("expected no new history entries, got %d", len(tracking.history))
	}
	if len(activity.entries) != 1 || activity.entries[0].Operation != model.OpPoll || activity.entries[0].Message != "no new build" {
		t.Fatalf("expected a single 'no new build' poll entry, got %+v", activity.entries)
	}
}

func TestPipelineRunHandlesNoBuildsFound(t *testing.T) {
	tracking := &fakeTracking{}
	p := NewPipeline(PipelineConfig{
		Discoverer: &fakeDiscoverer{found: false},
		Downloader: &fakeDownloader{},
		Extractor:  &fakeExtractor{},
		Tracking:   tracking,
		Retention:  &fakePruner{},
		BaseDrive:  "/base",
	})

	if _, err := p.Run(context.Background(), testTuple(), "", 7, 5, 5*time.Second, 5*time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tracking.upserts) != 1 {
		t.Fatalf("expected LastCheckAt bump recorded via upsert, got %d", len(tracking.upserts))
	}
}

func TestPipelineRunRecordsDownloadFailure(t *testing.T) {
	tracking := &fakeTracking{}
	activity := &fakeActivity{}
	p := NewPipeline(PipelineConfig{
		Discoverer: &fakeDiscoverer{latest: model.BuildCoordinate{Date: "20260101", Sequence: 1}, found: true, url: "https://example/a.zip"},
		Downloader: &fakeDownloader{err: errSentinel{}},
		Extractor:  &fakeExtractor{},
		Tracking:   tracking,
		Retention:  &fakePruner{},
		Activity:   activity,
		BaseDrive:  "/base",
	})

	if _, err := p.Run(context.Background(), testTuple(), "", 7, 5, 5*time.Second, 5*time.Second); err == nil {
		t.Fatal("expected Run to return the download error")
	}
	if len(activity.entries) != 2 {
		t.Fatalf("expected a poll entry plus a download failure entry, got %+v", activity.entries)
	}
	last := activity.entries[1]
	if last.Level != model.LevelError || last.Operation != model.OpDownload {
		t.Fatalf("expected an error-level download entry, got %+v", last)
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "boom" }

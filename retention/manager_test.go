package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"wincore.dev/engine/model"
)

type fakeHistoryStore struct {
	entries   []model.BuildHistoryEntry
	deletedID []int64
}

func (f *fakeHistoryStore) ActiveHistory(ctx context.Context, componentID, branchID int64) ([]model.BuildHistoryEntry, error) {
	return f.entries, nil
}

func (f *fakeHistoryStore) MarkHistoryDeleted(ctx context.Context, ids []int64) error {
	f.deletedID = append(f.deletedID, ids...)
	return nil
}

type fakeRecorder struct{ entries []model.ActivityLogEntry }

func (f *fakeRecorder) Record(ctx context.Context, entry model.ActivityLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func testTuple() model.Tuple {
	return model.Tuple{
		Component: model.Component{ID: 1, GUID: "guid-1", Name: "demo"},
		Branch:    model.Branch{ID: 1, Name: "main"},
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPruneKeepsOnlyNewestEntries(t *testing.T) {
	base := t.TempDir()
	var entries []model.BuildHistoryEntry
	for i, seq := range []int{3, 2, 1} {
		path := filepath.Join(base, "build", string(rune('a'+i))+".zip")
		writeFile(t, path)
		entries = append(entries, model.BuildHistoryEntry{
			ID:           int64(seq),
			ComponentID:  1,
			BranchID:     1,
			Coordinate:   model.BuildCoordinate{Date: "20260101", Sequence: seq},
			DownloadPath: path,
		})
	}
	store := &fakeHistoryStore{entries: entries}
	activity := &fakeRecorder{}

	pruned, err := New(store, activity, nil).Prune(context.Background(), testTuple(), 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned entry reported, got %d", pruned)
	}

	if len(store.deletedID) != 1 || store.deletedID[0] != 1 {
		t.Fatalf("expected only the oldest entry (id 1) marked deleted, got %v", store.deletedID)
	}
	if _, err := os.Stat(entries[2].DownloadPath); !os.IsNotExist(err) {
		t.Fatalf("expected oldest archive file removed")
	}
	if _, err := os.Stat(entries[0].DownloadPath); err != nil {
		t.Fatalf("expected newest archive file preserved: %v", err)
	}
	if len(activity.entries) != 1 || activity.entries[0].Operation != model.OpCleanup || activity.entries[0].Level != model.LevelInfo {
		t.Fatalf("expected one info cleanup activity entry, got %+v", activity.entries)
	}
}

func TestPruneNoopWhenUnderLimit(t *testing.T) {
	store := &fakeHistoryStore{entries: []model.BuildHistoryEntry{
		{ID: 1, Coordinate: model.BuildCoordinate{Date: "20260101", Sequence: 1}},
	}}
	activity := &fakeRecorder{}

	pruned, err := New(store, activity, nil).Prune(context.Background(), testTuple(), 5)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("expected 0 pruned entries reported, got %d", pruned)
	}
	if len(store.deletedID) != 0 {
		t.Fatalf("expected no deletions, got %v", store.deletedID)
	}
	if len(activity.entries) != 0 {
		t.Fatalf("expected no activity entries for a no-op sweep, got %+v", activity.entries)
	}
}

func TestPruneTreatsMissingFilesAsHarmless(t *testing.T) {
	store := &fakeHistoryStore{entries: []model.BuildHistoryEntry{
		{ID: 2, Coordinate: model.BuildCoordinate{Date: "20260102", Sequence: 1}, DownloadPath: "/nonexistent/path.zip"},
		{ID: 1, Coordinate: model.BuildCoordinate{Date: "20260101", Sequence: 1}, DownloadPath: "/nonexistent/older.zip"},
	}}

	if _, err := New(store, nil, nil).Prune(context.Background(), testTuple(), 1); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(store.deletedID) != 1 || store.deletedID[0] != 1 {
		t.Fatalf("expected entry id 1 marked deleted despite missing file, got %v", store.deletedID)
	}
}

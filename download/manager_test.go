package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wincore.dev/engine/errs"
	"wincore.dev/engine/model"
)

type fakeStreamer struct {
	body           string
	contentLength  int64
	checksumHeader string
	err            error
}

func (f *fakeStreamer) OpenStream(ctx context.Context, artifactURL, checksumHeader string) (io.ReadCloser, int64, string, error) {
	if f.err != nil {
		return nil, 0, "", f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), f.contentLength, f.checksumHeader, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func testLayout(base string) Layout {
	return Layout{BaseDrive: base, ComponentGUID: "guid-1", ComponentName: "demo"}
}

func TestDownloadWritesCurrentAndHistoryCopies(t *testing.T) {
	base := t.TempDir()
	body := "artifact-contents"
	m := New(&fakeStreamer{body: body, contentLength: int64(len(body)), checksumHeader: sha256Hex(body)})

	result, err := m.Download(context.Background(), testLayout(base), model.BuildCoordinate{Date: "20260101", Sequence: 1}, "https://example/artifact.zip", "X-Checksum-Sha256")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	current, err := os.ReadFile(result.CurrentPath)
	if err != nil || string(current) != body {
		t.Fatalf("current archive = %q, %v", current, err)
	}
	history, err := os.ReadFile(result.HistoryPath)
	if err != nil || string(history) != body {
		t.Fatalf("history archive = %q, %v", history, err)
	}
	if result.SizeBytes != int64(len(body)) {
		t.Fatalf("SizeBytes = %d, want %d", result.SizeBytes, len(body))
	}
	if result.Checksum != sha256Hex(body) {
		t.Fatalf("Checksum = %q, want %q", result.Checksum, sha256Hex(body))
	}
	if filepath.Base(result.HistoryPath) != "demo.zip" {
		t.Fatalf("unexpected history path: %s", result.HistoryPath)
	}
}

func TestDownloadRejectsSizeMismatch(t *testing.T) {
	base := t.TempDir()
	m := New(&fakeStreamer{body: "short", contentLength: 999})

	_, err := m.Download(context.Background(), testLayout(base), model.BuildCoordinate{Date: "20260101", Sequence: 1}, "https://example/artifact.zip", "")
	if errs.As(err) != errs.KindSizeMismatch {
		t.Fatalf("expected KindSizeMismatch, got %v", errs.As(err))
	}
	entries, _ := os.ReadDir(testLayout(base).SourceRoot())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("temp file %s was not cleaned up", e.Name())
		}
	}
}

func TestDownloadRejectsChecksumMismatch(t *testing.T) {
	base := t.TempDir()
	m := New(&fakeStreamer{body: "payload", contentLength: 7, checksumHeader: "deadbeef"})

	_, err := m.Download(context.Background(), testLayout(base), model.BuildCoordinate{Date: "20260101", Sequence: 1}, "https://example/artifact.zip", "X-Checksum-Sha256")
	if errs.As(err) != errs.KindChecksumMismatch {
		t.Fatalf("expected KindChecksumMismatch, got %v", errs.As(err))
	}
	if _, statErr := os.Stat(testLayout(base).CurrentArchivePath()); !os.IsNotExist(statErr) {
		t.Fatalf("current archive should not exist after checksum mismatch")
	}
}

func TestDownloadPropagatesStreamError(t *testing.T) {
	base := t.TempDir()
	wantErr := errs.New(errs.KindNotFound, "openStream", errors.New("404"))
	m := New(&fakeStreamer{err: wantErr})

	_, err := m.Download(context.Background(), testLayout(base), model.BuildCoordinate{Date: "20260101", Sequence: 1}, "https://example/artifact.zip", "")
	if errs.As(err) != errs.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", errs.As(err))
	}
}

package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"wincore.dev/engine/errs"
	"wincore.dev/engine/model"
)

// bufferSize bounds memory use while streaming an archive to disk.
const bufferSize = 64 * 1024

// Streamer is the subset of jfrogclient.Client the Download Manager needs,
// kept as an interface so pipeline tests can fake it without a real HTTP
// server.
type Streamer interface {
	OpenStream(ctx context.Context, artifactURL, checksumHeader string) (io.ReadCloser, int64, string, error)
}

// Manager streams archives to disk and verifies them.
type Manager struct {
	client Streamer
}

// New wraps a Streamer (normally a *jfrogclient.Client).
func New(client Streamer) *Manager {
	return &Manager{client: client}
}

// Result describes a completed download.
type Result struct {
	CurrentPath string
	HistoryPath string
	SizeBytes   int64
	Checksum    string
}

// EnsureLayout creates the component's on-disk tree if it doesn't exist
// yet. Idempotent.
func EnsureLayout(l Layout) error {
	for _, dir := range []string{l.SourceRoot(), filepath.Join(l.SourceRoot(), "history")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.New(errs.KindIO, "ensureLayout", err)
		}
	}
	return nil
}

// Download streams artifactURL to the layout's current-archive path, then
// copies the result into the history subtree, verifying size and
// (if present) the configured checksum header along the way. Both the
// staged temp file and the history copy use a random suffix so concurrent
// downloads for other tuples never collide before the atomic rename.
func (m *Manager) Download(ctx context.Context, l Layout, coord model.BuildCoordinate, artifactURL, checksumHeader string) (Result, error) {
	if err := EnsureLayout(l); err != nil {
		return Result{}, err
	}

	body, contentLength, expectedChecksum, err := m.client.OpenStream(ctx, artifactURL, checksumHeader)
	if err != nil {
		return Result{}, err
	}
	defer body.Close()

	tempPath := filepath.Join(l.SourceRoot(), fmt.Sprintf(".tmp-%s", uuid.NewString()))
	written, checksum, err := streamToFile(ctx, tempPath, body)
	if err != nil {
		os.Remove(tempPath)
		return Result{}, err
	}

	if contentLength >= 0 && written != contentLength {
		os.Remove(tempPath)
		return Result{}, errs.New(errs.KindSizeMismatch, "download",
			fmt.Errorf("got %d bytes, expected %d", written, contentLength))
	}
	if expectedChecksum != "" && !equalFoldHex(expectedChecksum, checksum) {
		os.Remove(tempPath)
		return Result{}, errs.New(errs.KindChecksumMismatch, "download",
			fmt.Errorf("response checksum %q does not match computed %q", expectedChecksum, checksum))
	}

	currentPath := l.CurrentArchivePath()
	if err := os.Rename(tempPath, currentPath); err != nil {
		os.Remove(tempPath)
		return Result{}, errs.New(errs.KindIO, "download", err)
	}

	historyPath := l.HistoryArchivePath(coord.String())
	if err := copyToHistory(currentPath, historyPath); err != nil {
		return Result{}, err
	}

	return Result{
		CurrentPath: currentPath,
		HistoryPath: historyPath,
		SizeBytes:   written,
		Checksum:    checksum,
	}, nil
}

func streamToFile(ctx context.Context, path string, body io.Reader) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, "", errs.New(errs.KindIO, "streamToFile", err)
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, bufferSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, "", errs.New(errs.KindCancelled, "streamToFile", err)
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return total, "", errs.New(errs.KindIO, "streamToFile", err)
			}
			hasher.Write(buf[:n])
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return total, "", errs.New(errs.KindTimeout, "streamToFile", readErr)
			}
			return total, "", errs.New(errs.KindTransient, "streamToFile", readErr)
		}
	}
	if err := f.Sync(); err != nil {
		return total, "", errs.New(errs.KindIO, "streamToFile", err)
	}
	return total, hex.EncodeToString(hasher.Sum(nil)), nil
}

func copyToHistory(currentPath, historyPath string) error {
	if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
		return errs.New(errs.KindIO, "copyToHistory", err)
	}
	src, err := os.Open(currentPath)
	if err != nil {
		return errs.New(errs.KindIO, "copyToHistory", err)
	}
	defer src.Close()

	tempPath := historyPath + fmt.Sprintf(".tmp-%s", uuid.NewString())
	dst, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.New(errs.KindIO, "copyToHistory", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tempPath)
		return errs.New(errs.KindIO, "copyToHistory", err)
	}
	dst.Close()
	if err := os.Rename(tempPath, historyPath); err != nil {
		os.Remove(tempPath)
		return errs.New(errs.KindIO, "copyToHistory", err)
	}
	return nil
}

func equalFoldHex(a, b string) bool {
	return len(a) == len(b) && hexEqual(a, b)
}

func hexEqual(a, b string) bool {
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'F' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'F' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

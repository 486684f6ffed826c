// Package extract unpacks a ZIP archive the download manager staged on
// disk into the canonical extraction tree, guarding against zip-slip path
// traversal, with typed errors and an atomic rename of the finished tree
// into place.
package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"wincore.dev/engine/errs"
)

// Manager unpacks archives into the canonical extraction layout.
type Manager struct{}

// New returns an Extraction Manager. It carries no state: every call is
// parameterized by the paths and context passed in.
func New() *Manager {
	return &Manager{}
}

// Extract unpacks zipPath into destRoot. It stages the unpacked tree in a
// sibling temp directory first, so a concurrent reader of destRoot never
// observes a partially-extracted build, then renames the temp directory
// into place. Any failure — corrupt archive, unsafe entry path, I/O error,
// context cancellation — leaves destRoot untouched and removes the temp
// directory.
func (m *Manager) Extract(ctx context.Context, zipPath, destRoot string) error {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		if errors.Is(err, zip.ErrInsecurePath) {
			archive.Close()
			return errs.New(errs.KindUnsafeEntry, "extract", err)
		}
		return errs.New(errs.KindCorruptArchive, "extract", err)
	}
	defer archive.Close()

	if err := os.MkdirAll(filepath.Dir(destRoot), 0o755); err != nil {
		return errs.New(errs.KindIO, "extract", err)
	}

	stagingRoot := destRoot + ".staging"
	if err := os.RemoveAll(stagingRoot); err != nil {
		return errs.New(errs.KindIO, "extract", err)
	}
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return errs.New(errs.KindIO, "extract", err)
	}

	if err := extractEntries(ctx, archive, stagingRoot); err != nil {
		os.RemoveAll(stagingRoot)
		return err
	}

	if err := os.RemoveAll(destRoot); err != nil {
		os.RemoveAll(stagingRoot)
		return errs.New(errs.KindIO, "extract", err)
	}
	if err := os.Rename(stagingRoot, destRoot); err != nil {
		os.RemoveAll(stagingRoot)
		return errs.New(errs.KindIO, "extract", err)
	}
	return nil
}

func extractEntries(ctx context.Context, archive *zip.ReadCloser, stagingRoot string) error {
	cleanRoot := filepath.Clean(stagingRoot)
	for _, f := range archive.File {
		if err := ctx.Err(); err != nil {
			return errs.New(errs.KindCancelled, "extract", err)
		}

		entryPath := filepath.Join(stagingRoot, f.Name)
		if !isWithinRoot(cleanRoot, entryPath) {
			return errs.New(errs.KindUnsafeEntry, "extract",
				fmt.Errorf("entry %q escapes extraction root", f.Name))
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(entryPath, 0o755); err != nil {
				return errs.New(errs.KindIO, "extract", err)
			}
			continue
		}

		if err := extractFile(f, entryPath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, entryPath string) error {
	if err := os.MkdirAll(filepath.Dir(entryPath), 0o755); err != nil {
		return errs.New(errs.KindIO, "extract", err)
	}

	dst, err := os.OpenFile(entryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return errs.New(errs.KindIO, "extract", err)
	}
	defer dst.Close()

	src, err := f.Open()
	if err != nil {
		return errs.New(errs.KindCorruptArchive, "extract", err)
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errs.New(errs.KindIO, "extract", err)
	}
	return nil
}

// isWithinRoot reports whether entryPath resolves to a location inside
// root once cleaned, rejecting the "../" zip-slip pattern.
func isWithinRoot(root, entryPath string) bool {
	clean := filepath.Clean(entryPath)
	return clean == root || strings.HasPrefix(clean, root+string(os.PathSeparator))
}

// Package scanner discovers ingestible documents under a directory
// tree for bulk ingestion. It skips hidden entries, applies exclusion
// patterns, and filters to supported media types.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docpipe/docpipe/internal/watcher"
)

// DefaultMaxFileSize is the default maximum file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// FileInfo contains metadata about a discovered document.
type FileInfo struct {
	// Path is relative to the scan root.
	Path      string
	AbsPath   string
	Size      int64
	ModTime   time.Time
	MediaType string
}

// Options configures a scan.
type Options struct {
	// RootDir is the directory to scan. Defaults to the working
	// directory.
	RootDir string

	// ExcludePatterns are glob patterns matched against the relative
	// path and the base name. Matching entries are skipped, and
	// matching directories are not descended into.
	ExcludePatterns []string

	// MaxFileSize in bytes (0 = 10MB default). Larger files are
	// reported as errors, not silently dropped.
	MaxFileSize int64
}

// Result is streamed from the scanner channel. Exactly one of File and
// Err is set.
type Result struct {
	File *FileInfo
	Err  error
}

// Scan walks the tree rooted at opts.RootDir and streams ingestible
// files as they are discovered. The channel is closed when the walk
// completes or ctx is cancelled.
func Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absRoot)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		walk(ctx, absRoot, opts.ExcludePatterns, maxSize, results)
	}()
	return results, nil
}

func walk(ctx context.Context, absRoot string, excludes []string, maxSize int64, results chan<- Result) {
	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			send(ctx, results, Result{Err: err})
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || rel == "." {
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded(rel, d.Name(), excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		mediaType, ok := watcher.MediaTypeFor(path)
		if !ok {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			send(ctx, results, Result{Err: statErr})
			return nil
		}
		if fi.Size() > maxSize {
			send(ctx, results, Result{Err: fmt.Errorf("%s: %d bytes exceeds limit of %d", rel, fi.Size(), maxSize)})
			return nil
		}

		send(ctx, results, Result{File: &FileInfo{
			Path:      rel,
			AbsPath:   path,
			Size:      fi.Size(),
			ModTime:   fi.ModTime(),
			MediaType: mediaType,
		}})
		return nil
	})
}

// excluded reports whether rel or its base name matches any pattern.
// Bad patterns never match.
func excluded(rel, base string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

func send(ctx context.Context, results chan<- Result, r Result) {
	select {
	case results <- r:
	case <-ctx.Done():
	}
}

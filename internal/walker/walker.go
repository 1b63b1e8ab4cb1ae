// Package walker finds the documents a batch ingest should read.
package walker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ziadkadry99/biblioteca/internal/extract"
)

// DefaultMaxFileSize matches the upload limit of the HTTP API (50 MB).
const DefaultMaxFileSize int64 = 50 << 20

// IgnoreFile lists patterns, one per line, excluded below the directory
// holding it.
const IgnoreFile = ".bibliotecaignore"

// FileInfo holds metadata about a single document found during traversal.
type FileInfo struct {
	Path        string // Absolute path on disk.
	RelPath     string // Path relative to the root directory.
	Size        int64
	Format      extract.Format
	ContentHash string // SHA-256 hex digest of the file bytes.
}

// Config controls the behaviour of Walk and Expand.
type Config struct {
	RootDir     string
	Include     []string // Glob patterns; only matching files are included.
	Exclude     []string // Glob patterns; matching files are excluded.
	MaxFileSize int64    // Larger files are skipped (0 = use default).
}

// Walk traverses the directory tree rooted at cfg.RootDir and returns every
// document with a supported extension that passes filtering, sorted by
// relative path. Patterns in a root IgnoreFile are honoured.
func Walk(cfg Config) ([]FileInfo, error) {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root: %w", err)
	}

	ignored := loadIgnoreFile(filepath.Join(root, IgnoreFile))

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Skip entries we cannot read instead of aborting.
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != root && shouldExcludeDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || isHidden(name) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if MatchesExclude(relPath, ignored) {
			return nil
		}
		if !MatchesInclude(relPath, cfg.Include) || MatchesExclude(relPath, cfg.Exclude) {
			return nil
		}

		fi, ok := inspect(path, cfg.MaxFileSize)
		if !ok {
			return nil
		}
		fi.RelPath = filepath.ToSlash(relPath)
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walker: traversal: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// Expand resolves command line arguments into documents. Each argument is a
// file, a directory (walked recursively) or a doublestar glob such as
// "docs/**/*.pdf". Unsupported files named explicitly are an error; those
// reached by a directory or glob are skipped. Duplicates are dropped.
func Expand(args []string, cfg Config) ([]FileInfo, error) {
	seen := make(map[string]bool)
	var out []FileInfo
	add := func(fi FileInfo) {
		if !seen[fi.Path] {
			seen[fi.Path] = true
			out = append(out, fi)
		}
	}

	for _, arg := range args {
		st, err := os.Stat(arg)
		switch {
		case err == nil && st.IsDir():
			dirCfg := cfg
			dirCfg.RootDir = arg
			files, err := Walk(dirCfg)
			if err != nil {
				return nil, err
			}
			for _, fi := range files {
				add(fi)
			}

		case err == nil:
			if _, ferr := extract.FormatFromFilename(arg); ferr != nil {
				return nil, fmt.Errorf("%s: %w", arg, ferr)
			}
			fi, ok := inspect(arg, cfg.MaxFileSize)
			if !ok {
				return nil, fmt.Errorf("%s: unreadable or larger than the size limit", arg)
			}
			fi.RelPath = filepath.ToSlash(arg)
			add(fi)

		case errors.Is(err, fs.ErrNotExist) && doublestar.ValidatePattern(filepath.ToSlash(arg)):
			matches, gerr := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if gerr != nil {
				return nil, fmt.Errorf("expanding %q: %w", arg, gerr)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no files match %q", arg)
			}
			for _, m := range matches {
				if isHidden(filepath.Base(m)) || MatchesExclude(m, cfg.Exclude) {
					continue
				}
				if fi, ok := inspect(m, cfg.MaxFileSize); ok {
					fi.RelPath = filepath.ToSlash(m)
					add(fi)
				}
			}

		default:
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}
	}
	return out, nil
}

// inspect stats and hashes a supported document. ok is false for files that
// should be skipped.
func inspect(path string, maxSize int64) (FileInfo, bool) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	format, err := extract.FormatFromFilename(path)
	if err != nil {
		return FileInfo{}, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, false
	}
	info, err := os.Stat(abs)
	if err != nil || info.Size() == 0 || info.Size() > maxSize {
		return FileInfo{}, false
	}
	hash, err := hashFile(abs)
	if err != nil {
		return FileInfo{}, false
	}
	return FileInfo{Path: abs, Size: info.Size(), Format: format, ContentHash: hash}, true
}

// hashFile computes the SHA-256 digest of the given file.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// loadIgnoreFile returns the non-empty, non-comment lines of path.
func loadIgnoreFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimSuffix(line, "/"), strings.TrimSuffix(line, "/")+"/**")
	}
	return patterns
}

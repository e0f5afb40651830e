package database

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// filesAdapter snapshots file trees selected by glob patterns into a gzipped
// tar archive. The include list of the instance holds the patterns; a `**`
// segment makes a pattern recursive. Archive entries preserve absolute paths
// (stored without the leading slash, tar convention), so restoring into `/`
// reconstructs the original layout.
type filesAdapter struct {
	cfg    InstanceConfig
	logger *zap.Logger
}

func newFilesAdapter(cfg InstanceConfig, logger *zap.Logger) *filesAdapter {
	return &filesAdapter{cfg: cfg, logger: logger.Named("files")}
}

// Databases returns the configured glob patterns.
func (a *filesAdapter) Databases(ctx context.Context) ([]string, error) {
	return append([]string(nil), a.cfg.Include...), nil
}

// TestConnection reports whether every pattern's static prefix exists.
func (a *filesAdapter) TestConnection(ctx context.Context) bool {
	for _, pattern := range a.cfg.Include {
		if _, err := os.Stat(patternRoot(pattern)); err != nil {
			a.logger.Warn("pattern root missing",
				zap.String("pattern", pattern), zap.Error(err))
			return false
		}
	}
	return true
}

// BackupDatabase archives every regular file matched by pattern into a
// gzipped tar at outPath. Files that disappear between expansion and
// archiving produce per-file warnings, not failures.
func (a *filesAdapter) BackupDatabase(ctx context.Context, pattern, outPath string) error {
	matches, err := a.expand(pattern)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		a.logger.Warn("pattern matched no files", zap.String("pattern", pattern))
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("database: failed to create archive: %w", err)
	}

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	var werr error
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			werr = err
			break
		}
		if err := a.addFile(tw, path); err != nil {
			a.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
		}
	}

	for _, closer := range []io.Closer{tw, gz, out} {
		if err := closer.Close(); werr == nil {
			werr = err
		}
	}
	if werr != nil {
		os.Remove(outPath)
		return fmt.Errorf("database: archive of %s failed: %w", pattern, werr)
	}
	return nil
}

// RestoreDatabase extracts the archive at inPath into target ("" means "/").
func (a *filesAdapter) RestoreDatabase(ctx context.Context, target, inPath string) error {
	if target == "" {
		target = "/"
	}

	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("database: failed to open archive: %w", err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("database: archive is not gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("database: failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dst := filepath.Join(target, filepath.Clean("/"+hdr.Name))
		if !strings.HasPrefix(dst, filepath.Clean(target)+string(os.PathSeparator)) &&
			dst != filepath.Clean(target) {
			return fmt.Errorf("database: archive entry %q escapes target directory", hdr.Name)
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("database: failed to create %s: %w", filepath.Dir(dst), err)
		}

		f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return fmt.Errorf("database: failed to create %s: %w", dst, err)
		}
		_, cpErr := io.Copy(f, tr) //nolint:gosec // local archive produced by this tool
		if err := f.Close(); cpErr == nil {
			cpErr = err
		}
		if cpErr != nil {
			return fmt.Errorf("database: failed to extract %s: %w", hdr.Name, cpErr)
		}
	}
}

func (a *filesAdapter) BackupCommand(pattern, outPath string) string {
	return fmt.Sprintf("tar -czf %s %s", outPath, pattern)
}

func (a *filesAdapter) Close() error { return nil }

// expand resolves a glob pattern to regular file paths. Patterns with a `**`
// segment walk the static prefix recursively; the remainder after `**` (if
// any) is matched against file base names.
func (a *filesAdapter) expand(pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("database: bad glob %q: %w", pattern, err)
		}
		var files []string
		for _, m := range matches {
			if st, err := os.Stat(m); err == nil && st.Mode().IsRegular() {
				files = append(files, m)
			}
		}
		return files, nil
	}

	root := patternRoot(pattern)
	tail := pattern[strings.Index(pattern, "**")+2:]
	tail = strings.TrimPrefix(tail, string(os.PathSeparator))

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			a.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if tail != "" {
			ok, err := filepath.Match(tail, d.Name())
			if err != nil || !ok {
				return err
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database: walk of %s failed: %w", root, err)
	}
	return files, nil
}

func (a *filesAdapter) addFile(tw *tar.Writer, path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("not a regular file")
	}

	hdr, err := tar.FileInfoHeader(st, "")
	if err != nil {
		return err
	}
	// Store the absolute path minus the leading slash (tar convention).
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	hdr.Name = strings.TrimPrefix(abs, string(os.PathSeparator))

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// patternRoot returns the longest static (glob-free) directory prefix of a
// pattern.
func patternRoot(pattern string) string {
	sep := string(os.PathSeparator)
	segments := strings.Split(pattern, sep)
	var root []string
	for _, seg := range segments {
		if strings.ContainsAny(seg, "*?[") {
			break
		}
		root = append(root, seg)
	}
	joined := strings.Join(root, sep)
	if joined == "" {
		return sep
	}
	return joined
}

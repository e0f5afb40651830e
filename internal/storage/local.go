package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Local stores artifacts as plain files under a base directory. Object names
// map directly to file names; nested names are not supported.
type Local struct {
	base string
}

// NewLocal creates the base directory if needed and returns a Local backend.
func NewLocal(base string) (*Local, error) {
	if base == "" {
		return nil, errors.New("storage: local backend requires a path")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create %s: %w", base, err)
	}
	return &Local{base: base}, nil
}

func (l *Local) path(name string) string {
	return filepath.Join(l.base, filepath.Base(name))
}

func (l *Local) Upload(ctx context.Context, localPath, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return copyFile(localPath, l.path(name))
}

func (l *Local) Download(ctx context.Context, name, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := copyFile(l.path(name), localPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	return nil
}

func (l *Local) List(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(l.base)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to read %s: %w", l.base, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if pattern != "" {
			ok, err := filepath.Match(pattern, e.Name())
			if err != nil {
				return nil, fmt.Errorf("storage: bad pattern %q: %w", pattern, err)
			}
			if !ok {
				continue
			}
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (l *Local) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: failed to delete %s: %w", name, err)
	}
	return nil
}

func (l *Local) DeleteMany(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		if err := l.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Local) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.path(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("storage: failed to stat %s: %w", name, err)
}

func (l *Local) Size(ctx context.Context, name string) (int64, error) {
	st, err := l.stat(ctx, name)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (l *Local) ModTime(ctx context.Context, name string) (time.Time, error) {
	st, err := l.stat(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	return st.ModTime(), nil
}

func (l *Local) TotalBytes(ctx context.Context) (int64, error) {
	names, err := l.List(ctx, "")
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		if st, err := os.Stat(l.path(name)); err == nil {
			total += st.Size()
		}
	}
	return total, nil
}

func (l *Local) Location(name string) string {
	return l.path(name)
}

func (l *Local) stat(ctx context.Context, name string) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := os.Stat(l.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("storage: failed to stat %s: %w", name, err)
	}
	return st, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	_, cpErr := io.Copy(out, in)
	if err := out.Close(); cpErr == nil {
		cpErr = err
	}
	if cpErr != nil {
		os.Remove(dst)
	}
	return cpErr
}

// Package compress provides streaming compression for backup artifacts.
// The method is auto-detected from the destination suffix when compressing
// and from the source suffix when decompressing: .gz → gzip, .bz2 → bzip2,
// .zip → zip.
package compress

import (
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
)

// Method identifies a compression codec.
type Method string

const (
	Gzip  Method = "gzip"
	Bzip2 Method = "bzip2"
	Zip   Method = "zip"
	None  Method = ""
)

// ErrUnknownMethod is returned when neither an explicit method nor the file
// suffix identifies a codec.
var ErrUnknownMethod = errors.New("compress: unknown compression method")

// Detect maps a file path to its compression method by suffix.
func Detect(path string) Method {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return Gzip
	case strings.HasSuffix(path, ".bz2"):
		return Bzip2
	case strings.HasSuffix(path, ".zip"):
		return Zip
	default:
		return None
	}
}

// Ext returns the artifact suffix for a method, including the leading dot.
func (m Method) Ext() string {
	switch m {
	case Gzip:
		return ".gz"
	case Bzip2:
		return ".bz2"
	case Zip:
		return ".zip"
	default:
		return ""
	}
}

// ParseMethod normalizes a configured method name. The empty string means
// no compression.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "bzip2", "bz2":
		return Bzip2, nil
	case "zip":
		return Zip, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Compress writes src compressed to dst. When method is None it is detected
// from the dst suffix.
func Compress(src, dst string, method Method) error {
	if method == None {
		if method = Detect(dst); method == None {
			return fmt.Errorf("%w: cannot detect from %q", ErrUnknownMethod, dst)
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("compress: failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("compress: failed to create destination: %w", err)
	}

	var werr error
	switch method {
	case Gzip:
		gz := gzip.NewWriter(out)
		if _, err := io.Copy(gz, in); err != nil {
			werr = err
		} else {
			werr = gz.Close()
		}
	case Bzip2:
		bz, err := bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			werr = err
		} else if _, err := io.Copy(bz, in); err != nil {
			werr = err
		} else {
			werr = bz.Close()
		}
	case Zip:
		zw := zip.NewWriter(out)
		hdr := &zip.FileHeader{Name: filepath.Base(src), Method: zip.Deflate}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			werr = err
		} else if _, err := io.Copy(w, in); err != nil {
			werr = err
		} else {
			werr = zw.Close()
		}
	default:
		werr = fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(dst)
		return fmt.Errorf("compress: %s of %s failed: %w", method, src, werr)
	}
	return nil
}

// Decompress writes the decompressed contents of src to dst. When method is
// None it is detected from the src suffix. For zip archives the first entry
// is extracted.
func Decompress(src, dst string, method Method) error {
	if method == None {
		if method = Detect(src); method == None {
			return fmt.Errorf("%w: cannot detect from %q", ErrUnknownMethod, src)
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("compress: failed to create destination: %w", err)
	}

	var werr error
	switch method {
	case Gzip:
		werr = decompressGzip(src, out)
	case Bzip2:
		werr = decompressBzip2(src, out)
	case Zip:
		werr = decompressZip(src, out)
	default:
		werr = fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(dst)
		return fmt.Errorf("compress: %s decompression of %s failed: %w", method, src, werr)
	}
	return nil
}

func decompressGzip(src string, out io.Writer) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()

	_, err = io.Copy(out, gz) //nolint:gosec // local artifact, size bounded by disk
	return err
}

func decompressBzip2(src string, out io.Writer) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	bz, err := bzip2.NewReader(in, nil)
	if err != nil {
		return err
	}
	defer bz.Close()

	_, err = io.Copy(out, bz)
	return err
}

func decompressZip(src string, out io.Writer) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	if len(zr.File) == 0 {
		return errors.New("archive contains no entries")
	}

	f, err := zr.File[0].Open()
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(out, f) //nolint:gosec // local artifact, size bounded by disk
	return err
}

// Ratio returns original/compressed size. ok is false when either file is
// missing or the compressed artifact is zero bytes.
func Ratio(original, compressed string) (float64, bool) {
	ost, err := os.Stat(original)
	if err != nil {
		return 0, false
	}
	cst, err := os.Stat(compressed)
	if err != nil || cst.Size() == 0 {
		return 0, false
	}
	return float64(ost.Size()) / float64(cst.Size()), true
}

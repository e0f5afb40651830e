package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

func newLocalBackend(t *testing.T) (*Local, string) {
	t.Helper()
	base := t.TempDir()
	l, err := NewLocal(base)
	if err != nil {
		t.Fatal(err)
	}
	return l, base
}

func stage(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "artifact.sql.gz")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLocalUploadDownload(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	l, base := newLocalBackend(t)

	src := stage(t, "dump data")
	g.Expect(l.Upload(ctx, src, "20260115_120000_mysql_db1.gz")).To(Succeed())

	exists, err := l.Exists(ctx, "20260115_120000_mysql_db1.gz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(exists).To(BeTrue())

	target := filepath.Join(t.TempDir(), "restored.gz")
	g.Expect(l.Download(ctx, "20260115_120000_mysql_db1.gz", target)).To(Succeed())

	got, err := os.ReadFile(target)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(got)).To(Equal("dump data"))

	g.Expect(l.Location("20260115_120000_mysql_db1.gz")).
		To(Equal(filepath.Join(base, "20260115_120000_mysql_db1.gz")))
}

func TestLocalDownloadMissing(t *testing.T) {
	g := NewWithT(t)
	l, _ := newLocalBackend(t)
	err := l.Download(context.Background(), "nope.gz", filepath.Join(t.TempDir(), "x"))
	g.Expect(err).To(MatchError(ErrNotFound))
}

func TestLocalListSortedWithPattern(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	l, _ := newLocalBackend(t)

	src := stage(t, "x")
	for _, name := range []string{"b_mysql.gz", "a_mysql.gz", "c_postgresql.gz", "notes.txt"} {
		g.Expect(l.Upload(ctx, src, name)).To(Succeed())
	}

	all, err := l.List(ctx, "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(all).To(Equal([]string{"a_mysql.gz", "b_mysql.gz", "c_postgresql.gz", "notes.txt"}))

	gz, err := l.List(ctx, "*_mysql.gz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(gz).To(Equal([]string{"a_mysql.gz", "b_mysql.gz"}))
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	l, _ := newLocalBackend(t)

	src := stage(t, "x")
	g.Expect(l.Upload(ctx, src, "a.gz")).To(Succeed())
	g.Expect(l.Delete(ctx, "a.gz")).To(Succeed())
	// A second delete observing the object gone must also succeed.
	g.Expect(l.Delete(ctx, "a.gz")).To(Succeed())
}

func TestLocalSizeModTimeTotal(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	l, _ := newLocalBackend(t)

	src := stage(t, "12345")
	g.Expect(l.Upload(ctx, src, "a.gz")).To(Succeed())
	g.Expect(l.Upload(ctx, src, "b.gz")).To(Succeed())

	size, err := l.Size(ctx, "a.gz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(size).To(Equal(int64(5)))

	mt, err := l.ModTime(ctx, "a.gz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(mt).NotTo(BeZero())

	total, err := l.TotalBytes(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(total).To(Equal(int64(10)))

	_, err = l.Size(ctx, "missing.gz")
	g.Expect(err).To(MatchError(ErrNotFound))
}

func TestLocalDeleteMany(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	l, _ := newLocalBackend(t)

	src := stage(t, "x")
	g.Expect(l.Upload(ctx, src, "a.gz")).To(Succeed())
	g.Expect(l.Upload(ctx, src, "b.gz")).To(Succeed())

	g.Expect(l.DeleteMany(ctx, []string{"a.gz", "b.gz", "never-there.gz"})).To(Succeed())
	names, err := l.List(ctx, "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(names).To(BeEmpty())
}

func TestFactory(t *testing.T) {
	g := NewWithT(t)

	b, err := New(Config{Type: KindLocal, Path: t.TempDir()})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(b).To(BeAssignableToTypeOf(&Local{}))

	_, err = New(Config{Type: "ftp"})
	g.Expect(err).To(HaveOccurred())

	_, err = New(Config{Type: KindS3})
	g.Expect(err).To(HaveOccurred()) // missing bucket
}

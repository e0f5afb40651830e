package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	. "github.com/onsi/gomega"
)

// fakeS3 is an in-memory s3API double. Listing returns one page per call to
// exercise continuation-token paging.
type fakeS3 struct {
	objects   map[string][]byte
	modified  map[string]time.Time
	pageSize  int
	lifecycle *s3.PutBucketLifecycleConfigurationInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		modified: make(map[string]time.Time),
		pageSize: 2,
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.modified[aws.ToString(in.Key)] = time.Now()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	mod := f.modified[aws.ToString(in.Key)]
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		LastModified:  aws.Time(mod),
	}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for i, k := range keys {
			if k == tok {
				start = i
				break
			}
		}
	}

	end := start + f.pageSize
	truncated := end < len(keys)
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(truncated)}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k]))),
		})
	}
	if truncated {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (f *fakeS3) PutBucketLifecycleConfiguration(ctx context.Context, in *s3.PutBucketLifecycleConfigurationInput, _ ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	f.lifecycle = in
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

func TestS3SetLifecycleExpiry(t *testing.T) {
	g := NewWithT(t)
	fake := newFakeS3()
	backend := newS3WithClient(fake, "backups", "prod")

	g.Expect(backend.SetLifecycleExpiry(context.Background(), 14)).To(Succeed())
	g.Expect(fake.lifecycle).NotTo(BeNil())

	rules := fake.lifecycle.LifecycleConfiguration.Rules
	g.Expect(rules).To(HaveLen(1))
	g.Expect(rules[0].Status).To(Equal(types.ExpirationStatusEnabled))
	g.Expect(aws.ToInt32(rules[0].Expiration.Days)).To(Equal(int32(14)))

	// The filter is the prefix member of the tagged union.
	prefix, ok := rules[0].Filter.(*types.LifecycleRuleFilterMemberPrefix)
	g.Expect(ok).To(BeTrue())
	g.Expect(prefix.Value).To(Equal("prod"))
}

func TestS3UploadDownloadRoundTrip(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	fake := newFakeS3()
	backend := newS3WithClient(fake, "backups", "prod")

	src := filepath.Join(t.TempDir(), "dump.gz")
	g.Expect(os.WriteFile(src, []byte("dump bytes"), 0o644)).To(Succeed())

	g.Expect(backend.Upload(ctx, src, "20260115_120000_mysql_db1.gz")).To(Succeed())
	g.Expect(fake.objects).To(HaveKey("prod/20260115_120000_mysql_db1.gz"))

	target := filepath.Join(t.TempDir(), "out.gz")
	g.Expect(backend.Download(ctx, "20260115_120000_mysql_db1.gz", target)).To(Succeed())
	got, err := os.ReadFile(target)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(got)).To(Equal("dump bytes"))

	g.Expect(backend.Location("20260115_120000_mysql_db1.gz")).
		To(Equal("s3://backups/prod/20260115_120000_mysql_db1.gz"))
}

func TestS3DownloadMissing(t *testing.T) {
	g := NewWithT(t)
	backend := newS3WithClient(newFakeS3(), "backups", "")
	err := backend.Download(context.Background(), "nope.gz", filepath.Join(t.TempDir(), "x"))
	g.Expect(err).To(MatchError(ErrNotFound))
}

func TestS3ListPagesAndFilters(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	fake := newFakeS3()
	backend := newS3WithClient(fake, "backups", "")

	src := filepath.Join(t.TempDir(), "dump.gz")
	g.Expect(os.WriteFile(src, []byte("x"), 0o644)).To(Succeed())
	for _, name := range []string{"a_mysql.gz", "b_mysql.gz", "c_mysql.gz", "d_postgresql.gz", "e_mysql.gz"} {
		g.Expect(backend.Upload(ctx, src, name)).To(Succeed())
	}

	// Five objects with a page size of two forces three pages.
	all, err := backend.List(ctx, "")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(all).To(HaveLen(5))

	mysql, err := backend.List(ctx, "*_mysql.gz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(mysql).To(Equal([]string{"a_mysql.gz", "b_mysql.gz", "c_mysql.gz", "e_mysql.gz"}))

	total, err := backend.TotalBytes(ctx)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(total).To(Equal(int64(5)))
}

func TestS3ExistsSizeDelete(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	fake := newFakeS3()
	backend := newS3WithClient(fake, "backups", "")

	src := filepath.Join(t.TempDir(), "dump.gz")
	g.Expect(os.WriteFile(src, []byte("12345"), 0o644)).To(Succeed())
	g.Expect(backend.Upload(ctx, src, "a.gz")).To(Succeed())

	ok, err := backend.Exists(ctx, "a.gz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())

	size, err := backend.Size(ctx, "a.gz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(size).To(Equal(int64(5)))

	g.Expect(backend.Delete(ctx, "a.gz")).To(Succeed())
	ok, err = backend.Exists(ctx, "a.gz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeFalse())

	_, err = backend.Size(ctx, "a.gz")
	g.Expect(err).To(MatchError(ErrNotFound))
}

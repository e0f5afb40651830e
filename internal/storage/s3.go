package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of the S3 client used by the backend. Narrowed to an
// interface so tests can substitute a fake.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutBucketLifecycleConfiguration(ctx context.Context, in *s3.PutBucketLifecycleConfigurationInput, opts ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
}

// S3 stores artifacts in an S3-compatible bucket under an optional prefix.
type S3 struct {
	client  s3API
	presign *s3.PresignClient // nil when a fake client is injected
	bucket  string
	prefix  string
}

// NewS3 builds the backend. Static credentials from config take precedence;
// without them the standard AWS credential chain (environment, shared config,
// instance role) is used. A custom endpoint with path-style addressing
// supports MinIO and other S3-compatible stores.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: s3 backend requires a bucket")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:       region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("storage: failed to load aws credentials: %w", err)
		}
		opts.Credentials = awsCfg.Credentials
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	client := s3.New(opts)
	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// newS3WithClient is the test constructor.
func newS3WithClient(client s3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3) key(name string) string {
	name = filepath.Base(name)
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3) Upload(ctx context.Context, localPath, name string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("storage: failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("storage: s3 upload of %s failed: %w", name, err)
	}
	return nil
}

func (s *S3) Download(ctx context.Context, name, localPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("storage: s3 download of %s failed: %w", name, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("storage: failed to create target directory: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("storage: failed to create %s: %w", localPath, err)
	}

	_, cpErr := io.Copy(f, out.Body)
	if err := f.Close(); cpErr == nil {
		cpErr = err
	}
	if cpErr != nil {
		os.Remove(localPath)
		return fmt.Errorf("storage: s3 download of %s failed: %w", name, cpErr)
	}
	return nil
}

func (s *S3) List(ctx context.Context, pattern string) ([]string, error) {
	var names []string
	var token *string

	// Page through the bucket; continuation tokens stay internal.
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: s3 list failed: %w", err)
		}

		for _, obj := range out.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if pattern != "" {
				ok, err := path.Match(pattern, name)
				if err != nil {
					return nil, fmt.Errorf("storage: bad pattern %q: %w", pattern, err)
				}
				if !ok {
					continue
				}
			}
			names = append(names, name)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Strings(names)
	return names, nil
}

func (s *S3) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("storage: s3 delete of %s failed: %w", name, err)
	}
	return nil
}

func (s *S3) DeleteMany(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		if err := s.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.head(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *S3) Size(ctx context.Context, name string) (int64, error) {
	head, err := s.head(ctx, name)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(head.ContentLength), nil
}

func (s *S3) ModTime(ctx context.Context, name string) (time.Time, error) {
	head, err := s.head(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	return aws.ToTime(head.LastModified), nil
}

func (s *S3) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return 0, fmt.Errorf("storage: s3 list failed: %w", err)
		}
		for _, obj := range out.Contents {
			total += aws.ToInt64(obj.Size)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return total, nil
}

func (s *S3) Location(name string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(name))
}

// PresignedURL returns a time-limited GET URL for an object.
func (s *S3) PresignedURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if s.presign == nil {
		return "", errors.New("storage: presigning unavailable")
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("storage: presign of %s failed: %w", name, err)
	}
	return req.URL, nil
}

// SetLifecycleExpiry installs a bucket lifecycle rule expiring objects under
// the backend prefix after the given number of days.
func (s *S3) SetLifecycleExpiry(ctx context.Context, days int32) error {
	_, err := s.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(s.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{{
				ID:     aws.String("vya-artifact-expiry"),
				Status: types.ExpirationStatusEnabled,
				Filter: &types.LifecycleRuleFilterMemberPrefix{Value: s.prefix},
				Expiration: &types.LifecycleExpiration{
					Days: aws.Int32(days),
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("storage: failed to set lifecycle policy: %w", err)
	}
	return nil
}

func (s *S3) head(ctx context.Context, name string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("storage: s3 head of %s failed: %w", name, err)
	}
	return out, nil
}

package archive

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/avaropoint/camlink/internal/config"
	"github.com/avaropoint/camlink/internal/store"
)

// putObjectAPI is the slice of *s3.Client the uploader needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes media to an S3 or S3-compatible bucket.
type S3Uploader struct {
	client putObjectAPI
	bucket string
}

// NewS3Uploader builds a client from the archive config. An empty
// access key sends unsigned requests; a non-empty endpoint switches to
// path-style addressing for MinIO and similar stores.
func NewS3Uploader(cfg config.ArchiveConfig) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: aws.AnonymousCredentials{},
	}
	if cfg.AccessKey != "" {
		access, secret := cfg.AccessKey, cfg.SecretKey
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: access, SecretAccessKey: secret, Source: "camlink-config"}, nil
			}))
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return &S3Uploader{client: s3.New(opts), bucket: cfg.Bucket}, nil
}

// contentType maps a media kind to its MIME type.
func contentType(kind string) string {
	switch kind {
	case "image":
		return "image/jpeg"
	case "video":
		return "video/x-motion-jpeg"
	default:
		return "application/octet-stream"
	}
}

func (u *S3Uploader) Upload(ctx context.Context, key, localPath string, m store.MediaRecord) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(m.Kind)),
		Metadata: map[string]string{
			"camlink-id":     m.ID,
			"camlink-digest": m.Digest,
			"camlink-taken":  m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

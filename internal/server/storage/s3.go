package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/contractvault/internal/timex"
)

// S3Config describes one S3-compatible disk (AWS or MinIO).
type S3Config struct {
	Name      string
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// RetentionYears > 0 turns the disk into WORM storage: every object is
	// written with a COMPLIANCE object lock until now + RetentionYears.
	// The bucket must have object lock enabled.
	RetentionYears int
}

// s3API is the subset of *s3.Client used by S3Disk.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Disk stores objects in a single bucket.
type S3Disk struct {
	cfg    S3Config
	client s3API
	now    func() time.Time
}

// NewS3Disk builds the AWS client with static credentials and a custom
// endpoint (path-style, as MinIO expects).
func NewS3Disk(ctx context.Context, c S3Config) (*S3Disk, error) {
	if c.Bucket == "" {
		return nil, fmt.Errorf("disk %q: bucket is required", c.Name)
	}

	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Disk{cfg: c, client: client, now: time.Now}, nil
}

func (d *S3Disk) Name() string { return d.cfg.Name }
func (d *S3Disk) WORM() bool   { return d.cfg.RetentionYears > 0 }

func (d *S3Disk) Put(ctx context.Context, path string, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:            aws.String(d.cfg.Bucket),
		Key:               aws.String(path),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ContentType:       aws.String("application/octet-stream"),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}

	if d.WORM() {
		in.ObjectLockMode = types.ObjectLockModeCompliance
		in.ObjectLockRetainUntilDate = aws.Time(timex.AddYears(d.now(), d.cfg.RetentionYears))
	}

	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", d.cfg.Bucket, path, err)
	}
	return nil
}

func (d *S3Disk) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s/%s: %w", d.cfg.Bucket, path, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s/%s: %w", d.cfg.Bucket, path, err)
	}
	return b, nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"github.com/JunerLee/new-tab/internal/engine"
)

// S3Config holds the connection parameters for an S3 or S3-compatible sync
// bucket. Endpoint and UsePathStyle cover MinIO-style stores.
type S3Config struct {
	Name            string
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Compress        bool
}

// s3API is the slice of the S3 client the provider drives. Tests substitute
// a fake.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// s3Uploader is what the provider needs of manager.Uploader.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Provider stores snapshots as bucket objects under one key prefix, using
// the same object naming as the WebDAV provider.
type S3Provider struct {
	name     string
	api      s3API
	uploader s3Uploader
	bucket   string
	prefix   string
	compress bool
	clock    engine.Clock
	logger   engine.Logger
}

// NewS3Provider builds a provider with a real S3 client from the given
// config. Credentials are static; region and endpoint come from the config
// rather than the ambient AWS environment.
func NewS3Provider(ctx context.Context, cfg S3Config, clock engine.Clock, logger engine.Logger) (*S3Provider, error) {
	if cfg.Bucket == "" {
		return nil, engine.NewError(engine.KindValidation, "s3 provider requires a bucket", nil)
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Provider(cfg, client, manager.NewUploader(client), clock, logger), nil
}

// newS3Provider wires explicit API implementations; tests call this with
// fakes.
func newS3Provider(cfg S3Config, api s3API, uploader s3Uploader, clock engine.Clock, logger engine.Logger) *S3Provider {
	if clock == nil {
		clock = engine.RealClock{}
	}
	if logger == nil {
		logger = engine.NewNopLogger()
	}
	return &S3Provider{
		name:     cfg.Name,
		api:      api,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		compress: cfg.Compress,
		clock:    clock,
		logger:   logger,
	}
}

func (p *S3Provider) Name() string { return p.name }

// Initialize verifies the bucket is reachable. Buckets are not created
// here; provisioning stays with the operator.
func (p *S3Provider) Initialize(ctx context.Context) error {
	return p.TestConnection(ctx)
}

// TestConnection heads the bucket with the configured credentials.
func (p *S3Provider) TestConnection(ctx context.Context) error {
	_, err := p.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err != nil {
		return classifyS3(err, fmt.Sprintf("checking bucket %s", p.bucket))
	}
	return nil
}

// Upload serializes the snapshot and stores it as a new object.
func (p *S3Provider) Upload(ctx context.Context, snap *engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return engine.NewError(engine.KindSerialization, "encoding snapshot", err)
	}
	contentType := "application/json"
	if p.compress {
		data, err = gzipBytes(data)
		if err != nil {
			return engine.NewError(engine.KindSerialization, "compressing snapshot", err)
		}
		contentType = "application/gzip"
	}
	name := SnapshotName(snap.DeviceID, snap.Timestamp, p.compress)
	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return classifyS3(err, fmt.Sprintf("uploading %s", name))
	}
	p.logger.Info("snapshot uploaded", "key", p.key(name), "bytes", len(data))
	return nil
}

// Download fetches the newest snapshot under the prefix, optionally
// restricted to one device.
func (p *S3Provider) Download(ctx context.Context, deviceID string) (*engine.Snapshot, error) {
	objects, err := p.listObjects(ctx)
	if err != nil {
		return nil, err
	}

	var (
		bestKey    string
		bestAt     time.Time
		bestTS     int64
		compressed bool
		found      bool
	)
	for _, obj := range objects {
		id, ts, gz, ok := ParseSnapshotName(obj.name)
		if !ok {
			continue
		}
		if deviceID != "" && id != deviceID {
			continue
		}
		at := obj.lastModified
		if at.IsZero() {
			at = time.UnixMilli(ts)
		}
		if !found || at.After(bestAt) || (at.Equal(bestAt) && ts > bestTS) {
			bestKey = obj.key
			bestAt = at
			bestTS = ts
			compressed = gz
			found = true
		}
	}
	if !found {
		return nil, engine.NewError(engine.KindNotFound, "no sync data found", nil)
	}

	out, err := p.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(bestKey),
	})
	if err != nil {
		return nil, classifyS3(err, fmt.Sprintf("fetching %s", bestKey))
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, engine.NewError(engine.KindNetwork, fmt.Sprintf("reading %s", bestKey), err)
	}
	if compressed {
		data, err = gunzipBytes(data)
		if err != nil {
			return nil, engine.NewError(engine.KindSerialization, fmt.Sprintf("decompressing %s", bestKey), err)
		}
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, engine.NewError(engine.KindSerialization, fmt.Sprintf("decoding %s", bestKey), err)
	}
	return &snap, nil
}

// ListDevices returns the distinct device ids with snapshots under the
// prefix, sorted.
func (p *S3Provider) ListDevices(ctx context.Context) ([]string, error) {
	objects, err := p.listObjects(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var devices []string
	for _, obj := range objects {
		id, _, _, ok := ParseSnapshotName(obj.name)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		devices = append(devices, id)
	}
	sort.Strings(devices)
	return devices, nil
}

// Cleanup deletes snapshot objects older than the retention window.
func (p *S3Provider) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	objects, err := p.listObjects(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := p.clock.Now().Add(-retention)
	deleted := 0
	for _, obj := range objects {
		_, ts, _, ok := ParseSnapshotName(obj.name)
		if !ok {
			continue
		}
		at := obj.lastModified
		if at.IsZero() {
			at = time.UnixMilli(ts)
		}
		if !at.Before(cutoff) {
			continue
		}
		_, err := p.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(obj.key),
		})
		if err != nil {
			return deleted, classifyS3(err, fmt.Sprintf("deleting %s", obj.key))
		}
		deleted++
	}
	return deleted, nil
}

type s3Object struct {
	key          string
	name         string
	lastModified time.Time
}

func (p *S3Provider) listObjects(ctx context.Context) ([]s3Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(p.bucket)}
	if p.prefix != "" {
		input.Prefix = aws.String(p.prefix + "/")
	}
	var objects []s3Object
	paginator := s3.NewListObjectsV2Paginator(p.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3(err, fmt.Sprintf("listing bucket %s", p.bucket))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := key
			if idx := strings.LastIndex(key, "/"); idx >= 0 {
				name = key[idx+1:]
			}
			o := s3Object{key: key, name: name}
			if obj.LastModified != nil {
				o.lastModified = *obj.LastModified
			}
			objects = append(objects, o)
		}
	}
	return objects, nil
}

func (p *S3Provider) key(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

// classifyS3 maps an SDK failure to an error kind.
func classifyS3(err error, action string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewError(engine.KindTimeout, action+": request timed out", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return engine.NewError(engine.KindNotFound, action+": not found", err)
		case "AccessDenied":
			return engine.NewError(engine.KindForbidden, action+": access forbidden", err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
			return engine.NewError(engine.KindAuth, action+": authentication failed", err)
		default:
			return engine.NewError(engine.KindServer, fmt.Sprintf("%s: %s", action, apiErr.ErrorCode()), err)
		}
	}
	return engine.NewError(engine.KindNetwork, action+": network failure", err)
}

var (
	_ engine.Provider         = (*S3Provider)(nil)
	_ engine.Initializer      = (*S3Provider)(nil)
	_ engine.ConnectionTester = (*S3Provider)(nil)
	_ engine.DeviceLister     = (*S3Provider)(nil)
	_ engine.Cleaner          = (*S3Provider)(nil)
)

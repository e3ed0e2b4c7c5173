package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/snarg/speechprep/internal/config"
	"github.com/snarg/speechprep/internal/session"
)

// objectAPI is the subset of the S3 client the session store uses.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3SessionStore keeps each identity's sessions as one JSON array object,
// most recent first, in an S3-compatible bucket. Writes are read-modify-write
// and serialized per process; multiple replicas writing the same identity
// can lose a record.
type S3SessionStore struct {
	client objectAPI
	bucket string
	prefix string
	log    zerolog.Logger

	mu sync.Mutex
}

// NewS3SessionStore creates an S3 session store from config.
func NewS3SessionStore(ctx context.Context, cfg config.S3Config, log zerolog.Logger) (*S3SessionStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return newS3SessionStore(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix, log), nil
}

func newS3SessionStore(client objectAPI, bucket, prefix string, log zerolog.Logger) *S3SessionStore {
	return &S3SessionStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    log.With().Str("component", "s3-sessions").Logger(),
	}
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (s *S3SessionStore) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	return err
}

func (s *S3SessionStore) Name() string { return "s3" }

// Close is a no-op; the S3 client holds no resources that need releasing.
func (s *S3SessionStore) Close() error { return nil }

func (s *S3SessionStore) Insert(ctx context.Context, key string, rec session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read(ctx, key)
	if err != nil {
		return err
	}
	return s.write(ctx, key, append([]session.Record{rec}, recs...))
}

func (s *S3SessionStore) List(ctx context.Context, key string, limit int) ([]session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *S3SessionStore) Prune(ctx context.Context, key string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.read(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(recs) <= keep {
		return 0, nil
	}
	if err := s.write(ctx, key, recs[:keep]); err != nil {
		return 0, err
	}
	return len(recs) - keep, nil
}

// read returns the stored records, or none if the object does not exist.
func (s *S3SessionStore) read(ctx context.Context, key string) ([]session.Record, error) {
	objKey := s.objectKey(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &objKey,
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", objKey, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", objKey, err)
	}
	var recs []session.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", objKey, err)
	}
	return recs, nil
}

func (s *S3SessionStore) write(ctx context.Context, key string, recs []session.Record) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	objKey := s.objectKey(key)
	contentType := "application/json"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &objKey,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", objKey, err)
	}
	return nil
}

func (s *S3SessionStore) objectKey(key string) string {
	name := "sessions/" + url.PathEscape(key) + ".json"
	if s.prefix != "" {
		return s.prefix + "/" + name
	}
	return name
}

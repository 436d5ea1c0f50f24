// Package storage uploads generated documents to S3-compatible object
// storage (DigitalOcean Spaces, MinIO, AWS S3) with public-read access.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/attach"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/logging"
)

// ObjectAPI is the subset of the S3 client the uploader needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config describes the bucket and where objects go inside it.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Folder    string
	AccessKey string
	SecretKey string
}

// Uploader puts local files into the bucket and returns their public URL.
type Uploader struct {
	api    ObjectAPI
	cfg    Config
	host   string
	logger *zap.Logger
}

// NewClient builds an S3 client for cfg's endpoint with static credentials.
func NewClient(cfg Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return s3.New(s3.Options{
		Region:       region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	})
}

// New creates an Uploader. api is usually the result of NewClient.
func New(api ObjectAPI, cfg Config, logger *zap.Logger) (*Uploader, error) {
	host, err := EndpointHost(cfg.Endpoint)
	if err != nil {
		return nil, errors.Configuration(err)
	}
	if cfg.Bucket == "" {
		return nil, errors.Configuration(errors.New("storage bucket is not configured"))
	}
	return &Uploader{api: api, cfg: cfg, host: host, logger: logging.OrNop(logger).Named("storage")}, nil
}

// Key returns the object key for name: folder/name.
func (u *Uploader) Key(name string) string {
	folder := strings.Trim(u.cfg.Folder, "/")
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}

// PublicURL returns the address of key: https://bucket.host/key.
func (u *Uploader) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.%s/%s", u.cfg.Bucket, u.host, key)
}

// Upload puts the file at localPath under name and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", localPath)
	}
	defer f.Close()

	key := u.Key(name)
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(attach.DetectMimeType(name)),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", errors.Connectivity(errors.Wrapf(err, "upload %s", key))
	}

	publicURL := u.PublicURL(key)
	u.logger.Debug("uploaded", zap.String(logging.FieldKey, key), zap.String(logging.FieldURL, publicURL))
	return publicURL, nil
}

// Check verifies write access by putting and removing a small marker object.
func (u *Uploader) Check(ctx context.Context) error {
	key := u.Key(".write-check-" + uuid.New().String())
	_, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte("ok")),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return errors.Connectivity(errors.Wrapf(err, "write to bucket %s", u.cfg.Bucket))
	}
	if _, err := u.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		u.logger.Warn("marker object not removed", zap.String(logging.FieldKey, key), zap.Error(err))
	}
	return nil
}

// EndpointHost extracts the host of an endpoint given with or without scheme.
func EndpointHost(endpoint string) (string, error) {
	if endpoint == "" {
		return "", errors.New("storage endpoint is not configured")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "invalid storage endpoint %q", endpoint)
	}
	if u.Host == "" {
		return "", errors.Newf("invalid storage endpoint %q", endpoint)
	}
	return u.Host, nil
}

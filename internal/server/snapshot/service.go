// Package snapshot exports ciphertext table dumps to S3-compatible object
// storage. The server never holds plaintext, so a dump is safe to park in a
// bucket: it contains exactly the hex ciphertexts and opaque blobs clients
// sent in.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arkadyv/blinddb/internal/logging"
	"github.com/arkadyv/blinddb/internal/netx"
	sc "github.com/arkadyv/blinddb/internal/server/config"
	"github.com/arkadyv/blinddb/internal/server/engine"
	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

// Service serializes per-owner table dumps and uploads them through
// presigned PUT URLs.
type Service struct {
	engine *engine.Engine
	config *sc.Config
	logger logging.Logger
}

func NewService(engine *engine.Engine, config *sc.Config, logger logging.Logger) *Service {
	return &Service{engine: engine, config: config, logger: logger}
}

// StorageKey returns a date-partitioned object key for an owner's dump.
func StorageKey(owner string) string {
	d := time.Now()
	return fmt.Sprintf("dumps/%d/%d/%d/%s/%v.json", d.Year(), d.Month(), d.Day(), owner, uuid.New())
}

func (s *Service) getPresignClient() (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

func (s *Service) getPresignedPutURL(ctx context.Context, key string) (string, error) {
	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

// Export uploads a JSON dump of one owner's tables and returns the object
// key it was stored under.
func (s *Service) Export(ctx context.Context, owner string) (string, error) {
	dump := s.engine.Dump(owner)

	body, err := json.Marshal(dump)
	if err != nil {
		return "", fmt.Errorf("error marshalling dump: %w", err)
	}

	key := StorageKey(owner)

	url, err := s.getPresignedPutURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("error presigning upload: %w", err)
	}

	if err := netx.UploadToPresignedURL(ctx, url, body); err != nil {
		return "", fmt.Errorf("error uploading dump: %w", err)
	}

	return key, nil
}

// ExportAll exports every owner that currently has tables. Failures are
// logged and do not stop the remaining exports.
func (s *Service) ExportAll(ctx context.Context) {
	for _, owner := range s.engine.Owners() {
		key, err := s.Export(ctx, owner)
		if err != nil {
			s.logger.Error(ctx, "snapshot export failed", "owner", owner, "error", err)
			continue
		}
		s.logger.Info(ctx, "snapshot exported", "owner", owner, "key", key)
	}
}

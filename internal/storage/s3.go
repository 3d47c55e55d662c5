package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"leadflow/internal/models"
)

// S3Config holds the bucket settings.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// S3Store stores blobs in one bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates the S3 client. A bucket name left in the endpoint host
// is stripped, and dotted bucket names force path-style addressing.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not available - set S3_ACCESS_KEY and S3_SECRET_KEY")
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && strings.Contains(endpoint, cfg.Bucket+".") {
		endpoint = strings.Replace(endpoint, cfg.Bucket+".", "", 1)
		log.Warn().
			Str("originalEndpoint", cfg.Endpoint).
			Str("cleanedEndpoint", endpoint).
			Str("bucket", cfg.Bucket).
			Msg("Cleaned bucket name from S3 endpoint - endpoint should not contain bucket name")
	}

	usePathStyle := cfg.PathStyle
	if strings.Contains(cfg.Bucket, ".") {
		usePathStyle = true
		log.Info().Str("bucket", cfg.Bucket).Msg("Bucket name contains dots, forcing path-style URLs to avoid SSL certificate issues")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", endpoint).
		Bool("pathStyle", usePathStyle).
		Msg("S3 client initialized")
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads the blob under a fresh key and returns the key.
func (s *S3Store) Put(ctx context.Context, companyID, contentType string, data []byte) (string, error) {
	key := Key(companyID, contentType, time.Now())
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeOrDefault(contentType)),
	}
	if strings.HasPrefix(contentType, "image/") {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		log.Error().
			Err(err).
			Str("companyID", companyID).
			Str("key", key).
			Str("bucket", s.bucket).
			Int("size", len(data)).
			Msg("Failed to upload media to S3")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().
		Str("companyID", companyID).
		Str("key", key).
		Str("mimeType", contentType).
		Int("size", len(data)).
		Msg("Media uploaded to S3")
	return key, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("blob %s: %w", key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch %s from S3: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Ping lists at most one object to prove the bucket is reachable.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}

// DeleteCompanyObjects removes every blob stored for a company.
func (s *S3Store) DeleteCompanyObjects(ctx context.Context, companyID string) (int, error) {
	prefix := companyID + "/"
	var toDelete []types.ObjectIdentifier
	var continuationToken *string
	deleted := 0

	flush := func() error {
		if len(toDelete) == 0 {
			return nil
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: toDelete},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects for company %s: %w", companyID, err)
		}
		deleted += len(toDelete)
		toDelete = nil
		return nil
	}

	for {
		output, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects for company %s: %w", companyID, err)
		}
		for _, obj := range output.Contents {
			toDelete = append(toDelete, types.ObjectIdentifier{Key: obj.Key})
			// S3 caps DeleteObjects at 1000 keys
			if len(toDelete) == 1000 {
				if err := flush(); err != nil {
					return deleted, err
				}
			}
		}
		if output.IsTruncated != nil && *output.IsTruncated && output.NextContinuationToken != nil {
			continuationToken = output.NextContinuationToken
		} else {
			break
		}
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	log.Info().Str("companyID", companyID).Int("deleted", deleted).Msg("Company media removed from S3")
	return deleted, nil
}

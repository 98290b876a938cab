package formdata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"usrtaskmgt/internal/domain"
)

// S3Config addresses a Ceph or S3 bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Store keeps one JSON object per key in a bucket.
type S3Store struct {
	Client S3API
	Bucket string
}

// OpenS3Store builds a path-style client. Static keys take precedence over
// the default AWS credential chain.
func OpenS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Store{Client: client, Bucket: cfg.Bucket}, nil
}

func (s *S3Store) GetFormData(ctx context.Context, tdk, pid string) (domain.FormData, bool, error) {
	key := Key(tdk, pid)
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return domain.FormData{}, false, nil
		}
		return domain.FormData{}, false, storageErr("get", key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return domain.FormData{}, false, storageErr("read", key, err)
	}
	fd, err := decode(b)
	if err != nil {
		return domain.FormData{}, false, storageErr("decode", key, err)
	}
	return fd, true, nil
}

func (s *S3Store) PutFormData(ctx context.Context, tdk, pid string, fd domain.FormData) error {
	key := Key(tdk, pid)
	b, err := encode(fd)
	if err != nil {
		return storageErr("encode", key, err)
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return storageErr("put", key, err)
	}
	return nil
}

func (s *S3Store) DeleteByProcessInstanceID(ctx context.Context, pid string) error {
	prefix := ProcessPrefix(pid)
	var token *string
	for {
		page, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return storageErr("list", prefix, err)
		}
		if len(page.Contents) > 0 {
			ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
			for _, obj := range page.Contents {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
			out, err := s.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.Bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return storageErr("delete", prefix, err)
			}
			// Quiet mode still reports per-key failures.
			if len(out.Errors) > 0 {
				first := out.Errors[0]
				return storageErr("delete", prefix, fmt.Errorf("%d objects not deleted, first %s: %s %s",
					len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Code), aws.ToString(first.Message)))
			}
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return nil
		}
		token = page.NextContinuationToken
	}
}

func (s *S3Store) Close() error { return nil }

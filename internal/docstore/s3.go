package docstore

import (
	"bytes"
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"

	"github.com/sells-group/regenmark/internal/resilience"
)

// s3API is the part of *s3.Client the store calls.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string // MinIO, LocalStack
	Prefix        string
	PublicBaseURL string
}

// S3Store keeps evidence in an S3 bucket.
type S3Store struct {
	client  s3API
	bucket  string
	prefix  string
	baseURL string
	policy  resilience.Policy
}

// NewS3Store creates an S3-backed store using the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, eris.Wrap(err, "docstore: load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg), nil
}

func newS3Store(client s3API, cfg S3Config) *S3Store {
	policy := resilience.DefaultPolicy()
	policy.OnRetry = resilience.LogRetry("docstore", "s3_put")
	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		baseURL: cfg.PublicBaseURL,
		policy:  policy,
	}
}

// Put uploads obj unless an object with the same key already exists.
func (s *S3Store) Put(ctx context.Context, obj Object) (Stored, error) {
	key, sum := objectKey(s.prefix, obj)
	out := Stored{Key: key, Size: int64(len(obj.Data)), SHA256: sum, URL: s.url(key)}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return out, nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) && resilience.IsTransient(err) {
		return Stored{}, eris.Wrapf(err, "docstore: head %s", key)
	}

	contentType := obj.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err = resilience.Do(ctx, s.policy, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(obj.Data),
			ContentType: aws.String(contentType),
			Metadata: map[string]string{
				"evaluation-id": obj.EvaluationID,
				"original-name": obj.Name,
			},
		})
		return err
	})
	if err != nil {
		return Stored{}, eris.Wrapf(err, "docstore: put %s", key)
	}
	return out, nil
}

func (s *S3Store) url(key string) string {
	if u := publicURL(s.baseURL, key); u != "" {
		return u
	}
	return "s3://" + s.bucket + "/" + key
}

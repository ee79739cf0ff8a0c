package archive

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config carries the connection details for an S3-compatible bucket.
type S3Config struct {
	Endpoint string
	Region   string
	Bucket   string
	Key      string
	Secret   string
}

// S3Store archives messages as objects named "<namespace>/<key>" in a
// bucket. S3 acknowledges a PutObject only after the object is durable.
type S3Store struct {
	svc    *s3.S3
	bucket string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithCredentials(credentials.NewStaticCredentials(cfg.Key, cfg.Secret, ""))
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := awssession.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}

	return &S3Store{svc: s3.New(sess), bucket: cfg.Bucket}, nil
}

func (s *S3Store) Store(ctx context.Context, raw []byte, namespace string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &WriteError{Namespace: namespace, Err: err}
	}

	key := newKey()
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(namespace + "/" + key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("message/rfc822"),
	})
	if err != nil {
		// Uploads fail mostly for transient reasons; the next run retries
		// because the digest was never recorded.
		return "", &WriteError{Namespace: namespace, Recoverable: true, Err: err}
	}

	return key, nil
}

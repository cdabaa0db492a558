package publisher

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// s3API is the part of the S3 client used by the uploader
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Uploader struct {
	logger *logrus.Entry
	client s3API
}

// NewS3Uploader creates an uploader for Amazon S3. Set endpoint to target an
// S3 compatible service.
func NewS3Uploader(logger *logrus.Entry, cfg aws.Config, endpoint string) Uploader {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Uploader{
		logger: logger,
		client: client,
	}
}

func (u *s3Uploader) Upload(ctx context.Context, obj *Object) error {
	f, err := os.Open(obj.Path)
	if err != nil {
		return err
	}
	defer f.Close() // nolint: errcheck

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(obj.Bucket),
		Key:          aws.String(obj.Key),
		Body:         f,
		ContentType:  aws.String(obj.ContentType),
		CacheControl: aws.String(obj.CacheControl),
	})

	return err
}

package publisher

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/sirupsen/logrus"
)

// UploaderOpts contains the options required to select a storage backend
type UploaderOpts struct {
	Driver string

	// S3
	AWSConfig  aws.Config
	S3Endpoint string

	// Google Cloud Storage
	GCSCredentialsFile string
}

// NewUploader initializes the uploader for the configured driver
func NewUploader(ctx context.Context, logger *logrus.Entry, opts *UploaderOpts) (Uploader, error) {
	switch opts.Driver {
	case DriverS3:
		return NewS3Uploader(logger, opts.AWSConfig, opts.S3Endpoint), nil
	case DriverGCS:
		return NewGCSUploader(ctx, logger, opts.GCSCredentialsFile)
	default:
		return nil, ErrUnknownDriver
	}
}

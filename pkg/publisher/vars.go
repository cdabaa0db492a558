package publisher

import "errors"

const (
	// DefaultBatchSize defines the number of concurrent uploads
	DefaultBatchSize = 10
	// DefaultContentType is used when the extension is unknown
	DefaultContentType = "application/octet-stream"

	// DriverS3 selects Amazon S3 or an S3 compatible service
	DriverS3 = "s3"
	// DriverGCS selects Google Cloud Storage
	DriverGCS = "gcs"

	// NoCache directive for html documents
	NoCache = "no-cache"
	// Immutable directive for fingerprinted assets
	Immutable = "public, max-age=31536000, immutable"
)

var (
	// ErrMissingUploader Error
	ErrMissingUploader = errors.New("publisher requires an uploader")
	// ErrUnknownDriver Error
	ErrUnknownDriver = errors.New("unknown storage driver")
)

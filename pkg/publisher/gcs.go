package publisher

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type gcsUploader struct {
	logger *logrus.Entry
	client *storage.Client
}

// NewGCSUploader creates an uploader for Google Cloud Storage. Without a
// credentials file the application default credentials are used.
func NewGCSUploader(ctx context.Context, logger *logrus.Entry, credentialsFile string) (Uploader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &gcsUploader{
		logger: logger,
		client: client,
	}, nil
}

func (g *gcsUploader) Upload(ctx context.Context, obj *Object) error {
	f, err := os.Open(obj.Path)
	if err != nil {
		return err
	}
	defer f.Close() // nolint: errcheck

	wc := g.client.Bucket(obj.Bucket).Object(obj.Key).NewWriter(ctx)
	wc.ContentType = obj.ContentType
	wc.CacheControl = obj.CacheControl

	if _, err = io.Copy(wc, f); err != nil {
		wc.Close() // nolint: errcheck
		return err
	}

	return wc.Close()
}

package publisher

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Object describes one file upload
type Object struct {
	Bucket       string
	Key          string
	Path         string
	ContentType  string
	CacheControl string
}

// Uploader writes a single object to a storage backend
type Uploader interface {
	Upload(ctx context.Context, obj *Object) error
}

// Options configures a Publisher
type Options struct {
	// BatchSize caps the number of simultaneous uploads
	BatchSize int
	// UploadCounter counts uploaded files by result, optional
	UploadCounter *prometheus.CounterVec
}

// Publisher uploads artifact directories, one object per file
type Publisher struct {
	logger   *logrus.Entry
	uploader Uploader
	options  *Options
}

// New creates a new publisher
func New(logger *logrus.Entry, uploader Uploader, options *Options) (*Publisher, error) {
	if uploader == nil {
		return nil, ErrMissingUploader
	}
	if options == nil {
		options = &Options{}
	}
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}

	return &Publisher{
		logger:   logger,
		uploader: uploader,
		options:  options,
	}, nil
}

// Publish uploads every regular file below localDir to bucket under
// keyPrefix. Files are uploaded in batches, a batch completes before the
// next one starts. Objects uploaded before a failure are kept.
func (p *Publisher) Publish(ctx context.Context, localDir, keyPrefix, bucket string) error {
	files, err := ListFiles(localDir)
	if err != nil {
		return errors.Wrap(err, "could not list artifacts")
	}

	logger := p.logger.WithFields(logrus.Fields{
		"bucket":     bucket,
		"key_prefix": keyPrefix,
		"files":      len(files),
	})
	logger.Info("publishing artifacts")

	batchSize := p.options.BatchSize
	for start := 0; start < len(files); start += batchSize {
		batch := files[start:min(start+batchSize, len(files))]

		g, gctx := errgroup.WithContext(ctx)
		for _, file := range batch {
			file := file
			g.Go(func() error {
				return p.upload(gctx, localDir, file, keyPrefix, bucket)
			})
		}

		if err := g.Wait(); err != nil {
			return errors.Wrapf(err, "batch %d failed", start/batchSize)
		}
	}

	logger.Info("artifacts published")

	return nil
}

func (p *Publisher) upload(ctx context.Context, localDir, file, keyPrefix, bucket string) error {
	key, err := ObjectKey(localDir, file, keyPrefix)
	if err != nil {
		return err
	}

	err = p.uploader.Upload(ctx, &Object{
		Bucket:       bucket,
		Key:          key,
		Path:         file,
		ContentType:  ContentType(file),
		CacheControl: CacheControl(file),
	})
	p.count(err)
	if err != nil {
		return errors.Wrapf(err, "could not upload %s", key)
	}

	p.logger.WithField("key", key).Debug("uploaded artifact")

	return nil
}

func (p *Publisher) count(err error) {
	if p.options.UploadCounter == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}
	p.options.UploadCounter.WithLabelValues(result).Inc()
}

// ListFiles returns the absolute path of every regular file below dir
func ListFiles(dir string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// ObjectKey joins the path of file relative to localDir with the key prefix.
// The key always uses forward slashes.
func ObjectKey(localDir, file, keyPrefix string) (string, error) {
	root, err := filepath.Abs(localDir)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", err
	}
	rel = strings.ReplaceAll(filepath.ToSlash(rel), `\`, "/")

	return strings.TrimSuffix(keyPrefix, "/") + "/" + rel, nil
}

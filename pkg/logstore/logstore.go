package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq" // Registers the postgres sql driver
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Store persists the log of a build job
type Store interface {
	Store(ctx context.Context, jobID string, lines []string) error
}

// Options selects where the log is written
type Options struct {
	Table    string
	IDColumn string
	Column   string

	// WaitDeadline bounds the startup wait for the database
	WaitDeadline time.Duration

	WriteSeconds *prometheus.SummaryVec
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type postgresStore struct {
	logger *logrus.Entry
	db     execer
	query  string

	writeSeconds *prometheus.SummaryVec
}

// NewPostgres opens the database, waits for it to accept connections and
// returns a store writing to it
func NewPostgres(ctx context.Context, logger *logrus.Entry, databaseURL string, opts *Options) (Store, *sql.DB, error) {
	opts = withDefaults(opts)

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not open database")
	}

	if err := wait(ctx, logger, db, opts.WaitDeadline, waitInterval); err != nil {
		db.Close() // nolint:errcheck
		return nil, nil, err
	}

	return newPostgresStore(logger, db, opts), db, nil
}

func newPostgresStore(logger *logrus.Entry, db execer, opts *Options) *postgresStore {
	opts = withDefaults(opts)

	return &postgresStore{
		logger: logger,
		db:     db,
		query:  updateQuery(opts.Table, opts.Column, opts.IDColumn),

		writeSeconds: opts.WriteSeconds,
	}
}

func withDefaults(opts *Options) *Options {
	o := Options{}
	if opts != nil {
		o = *opts
	}

	if o.Table == "" {
		o.Table = DefaultTable
	}
	if o.IDColumn == "" {
		o.IDColumn = DefaultIDColumn
	}
	if o.Column == "" {
		o.Column = DefaultColumn
	}
	if o.WaitDeadline <= 0 {
		o.WaitDeadline = waitdeadline
	}

	return &o
}

// updateQuery builds the statement writing the log column of one record
func updateQuery(table, column, idColumn string) string {
	return fmt.Sprintf(
		"UPDATE %s SET %s = $1 WHERE %s = $2",
		pq.QuoteIdentifier(table),
		pq.QuoteIdentifier(column),
		pq.QuoteIdentifier(idColumn),
	)
}

// Store replaces the stored log with the joined lines
func (p *postgresStore) Store(ctx context.Context, jobID string, lines []string) error {
	startTime := time.Now()
	defer func() {
		if p.writeSeconds != nil {
			p.writeSeconds.WithLabelValues("store").Observe(time.Since(startTime).Seconds())
		}
	}()

	result, err := p.db.ExecContext(ctx, p.query, strings.Join(lines, "\n"), jobID)
	if err != nil {
		return errors.Wrapf(err, "could not store logs for %s", jobID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "could not store logs for %s", jobID)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}

	p.logger.WithField("job_id", jobID).Debug("build log stored")

	return nil
}

func wait(ctx context.Context, logger *logrus.Entry, db pinger, deadline, interval time.Duration) error {
	var doneChan = make(chan struct{}, 1)
	var stopChan = make(chan struct{})
	defer close(stopChan)

	go func() {
		for {
			if err := db.PingContext(ctx); err == nil {
				close(doneChan)
				return
			}

			logger.Debug("waiting for database")

			select {
			case <-stopChan:
				return
			case <-time.After(interval):
			}
		}
	}()

	select {
	case <-doneChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(deadline):
		return ErrDatabaseUnavailable
	}
}

// Discard drops every log
type Discard struct{}

// Store does nothing
func (Discard) Store(context.Context, string, []string) error { return nil }

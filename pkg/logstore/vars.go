package logstore

import (
	"errors"
	"time"
)

const (
	// DefaultTable holds the deployment records
	DefaultTable = "deployment"
	// DefaultIDColumn identifies a deployment record
	DefaultIDColumn = "deployment_id"
	// DefaultColumn receives the build log
	DefaultColumn = "build_logs"
)

var (
	// waitdeadline contains the deadline for waiting in a database to become ready
	waitdeadline = 5 * time.Minute
	// waitInterval is the delay between two connection attempts
	waitInterval = time.Second

	// ErrDatabaseUnavailable Error returned when the database is unavailable after the wait deadline
	ErrDatabaseUnavailable = errors.New("database unavailable, deadline reached")
	// ErrRecordNotFound Error returned when no record matches the job id
	ErrRecordNotFound = errors.New("no record found for job")
)

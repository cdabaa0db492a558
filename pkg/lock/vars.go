package lock

import "errors"

// KeyPrefix namespaces the job keys
const KeyPrefix = "build-worker:job:"

var (
	// ErrInvalidTTL Error
	ErrInvalidTTL = errors.New("lock ttl has to be positive")
)

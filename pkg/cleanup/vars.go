package cleanup

import "time"

const (
	// DefaultPrefix matches the names given to build containers
	DefaultPrefix = "build-"
)

var (
	// IterationDelay defines the delay between each cleanup run
	IterationDelay = 10 * time.Minute
	// ContainerLifetime defines the age after which a build container is considered abandoned
	ContainerLifetime = 2 * time.Hour
)

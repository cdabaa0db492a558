package internal

import "time"

// RunFunc defines a blocking function that can be called to start a service
type RunFunc func() error

// StopFunc defines a function that can be used to stop a service
type StopFunc func(error)

// Service defines a method that can be called to get the runnable functions
type Service interface {
	Runnable() (RunFunc, StopFunc)
}

// Sleep waits for d or until stop closes. It returns false when stopped.
func Sleep(d time.Duration, stop <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}

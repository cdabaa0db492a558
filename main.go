package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/kolonialno/build-worker/cmd"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)

	if err := cmd.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"github.com/kolonialno/build-worker/pkg"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(runCmd)
}

// RootCmd is used as the main entrypoint for this application
var RootCmd = &cobra.Command{
	Use:   pkg.App.Name,
	Short: pkg.App.Description,
	Args:  cobra.NoArgs,
}

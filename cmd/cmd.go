package cmd

import (
	"github.com/spf13/cobra"

	"github.com/replicate/kdl/cmd/multifile"
	"github.com/replicate/kdl/cmd/root"
	"github.com/replicate/kdl/cmd/version"
)

func GetRootCommand() *cobra.Command {
	rootCMD := root.GetCommand()
	rootCMD.AddCommand(multifile.GetCommand())
	rootCMD.AddCommand(version.VersionCMD)
	return rootCMD
}

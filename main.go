package main

import (
	"fmt"
	"os"

	"github.com/replicate/kdl/cmd"
	"github.com/replicate/kdl/pkg/cli"
	"github.com/replicate/kdl/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()

	// Lets concurrent kdl invocations see how many are running at once,
	// the same way pid.go's flock path does for single-destination runs.
	pidFile, err := cli.NewPIDFile(fmt.Sprintf("/tmp/.kdl-%d", os.Getpid()))
	if err == nil {
		_ = pidFile.Acquire()
		defer pidFile.Release()
	}

	if err := rootCMD.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}

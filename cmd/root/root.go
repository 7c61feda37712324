package root

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pget "github.com/replicate/kdl/pkg"
	"github.com/replicate/kdl/pkg/cli"
	"github.com/replicate/kdl/pkg/client"
	"github.com/replicate/kdl/pkg/config"
	"github.com/replicate/kdl/pkg/consumer"
	"github.com/replicate/kdl/pkg/optname"
	"github.com/replicate/kdl/pkg/transfer"
)

const rootLongDesc = `
kdl

kdl is a high performance, concurrent file downloader built in Go. It is designed to speed up and optimize file
downloads from cloud storage services such as Amazon S3 and Google Cloud Storage.

kdl's primary advantage is its ability to download a single file in parallel by splitting it into segments and
fetching them over multiple connections at once, adaptively growing or shrinking that parallelism as the transfer's
own throughput and the available per-host connection budget allow.

If the downloaded file is a tar or zip archive, kdl can extract its contents into the destination directory once the
download has finished (--extract or --output-consumer tar/zip); the archive is written to disk first and removed
after extraction.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kdl [flags] <url> <dest>",
		Short: "kdl",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE:    runRootCMD,
		Args:    cobra.ExactArgs(2),
		Example: `  kdl https://example.com/file.tar.gz file.tar.gz`,
	}
	cmd.Flags().BoolP(optname.Extract, "x", false, "Extract archive after download (alias for --output-consumer tar)")
	cmd.SetUsageTemplate(cli.UsageTemplate)
	if err := config.AddRootPersistentFlags(cmd); err != nil {
		fmt.Println(err)
		os.Exit(cli.ExitInvalidArguments)
	}
	return cmd
}

func runRootCMD(cmd *cobra.Command, args []string) error {
	// After we run through the PreRun functions we want to silence usage
	// from being printed on all errors.
	cmd.SilenceUsage = true

	urlString := args[0]
	dest := args[1]

	log.Info().Str("url", urlString).Str("dest", dest).Msg("Initiating")

	if err := cli.EnsureDestinationNotExist(dest); err != nil {
		return err
	}

	return rootExecute(cmd.Context(), urlString, dest)
}

// rootExecute is the main function of the program: it builds the transfer
// template, resolves the output consumer, wires an optional events sink,
// runs the download, and verifies the checksum if one was requested.
func rootExecute(ctx context.Context, urlString, dest string) error {
	cfg, err := config.TransferConfig()
	if err != nil {
		return err
	}

	cons, err := resolveConsumer()
	if err != nil {
		return err
	}
	if viper.GetBool(optname.Force) {
		cons.EnableOverwrite()
	}

	getter := pget.Getter{
		Config:   cfg,
		Do:       client.NewClientPool(cfg.ConnectionsPerHost).Do,
		Consumer: cons,
	}

	var sinkDone chan struct{}
	if sinkPath := viper.GetString(optname.EventsSink); sinkPath != "" {
		sink, err := cli.NewEventSink(sinkPath)
		if err != nil {
			return err
		}
		bus := transfer.NewEventBus()
		getter.Bus = bus
		sinkDone = make(chan struct{})
		go sink.Run(bus.Subscribe(64), sinkDone)
	}

	_, _, derr := getter.DownloadFile(ctx, urlString, dest)
	if getter.Bus != nil {
		getter.Bus.Close()
		<-sinkDone
	}
	if derr != nil {
		return derr
	}

	if raw := viper.GetString(optname.SHA256); raw != "" {
		expected, err := cli.ResolveChecksumDigest(raw)
		if err != nil {
			return err
		}
		if err := transfer.VerifySHA256(dest, expected); err != nil {
			return err
		}
	}
	return nil
}

// resolveConsumer picks the Consumer implied by --output-consumer, with
// --extract kept as a legacy alias for the tar consumer.
func resolveConsumer() (consumer.Consumer, error) {
	name := viper.GetString(optname.OutputConsumer)
	if viper.GetBool(optname.Extract) {
		if name != "" && name != consumer.NameTar {
			return nil, fmt.Errorf("--%s conflicts with --%s=%s", optname.Extract, optname.OutputConsumer, name)
		}
		name = consumer.NameTar
	}
	return consumer.ByName(name)
}

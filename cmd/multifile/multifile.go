package multifile

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pget "github.com/replicate/kdl/pkg"
	"github.com/replicate/kdl/pkg/cli"
	"github.com/replicate/kdl/pkg/client"
	"github.com/replicate/kdl/pkg/config"
	"github.com/replicate/kdl/pkg/consumer"
	"github.com/replicate/kdl/pkg/logging"
	"github.com/replicate/kdl/pkg/optname"
)

const longDesc = `
'multifile' mode for kdl takes a manifest file as input (can use '-' for stdin) and downloads every file listed in
it, fanning out across files and, within each file, across segments.

The manifest is a newline-separated list of URL/destination pairs, separated by whitespace, e.g.:

https://example.com/file1.txt /tmp/file1.txt

Files are downloaded in parallel, limited by '--max-concurrent-files' across the whole batch and by
'--connections-per-host' within any single host.
`

const multifileExamples = `
  kdl multifile manifest.txt

  kdl multifile - < manifest.txt

  cat multifile.txt | kdl multifile -
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "multifile [flags] <manifest-file>",
		Short:   "download files from a manifest file in parallel",
		Long:    longDesc,
		Args:    cobra.ExactArgs(1),
		PreRunE: multifilePreRunE,
		RunE:    runMultifileCMD,
		Example: multifileExamples,
	}

	cmd.PersistentFlags().Int(optname.MaxConcurrentFiles, 40, "Maximum number of files to download concurrently")
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		fmt.Println(err)
		os.Exit(cli.ExitInvalidArguments)
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

// multifilePreRunE rejects flag combinations that don't make sense for a
// batch of heterogeneous destinations before any manifest line is read.
func multifilePreRunE(cmd *cobra.Command, args []string) error {
	if viper.GetBool(optname.Extract) {
		return fmt.Errorf("cannot use --%s with multifile mode", optname.Extract)
	}
	if viper.GetString(optname.SHA256) != "" {
		return fmt.Errorf("cannot use --%s with multifile mode, every entry would need its own digest", optname.SHA256)
	}
	return nil
}

func runMultifileCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	manifestPath := args[0]
	file, err := manifestFile(manifestPath)
	if err != nil {
		return err
	}
	defer file.Close()

	manifest, err := parseManifest(file)
	if err != nil {
		return fmt.Errorf("error processing manifest file %s: %w", manifestPath, err)
	}

	return multifileExecute(cmd.Context(), manifest)
}

func multifileExecute(ctx context.Context, manifest pget.Manifest) error {
	cfg, err := config.TransferConfig()
	if err != nil {
		return err
	}

	cons, err := consumer.ByName(viper.GetString(optname.OutputConsumer))
	if err != nil {
		return err
	}
	if viper.GetBool(optname.Force) {
		cons.EnableOverwrite()
	}

	getter := pget.Getter{
		Config:             cfg,
		Do:                 client.NewClientPool(cfg.ConnectionsPerHost).Do,
		Consumer:           cons,
		MaxConcurrentFiles: viper.GetInt(optname.MaxConcurrentFiles),
	}

	logger := logging.GetLogger()
	batchStart := time.Now()
	totalBytes, elapsed, err := getter.DownloadFiles(ctx, manifest)
	if err != nil {
		return fmt.Errorf("error downloading files: %w", err)
	}
	if elapsed <= 0 {
		elapsed = time.Since(batchStart)
	}

	throughput := float64(totalBytes) / elapsed.Seconds()
	logger.Info().
		Int("file_count", countEntries(manifest)).
		Str("total_bytes_downloaded", humanize.Bytes(uint64(totalBytes))).
		Str("throughput", fmt.Sprintf("%s/s", humanize.Bytes(uint64(throughput)))).
		Str("elapsed_time", fmt.Sprintf("%.3fs", elapsed.Seconds())).
		Msg("Metrics")

	return nil
}

func countEntries(manifest pget.Manifest) int {
	n := 0
	for _, entries := range manifest {
		n += len(entries)
	}
	return n
}

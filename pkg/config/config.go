package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/replicate/kdl/pkg/logging"
	"github.com/replicate/kdl/pkg/optname"
	"github.com/replicate/kdl/pkg/transfer"
)

// HostToIPResolutionMap is populated from --resolve at startup and consulted
// by the client package's dialer to override DNS for specific host:port pairs.
var HostToIPResolutionMap = make(map[string]string)

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	cmd.PersistentFlags().IntP(optname.ConnectionsPerHost, "c", 16, "Maximum number of concurrent connections to open against a single host")
	cmd.PersistentFlags().Int(optname.UnsafeCap, 0, "Raise the connections-per-host ceiling above the default safety cap")
	cmd.PersistentFlags().Int(optname.InitialSegments, 16, "Number of segments to split a file into at the start of a transfer")
	cmd.PersistentFlags().Duration(optname.ConnTimeout, 5*time.Second, "Timeout for establishing a connection, format is <number><unit>, e.g. 10s")
	cmd.PersistentFlags().Duration(optname.RequestTimeout, 30*time.Second, "Per-request stall timeout before a segment is retried")
	cmd.PersistentFlags().StringP(optname.BandwidthLimit, "b", "", "Maximum aggregate transfer rate (e.g. 500M), unlimited if unset")
	cmd.PersistentFlags().BoolP(optname.Force, "f", false, "Force download, overwriting existing file")
	cmd.PersistentFlags().Bool(optname.Resume, false, "Resume an interrupted download from its part-map sidecar, if present")
	cmd.PersistentFlags().StringSlice(optname.Resolve, []string{}, "Resolve hostnames to specific IPs")
	cmd.PersistentFlags().StringSlice(optname.Mirror, []string{}, "Additional mirror URL serving identical content (repeatable)")
	cmd.PersistentFlags().IntP(optname.Retries, "r", 5, "Number of retries per segment before it is marked failed")
	cmd.PersistentFlags().BoolP(optname.Verbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(optname.LoggingLevel, "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool(optname.ForceHTTP2, false, "Force HTTP/2")
	cmd.PersistentFlags().String(optname.SHA256, "", "Expected SHA-256 digest of the completed file, verified after transfer")
	cmd.PersistentFlags().String(optname.EventsSink, "", "Emit newline-delimited JSON lifecycle events to this path, or '-' for stderr")
	cmd.PersistentFlags().String(optname.OutputConsumer, "", "Output consumer to hand the completed download to: file, null, stdout, vmsplice, tar, zip (default file)")

	viper.SetEnvPrefix("KDL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(err)
	}

	// Hidden, internal tuning knob; not part of the supported surface.
	if err := cmd.PersistentFlags().MarkHidden(optname.ForceHTTP2); err != nil {
		return fmt.Errorf("failed to hide flag %s: %w", optname.ForceHTTP2, err)
	}

	return nil
}

func PersistentStartupProcessFlags() error {
	if viper.GetBool(optname.Verbose) {
		viper.Set(optname.LoggingLevel, "debug")
	}
	setLogLevel(viper.GetString(optname.LoggingLevel))

	overrides, err := ResolveOverridesToMap(viper.GetStringSlice(optname.Resolve))
	if err != nil {
		return err
	}
	HostToIPResolutionMap = overrides

	logger := logging.GetLogger()
	if logger.GetLevel() == zerolog.DebugLevel {
		for key, elem := range HostToIPResolutionMap {
			logger.Debug().Str("host_port", key).Str("resolve_target", elem).Msg("Config")
		}
	}
	return nil
}

func setLogLevel(logLevel string) {
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// ResolveOverridesToMap parses --resolve entries of the form
// <hostname>:<port>:<ip> into a host:port -> ip:port map.
func ResolveOverridesToMap(entries []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, resolveHost := range entries {
		split := strings.SplitN(resolveHost, ":", 3)
		if len(split) != 3 {
			return nil, fmt.Errorf("invalid resolve host format, expected <hostname>:port:<ip>, got: %s", resolveHost)
		}
		host, port, addr := split[0], split[1], split[2]
		if net.ParseIP(host) != nil {
			return nil, fmt.Errorf("invalid hostname specified, looks like an IP address: %s", host)
		}
		hostPort := net.JoinHostPort(host, port)
		target := net.JoinHostPort(addr, port)
		if existing, ok := out[hostPort]; ok && existing != target {
			return nil, fmt.Errorf("duplicate host:port specified: %s", host)
		}
		if net.ParseIP(addr) == nil {
			return nil, fmt.Errorf("invalid IP address: %s", addr)
		}
		out[hostPort] = target
	}
	return out, nil
}

// TransferConfig builds a transfer.Config template from the currently
// bound flags: every field except OutputPath and Sources, which the
// caller (pget.Getter) fills in per file. Sources is pre-seeded with any
// --mirror URLs; the caller's pget.Getter.DownloadFile prepends the
// file's primary URL ahead of them.
func TransferConfig() (transfer.Config, error) {
	var bandwidthLimit int64
	if s := viper.GetString(optname.BandwidthLimit); s != "" {
		n, err := humanize.ParseBytes(strings.TrimSuffix(s, "/s"))
		if err != nil {
			return transfer.Config{}, fmt.Errorf("invalid --%s: %w", optname.BandwidthLimit, err)
		}
		bandwidthLimit = int64(n)
	}

	return transfer.Config{
		Sources:            viper.GetStringSlice(optname.Mirror),
		ConnectionsPerHost: viper.GetInt(optname.ConnectionsPerHost),
		UnsafeCap:          viper.GetInt(optname.UnsafeCap),
		InitialSegments:    viper.GetInt(optname.InitialSegments),
		Resume:             viper.GetBool(optname.Resume),
		RequestTimeout:     viper.GetDuration(optname.RequestTimeout),
		BandwidthLimit:     bandwidthLimit,
		MaxRetries:         viper.GetInt(optname.Retries),
	}, nil
}

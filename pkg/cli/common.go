package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/replicate/kdl/pkg/optname"
)

const UsageTemplate = `
Usage:{{if .Runnable}}
{{if .HasAvailableFlags}}{{appendIfNotPresent .UseLine "[flags]"}}{{else}}{{.UseLine}}{{end}}{{end}}{{if .HasAvailableSubCommands}}
{{.CommandPath}} [command]{{end}}{{if gt .Aliases 0}}

Aliases:
{{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if .IsAvailableCommand}}
{{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
{{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

func EnsureDestinationNotExist(dest string) error {
	_, err := os.Stat(dest)
	if !viper.GetBool(optname.Force) && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("destination %s already exists", dest)
	}
	return nil
}

// ResolveChecksumDigest turns a --sha256 value into the hex digest to
// verify against. The value is either a 64-character hex digest used
// directly, or a path to a checksum file, in which case the first
// whitespace-delimited token on its first line is taken as the digest
// (the usual "<hex digest>  <filename>" sha256sum output format).
func ResolveChecksumDigest(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("checksum value cannot be empty")
	}
	if isHexDigest(trimmed) {
		return trimmed, nil
	}

	f, err := os.Open(trimmed)
	if err != nil {
		return "", fmt.Errorf("checksum file %s: %w", trimmed, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading checksum file %s: %w", trimmed, err)
		}
		return "", fmt.Errorf("checksum file %s is empty", trimmed)
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return "", fmt.Errorf("checksum file %s is empty", trimmed)
	}
	token := fields[0]
	if !isHexDigest(token) {
		return "", fmt.Errorf("checksum file %s: %q is not a valid sha256 digest", trimmed, token)
	}
	return token, nil
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

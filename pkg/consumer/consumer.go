// Package consumer implements the post-processing step that runs after a
// transfer finishes writing bytes to srcPath: move it into place, extract
// an archive, or stream it to stdout.
package consumer

import "fmt"

// Consumer is what the engine hands the fully-written download off to.
// srcPath is always a regular file already sitting at its final byte
// count; destPath is where the caller asked the result to end up.
type Consumer interface {
	Consume(srcPath, destPath string) error
	// EnableOverwrite allows the consumer to replace an existing destPath.
	EnableOverwrite()
}

const (
	NameFile     = "file"
	NameNull     = "null"
	NameStdout   = "stdout"
	NameVMSplice = "vmsplice"
	NameTar      = "tar"
	NameZip      = "zip"
)

// ByName resolves one of the names above to a fresh Consumer. "" resolves
// to the default FileWriter; any other unknown name is an error.
func ByName(name string) (Consumer, error) {
	switch name {
	case "", NameFile:
		return &FileWriter{}, nil
	case NameNull:
		return &NullWriter{}, nil
	case NameStdout:
		return &StdoutConsumer{}, nil
	case NameVMSplice:
		return &VMSpliceConsumer{}, nil
	case NameTar:
		return &TarExtractor{}, nil
	case NameZip:
		return &ZipExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown output consumer %q", name)
	}
}

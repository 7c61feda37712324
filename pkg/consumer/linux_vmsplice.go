//go:build linux

package consumer

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"unsafe"

	"github.com/dustin/go-humanize"
)

var _ Consumer = &VMSpliceConsumer{}

// VMSpliceConsumer streams the download straight to stdout via vmsplice(2),
// handing the kernel pointers into our buffer instead of copying through
// a write(2) syscall per chunk.
type VMSpliceConsumer struct{}

func (v VMSpliceConsumer) Consume(srcPath, destPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", srcPath, err)
	}
	defer f.Close()

	buffer := make([]byte, humanize.MiByte)
	for {
		length, err := f.Read(buffer)
		if length > 0 {
			_, _, errno := syscall.Syscall6(
				syscall.SYS_VMSPLICE,
				os.Stdout.Fd(),
				uintptr(unsafe.Pointer(
					&syscall.Iovec{
						Base: &buffer[0],
						Len:  uint64(length),
					})), 1, 0, 0, 0)
			if errno != 0 {
				return fmt.Errorf("error splicing to stdout: %w", errno)
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("error reading %s: %w", srcPath, err)
		}
	}
	return os.Remove(srcPath)
}

func (v VMSpliceConsumer) EnableOverwrite() {
	// no op
}

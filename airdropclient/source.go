package airdropclient

import (
	"io"
	"os"

	"goairdrop/model"
)

// openSource opens a file descriptor's on-disk source for reading. Callers
// are expected to Close it.
func openSource(f model.FileDescriptor) (io.ReadCloser, error) {
	return os.Open(f.SourcePath)
}

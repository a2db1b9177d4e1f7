//go:build !unix

package gguf

import (
	"errors"
	"os"
)

func mmapReadOnly(_ *os.File, _ int) ([]byte, error) {
	return nil, errors.New("mmap not supported on this platform")
}

func munmap(_ []byte) error {
	return nil
}

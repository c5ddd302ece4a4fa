//go:build windows

// Package stderr provides a no-op implementation for Windows, where the
// audio backend does not write to the process stderr.
package stderr

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Start is a no-op on Windows.
func Start(hclog.Logger) error {
	return nil
}

// Original returns os.Stderr.
func Original() io.Writer {
	return os.Stderr
}

// WriteOriginal writes to stderr.
func WriteOriginal(msg string) {
	_, _ = os.Stderr.WriteString(msg)
}

// Stop is a no-op on Windows.
func Stop() {}

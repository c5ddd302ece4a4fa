//go:build !windows

// Package stderr captures stderr output from C libraries (ALSA through the
// audio backend) that write directly to file descriptor 2, bypassing Go's
// os.Stderr. Captured lines are forwarded to a logger so they do not
// interleave with the event output.
package stderr

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/hashicorp/go-hclog"
)

var (
	mu         sync.Mutex
	origStderr = -1
	pipeRead   *os.File
	pipeWrite  *os.File
	done       chan struct{}
)

// Start begins forwarding stderr output to logger at debug level.
// Must be called early in main(), before the speaker is initialised.
// Returns an error if capture cannot be set up, but the program can continue
// without stderr capture.
func Start(logger hclog.Logger) error {
	mu.Lock()
	defer mu.Unlock()
	if pipeRead != nil {
		return nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return err
	}

	// Save original stderr file descriptor
	orig, err := syscall.Dup(int(os.Stderr.Fd()))
	if err != nil {
		r.Close()
		w.Close()
		return err
	}

	// Redirect stderr (fd 2) to the pipe's write end
	if err := syscall.Dup2(int(w.Fd()), int(os.Stderr.Fd())); err != nil {
		syscall.Close(orig)
		r.Close()
		w.Close()
		return err
	}

	origStderr, pipeRead, pipeWrite = orig, r, w
	done = make(chan struct{})

	go forward(r, logger.Named("stderr"), done)
	return nil
}

func forward(r *os.File, logger hclog.Logger, done chan struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			logger.Debug(line)
		}
	}
}

// Original returns a writer on the stderr that was in place before Start.
// Loggers writing to the terminal must use it: a logger on os.Stderr would
// feed its own lines back into the capture.
func Original() io.Writer {
	return originalWriter{}
}

type originalWriter struct{}

func (originalWriter) Write(p []byte) (int, error) {
	mu.Lock()
	defer mu.Unlock()
	if origStderr < 0 {
		return os.Stderr.Write(p)
	}
	n, err := syscall.Write(origStderr, p)
	return max(n, 0), err
}

// WriteOriginal writes directly to the original stderr, bypassing capture.
// Useful for fatal errors that must be visible.
func WriteOriginal(msg string) {
	_, _ = Original().Write([]byte(msg))
}

// Stop restores the original stderr and waits for captured lines to be
// forwarded. Should be called on program exit.
func Stop() {
	mu.Lock()
	if pipeRead == nil {
		mu.Unlock()
		return
	}

	// Restore original stderr
	_ = syscall.Dup2(origStderr, int(os.Stderr.Fd()))
	_ = syscall.Close(origStderr)
	origStderr = -1
	r, w, d := pipeRead, pipeWrite, done
	pipeRead, pipeWrite, done = nil, nil, nil
	mu.Unlock()

	// The forwarder may still log through Original, so mu is not held here.
	w.Close()
	<-d
	r.Close()
}

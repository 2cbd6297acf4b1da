// Package capture runs a tool invocation and collects its exit code and
// output streams.
//
// Buffered hands the tool in-memory writers and touches no process state.
// Redirect additionally swaps os.Stdout and os.Stderr for the duration of the
// call, for tools that write to the process streams directly. Anything that
// captured the original *os.File before Redirect started (a logger built on
// os.Stderr, for example) keeps writing to the real stream.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrCaptureFailure reports that the process streams could not be redirected.
var ErrCaptureFailure = errors.New("capture failure")

// Result is the outcome of one captured invocation.
type Result struct {
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// Delegate is a tool entry point. It returns the tool's exit code.
type Delegate func(stdout, stderr io.Writer) int

type exitSignal struct{ code int }

// Exit stops the running delegate with the given code. It must only be
// called from the delegate's own goroutine.
func Exit(code int) {
	panic(exitSignal{code: code})
}

// invoke calls d exactly once. An Exit keeps its code; any other panic
// becomes exit code 1 with the panic value written to stderr.
func invoke(d Delegate, stdout, stderr io.Writer) (rc int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if sig, ok := r.(exitSignal); ok {
			rc = sig.code
			return
		}
		rc = 1
		fmt.Fprintf(stderr, "panic: %v\n", r)
	}()
	return d(stdout, stderr)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Buffered runs d against in-memory writers. Safe for concurrent use.
func Buffered(d Delegate) Result {
	var stdout, stderr syncBuffer
	rc := invoke(d, &stdout, &stderr)
	return Result{ReturnCode: rc, Stdout: stdout.String(), Stderr: stderr.String()}
}

var (
	mu   sync.Mutex // serializes Redirect
	pipe = os.Pipe
)

// Redirect runs d with os.Stdout and os.Stderr replaced by pipes and returns
// what was written to them. The original streams are restored before
// Redirect returns, whether d returns, panics or calls Exit. Concurrent calls
// are serialized.
func Redirect(d Delegate) (Result, error) {
	mu.Lock()
	defer mu.Unlock()

	outR, outW, err := pipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: stdout pipe: %v", ErrCaptureFailure, err)
	}
	errR, errW, err := pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return Result{}, fmt.Errorf("%w: stderr pipe: %v", ErrCaptureFailure, err)
	}
	defer outR.Close()
	defer errR.Close()

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&stdout, outR)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, errR)
		return err
	})

	rc := swapped(outW, errW, d)

	werr := errors.Join(outW.Close(), errW.Close())
	if err := errors.Join(werr, g.Wait()); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}
	return Result{ReturnCode: rc, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func swapped(stdout, stderr *os.File, d Delegate) int {
	origOut, origErr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = stdout, stderr
	defer func() {
		os.Stdout, os.Stderr = origOut, origErr
	}()
	return invoke(d, stdout, stderr)
}

// Package queuescanner provides concurrent task execution with progress tracking.
package queuescanner

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// Ctx provides execution context for queue scanner operations.
type Ctx struct {
	ScanComplete     int64      // Total completed scans (atomic)
	ScanSuccessCount int64      // Successful scans (atomic)
	dataList         []string   // Data items to process
	mx               sync.Mutex // Serializes output and file writes
	OutputFile       string     // Output file path for results
	outputErr        error      // first failed write to OutputFile
	startTime        int64      // Unix timestamp in nanoseconds when scan started

	ctx      context.Context
	out      io.Writer
	fd       int
	progress bool // out is a terminal
}

// Context is canceled when the scan is abandoned.
func (c *Ctx) Context() context.Context {
	return c.ctx
}

// Log prints a message, clearing any progress line first.
func (c *Ctx) Log(a ...any) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.progress {
		fmt.Fprintf(c.out, "\r\033[2K%s\n", fmt.Sprint(a...))
		return
	}
	fmt.Fprintln(c.out, fmt.Sprint(a...))
}

// Logf prints a formatted message with line clearing.
func (c *Ctx) Logf(f string, a ...any) {
	c.Log(fmt.Sprintf(f, a...))
}

// LogReplace displays real-time progress updates without newlines. It is a
// no-op unless the output is a terminal.
func (c *Ctx) LogReplace() {
	if !c.progress {
		return
	}
	total := len(c.dataList)
	scanSuccess := atomic.LoadInt64(&c.ScanSuccessCount)
	scanComplete := atomic.LoadInt64(&c.ScanComplete)
	scanCompletePercentage := float64(scanComplete) / float64(max(total, 1)) * 100

	etaStr := "--"
	if scanComplete > 0 && total > 0 {
		elapsed := float64(nowNano()-c.startTime) / 1e9 // seconds
		avgPerItem := elapsed / float64(scanComplete)
		remaining := float64(total - int(scanComplete))
		etaStr = formatSeconds(int(avgPerItem * remaining))
	}
	s := fmt.Sprintf(
		"%.2f%% - C: %d / %d - S: %d - ETA: %s",
		scanCompletePercentage,
		scanComplete,
		total,
		scanSuccess,
		etaStr,
	)

	// Handle terminal width to prevent wrapping
	if termWidth, _, err := term.GetSize(c.fd); err == nil {
		w := termWidth - 3
		if w > 0 && len(s) >= w {
			s = s[:w] + "..."
		}
	}

	c.mx.Lock()
	fmt.Fprint(c.out, "\r\033[2K", s, "\r")
	c.mx.Unlock()
}

// ScanSuccess records a successful scan and appends s to the output file if
// one is configured. The first write error is kept for OutputErr.
func (c *Ctx) ScanSuccess(s string) {
	if c.OutputFile != "" {
		c.mx.Lock()
		if err := appendLine(c.OutputFile, s); err != nil && c.outputErr == nil {
			c.outputErr = err
		}
		c.mx.Unlock()
	}

	atomic.AddInt64(&c.ScanSuccessCount, 1)
}

func appendLine(name, s string) error {
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(s + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// QueueScannerScanFunc defines the signature for scan worker functions.
type QueueScannerScanFunc func(c *Ctx, data string)

// QueueScanner manages concurrent task execution with progress tracking.
type QueueScanner struct {
	threads  int                  // Number of worker goroutines
	scanFunc QueueScannerScanFunc // Function called for each scan task
	queue    chan string          // Buffered channel for pending tasks
	wg       sync.WaitGroup       // Coordinates worker lifecycle
	ctx      *Ctx                 // Shared execution context
}

// NewQueueScanner creates a scanner with the specified thread count and scan
// function. Results and progress are written to out.
func NewQueueScanner(threads int, scanFunc QueueScannerScanFunc, out io.Writer) *QueueScanner {
	threads = max(threads, 1)
	c := &Ctx{out: out, fd: -1}
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		c.fd = int(f.Fd())
		c.progress = isatty.IsTerminal(f.Fd())
	}
	return &QueueScanner{
		threads:  threads,
		scanFunc: scanFunc,
		queue:    make(chan string, threads*2),
		ctx:      c,
	}
}

// run implements the worker goroutine logic for processing scan tasks.
func (s *QueueScanner) run() {
	defer s.wg.Done()

	for data := range s.queue {
		s.scanFunc(s.ctx, data)

		atomic.AddInt64(&s.ctx.ScanComplete, 1)
		s.ctx.LogReplace()
	}
}

// Add sets the scan tasks to process.
func (s *QueueScanner) Add(dataList []string) {
	s.ctx.dataList = dataList
}

// nowNano returns current Unix timestamp in nanoseconds.
func nowNano() int64 {
	return time.Now().UnixNano()
}

// formatSeconds formats seconds as H:MM:SS or M:SS.
func formatSeconds(sec int) string {
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Start runs every task and blocks until the workers finish. If ctx is
// canceled, queued tasks are dropped and ctx.Err() is returned once the
// in-flight tasks return.
func (s *QueueScanner) Start(ctx context.Context) error {
	s.ctx.ctx = ctx
	s.ctx.startTime = nowNano()
	if s.ctx.progress {
		s.ctx.writeRaw("\033[?25l") // hide cursor
		defer s.ctx.writeRaw("\033[?25h\r\033[2K")
	}

	for range s.threads {
		s.wg.Add(1)
		go s.run()
	}

feed:
	for _, data := range s.ctx.dataList {
		select {
		case s.queue <- data:
		case <-ctx.Done():
			break feed
		}
	}
	close(s.queue)

	s.wg.Wait()
	return ctx.Err()
}

func (c *Ctx) writeRaw(seq string) {
	c.mx.Lock()
	fmt.Fprint(c.out, seq)
	c.mx.Unlock()
}

// SetOutputFile configures where successful results are saved. The file is
// opened for append once so an unusable path is reported before scanning.
func (s *QueueScanner) SetOutputFile(filename string) error {
	s.ctx.OutputFile = filename
	if filename == "" {
		return nil
	}
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// OutputErr returns the first error hit while appending to the output file.
func (s *QueueScanner) OutputErr() error {
	s.ctx.mx.Lock()
	defer s.ctx.mx.Unlock()
	return s.ctx.outputErr
}

// Stats returns the completed and successful task counts.
func (s *QueueScanner) Stats() (complete, success int64) {
	return atomic.LoadInt64(&s.ctx.ScanComplete), atomic.LoadInt64(&s.ctx.ScanSuccessCount)
}

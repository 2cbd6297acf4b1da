package selftest

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	terminal "github.com/wayneashleyberry/terminal-dimensions"
)

const defaultRuleWidth = 60

// Report holds every case result in execution order.
type Report struct {
	results []Result
}

func (r *Report) add(res Result) {
	r.results = append(r.results, res)
}

// Results returns a copy of the recorded results.
func (r *Report) Results() []Result {
	return append([]Result(nil), r.results...)
}

func (r *Report) Total() int { return len(r.results) }

func (r *Report) Passed() int {
	n := 0
	for _, res := range r.results {
		if res.Passed {
			n++
		}
	}
	return n
}

func (r *Report) Failed() int { return r.Total() - r.Passed() }

// OK reports whether at least one case ran and every case passed.
func (r *Report) OK() bool {
	return r.Total() > 0 && r.Failed() == 0
}

// Suites returns suite names in first-seen order.
func (r *Report) Suites() []string {
	var names []string
	seen := make(map[string]bool)
	for _, res := range r.results {
		if !seen[res.Suite] {
			seen[res.Suite] = true
			names = append(names, res.Suite)
		}
	}
	return names
}

// Failures returns the failed results.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Print writes a human readable report to w. Statuses are colored when w is
// a terminal.
func (r *Report) Print(w io.Writer) {
	tty := isTerminal(w)
	pass := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	head := color.New(color.FgCyan)
	for _, c := range []*color.Color{pass, fail, head} {
		if tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	rule := strings.Repeat("=", ruleWidth(tty))
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "nxc self-test")
	fmt.Fprintln(w, rule)

	for i, suite := range r.Suites() {
		fmt.Fprintf(w, "\n%s\n", head.Sprintf("[TEST %d] %s", i+1, suite))
		for _, res := range r.results {
			if res.Suite != suite {
				continue
			}
			status := pass.Sprint("[PASS]")
			if !res.Passed {
				status = fail.Sprint("[FAIL]")
			}
			line := fmt.Sprintf("  %s %s", status, res.Name)
			if res.Message != "" {
				line += ": " + firstLine(res.Message)
			}
			fmt.Fprintln(w, line)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Total: %d  Passed: %d  Failed: %d\n", r.Total(), r.Passed(), r.Failed())
	if failures := r.Failures(); len(failures) > 0 {
		fmt.Fprintln(w, "Failures:")
		for _, res := range failures {
			fmt.Fprintf(w, "  %s/%s: %s\n", res.Suite, res.Name, res.Message)
		}
	}
	if r.OK() {
		fmt.Fprintln(w, pass.Sprint("Self-test passed"))
	} else {
		fmt.Fprintln(w, fail.Sprint("Self-test failed"))
	}
	fmt.Fprintln(w, rule)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func ruleWidth(tty bool) int {
	if !tty {
		return defaultRuleWidth
	}
	width, err := terminal.Width()
	if err != nil || width == 0 {
		return defaultRuleWidth
	}
	return min(int(width), 100)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

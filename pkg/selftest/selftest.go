// Package selftest validates an nxc installation from the inside: the tool's
// command surface, its resource tree, its state directories and the output
// capture used for programmatic calls.
package selftest

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Case is a single independent check. Run returns a short success message or
// an error describing the failure.
type Case struct {
	Suite string
	Name  string
	Run   func() (string, error)
}

// Result is the recorded outcome of a Case.
type Result struct {
	Suite    string
	Name     string
	Passed   bool
	Message  string
	Duration time.Duration
}

// Suite is a named group of cases.
type Suite struct {
	Name  string
	Cases func() []Case
}

// Runner runs suites in order.
type Runner struct {
	Suites []Suite
	Log    *zap.Logger
}

// Run executes every case of every suite and returns the aggregate report.
// A failing or panicking case is recorded and the run continues.
func (r *Runner) Run() *Report {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	rep := &Report{}
	for _, s := range r.Suites {
		cases, err := build(s)
		if err != nil {
			rep.add(Result{Suite: s.Name, Name: "setup", Message: err.Error()})
			continue
		}
		for _, c := range cases {
			res := runCase(c)
			if res.Suite == "" {
				res.Suite = s.Name
			}
			log.Debug("self-test case",
				zap.String("suite", res.Suite),
				zap.String("case", res.Name),
				zap.Bool("passed", res.Passed),
				zap.Duration("took", res.Duration))
			rep.add(res)
		}
	}
	return rep
}

func build(s Suite) (cases []Case, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Cases(), nil
}

func runCase(c Case) (res Result) {
	res = Result{Suite: c.Suite, Name: c.Name}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Passed = false
			res.Message = fmt.Sprintf("panic: %v", r)
		}
	}()

	msg, err := c.Run()
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.Passed = true
	res.Message = msg
	return res
}

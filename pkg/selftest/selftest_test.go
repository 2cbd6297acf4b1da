package selftest

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ayanrajpoot10/nxc-go/cmd"
	"github.com/ayanrajpoot10/nxc-go/pkg/bundle"
	"github.com/ayanrajpoot10/nxc-go/pkg/capture"
	"github.com/ayanrajpoot10/nxc-go/pkg/mode"
	"github.com/ayanrajpoot10/nxc-go/pkg/resources"
)

func ok(msg string) func() (string, error) {
	return func() (string, error) { return msg, nil }
}

func TestRunnerContinuesPastFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ran := 0
	r := &Runner{
		Log: zap.New(core),
		Suites: []Suite{
			{Name: "first", Cases: func() []Case {
				return []Case{
					{Name: "fails", Run: func() (string, error) { ran++; return "", errors.New("boom") }},
					{Name: "panics", Run: func() (string, error) { ran++; panic("kaboom") }},
					{Name: "passes", Run: func() (string, error) { ran++; return "fine", nil }},
				}
			}},
			{Name: "second", Cases: func() []Case {
				return []Case{{Name: "passes", Run: ok("fine")}}
			}},
		},
	}

	rep := r.Run()
	assert.Equal(t, 3, ran)
	assert.Equal(t, 4, rep.Total())
	assert.Equal(t, 2, rep.Passed())
	assert.Equal(t, 2, rep.Failed())
	assert.False(t, rep.OK())
	assert.Equal(t, []string{"first", "second"}, rep.Suites())

	failures := rep.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "boom", failures[0].Message)
	assert.Equal(t, "panic: kaboom", failures[1].Message)
	assert.Equal(t, "first", failures[1].Suite)

	assert.Equal(t, 4, logs.FilterMessage("self-test case").Len())
}

func TestRunnerSuiteSetupPanic(t *testing.T) {
	r := &Runner{Suites: []Suite{
		{Name: "broken", Cases: func() []Case { panic("no cases") }},
		{Name: "fine", Cases: func() []Case { return []Case{{Name: "a", Run: ok("")}} }},
	}}

	rep := r.Run()
	require.Equal(t, 2, rep.Total())
	res := rep.Results()[0]
	assert.Equal(t, "broken", res.Suite)
	assert.Equal(t, "setup", res.Name)
	assert.False(t, res.Passed)
	assert.True(t, rep.Results()[1].Passed)
}

func TestEmptyReportIsNotOK(t *testing.T) {
	assert.False(t, (&Runner{}).Run().OK())
}

func TestReportPrint(t *testing.T) {
	rep := (&Runner{Suites: []Suite{
		{Name: "basic", Cases: func() []Case {
			return []Case{
				{Name: "version", Run: ok("nxc 1.4.0")},
				{Name: "help", Run: func() (string, error) { return "", errors.New("exit code 1\nsecond line") }},
			}
		}},
		{Name: "data", Cases: func() []Case { return []Case{{Name: "nxc.yaml", Run: ok("")}} }},
	}}).Run()

	var buf bytes.Buffer
	rep.Print(&buf)
	out := buf.String()

	assert.NotContains(t, out, "\x1b[", "no color for non-terminals")
	assert.Contains(t, out, "[TEST 1] basic")
	assert.Contains(t, out, "[TEST 2] data")
	assert.Contains(t, out, "[PASS] version: nxc 1.4.0")
	assert.Contains(t, out, "[FAIL] help: exit code 1 ...")
	assert.Contains(t, out, "[PASS] nxc.yaml\n")
	assert.Contains(t, out, "Total: 3  Passed: 2  Failed: 1")
	assert.Contains(t, out, "  basic/help: exit code 1\nsecond line")
	assert.Contains(t, out, "Self-test failed")
	assert.Contains(t, out, strings.Repeat("=", defaultRuleWidth)+"\n")
}

func clearEnv(t *testing.T) {
	for _, k := range []string{
		resources.EnvProtocols, resources.EnvModules, resources.EnvData,
		resources.EnvDB, resources.EnvConfig, resources.EnvStateRoot,
	} {
		t.Setenv(k, "")
	}
}

func invokeTool(args []string) capture.Result {
	return capture.Buffered(func(stdout, stderr io.Writer) int {
		return cmd.Execute(args, stdout, stderr)
	})
}

func TestDefaultSuitesPassOnSourceTree(t *testing.T) {
	clearEnv(t)
	paths, err := resources.Resolve(
		mode.Detection{Mode: mode.Development, Base: bundle.SourceDir()},
		resources.Env{Getenv: func(string) string { return "" }, UserHomeDir: func() (string, error) { return t.TempDir(), nil }},
	)
	require.NoError(t, err)

	rep := (&Runner{Suites: DefaultSuites(Env{
		Invoke:       invokeTool,
		Paths:        paths,
		Protocols:    bundle.Protocols,
		DataManifest: bundle.DataManifest,
	})}).Run()

	for _, f := range rep.Failures() {
		t.Errorf("%s/%s: %s", f.Suite, f.Name, f.Message)
	}
	assert.True(t, rep.OK())
	assert.Equal(t, []string{"basic", "protocols", "modules", "paths", "state", "data", "arguments", "capture"}, rep.Suites())
}

func TestDefaultSuitesReportMissingTree(t *testing.T) {
	clearEnv(t)
	paths, err := resources.Resolve(
		mode.Detection{Mode: mode.Development, Base: t.TempDir()},
		resources.Env{Getenv: func(string) string { return "" }, UserHomeDir: func() (string, error) { return t.TempDir(), nil }},
	)
	require.NoError(t, err)

	broken := func(args []string) capture.Result {
		if len(args) > 0 && args[0] == "ftp" {
			return capture.Result{ReturnCode: 2, Stderr: "invalid protocol"}
		}
		return invokeTool(args)
	}
	rep := (&Runner{Suites: DefaultSuites(Env{
		Invoke:       broken,
		Paths:        paths,
		Protocols:    bundle.Protocols,
		DataManifest: bundle.DataManifest,
	})}).Run()

	assert.False(t, rep.OK())
	failed := make(map[string]string)
	for _, f := range rep.Failures() {
		failed[f.Suite+"/"+f.Name] = f.Message
	}
	assert.Contains(t, failed, "protocols/definitions")
	assert.Contains(t, failed["protocols/ftp"], "invalid protocol")
	assert.Contains(t, failed, "paths/protocols")
	assert.Contains(t, failed, "data/nxc.yaml")
	assert.NotContains(t, failed, "protocols/smb")
	assert.NotContains(t, failed, "state/workspace_db")
}

func TestCredentialsCaseUsesScratchWorkspace(t *testing.T) {
	clearEnv(t)
	paths, err := resources.Resolve(
		mode.Detection{Mode: mode.Development, Base: bundle.SourceDir()},
		resources.Env{Getenv: func(string) string { return "" }, UserHomeDir: func() (string, error) { return t.TempDir(), nil }},
	)
	require.NoError(t, err)

	var scanArgs []string
	invoke := func(args []string) capture.Result {
		if len(args) > 1 && args[1] == "127.0.0.1" {
			scanArgs = args
			ws := args[len(args)-1]
			require.NoError(t, os.MkdirAll(filepath.Join(paths.DBPath(), ws), 0o700))
		}
		return capture.Result{}
	}
	env := Env{Invoke: invoke, Paths: paths}

	var credentials Case
	for _, c := range env.argumentCases() {
		if c.Name == "credentials" {
			credentials = c
		}
	}
	require.NotNil(t, credentials.Run)
	_, err = credentials.Run()
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(scanArgs), 2)
	assert.Equal(t, "--workspace", scanArgs[len(scanArgs)-2])
	ws := scanArgs[len(scanArgs)-1]
	assert.True(t, strings.HasPrefix(ws, ".selftest-"), ws)
	assert.NoDirExists(t, filepath.Join(paths.DBPath(), ws))
	assert.NoDirExists(t, filepath.Join(paths.DBPath(), "default"))
}

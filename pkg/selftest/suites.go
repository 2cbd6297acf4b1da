package selftest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ayanrajpoot10/nxc-go/pkg/capture"
	"github.com/ayanrajpoot10/nxc-go/pkg/resources"
	"github.com/ayanrajpoot10/nxc-go/pkg/workspace"
)

// Env is what the default suites exercise.
type Env struct {
	// Invoke runs the tool the way a programmatic caller would.
	Invoke func(args []string) capture.Result

	Paths        *resources.Paths
	Protocols    []string // protocol definitions every build must ship
	DataManifest []string // files expected under the data directory
}

var semver = regexp.MustCompile(`\b\d+\.\d+\.\d+\b`)

// DefaultSuites returns the installation checks in run order.
func DefaultSuites(env Env) []Suite {
	return []Suite{
		{Name: "basic", Cases: env.basicCases},
		{Name: "protocols", Cases: env.protocolCases},
		{Name: "modules", Cases: env.moduleCases},
		{Name: "paths", Cases: env.pathCases},
		{Name: "state", Cases: env.stateCases},
		{Name: "data", Cases: env.dataCases},
		{Name: "arguments", Cases: env.argumentCases},
		{Name: "capture", Cases: env.captureCases},
	}
}

func describe(res capture.Result) string {
	msg := fmt.Sprintf("exit code %d", res.ReturnCode)
	if s := strings.TrimSpace(res.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (env Env) basicCases() []Case {
	return []Case{
		{Name: "version", Run: func() (string, error) {
			res := env.Invoke([]string{"--version"})
			if res.ReturnCode != 0 {
				return "", errors.New(describe(res))
			}
			version := strings.TrimSpace(res.Stdout)
			if !semver.MatchString(version) {
				return "", fmt.Errorf("no version number in %q", version)
			}
			return version, nil
		}},
		{Name: "help", Run: func() (string, error) {
			res := env.Invoke([]string{"--help"})
			if res.ReturnCode != 0 {
				return "", errors.New(describe(res))
			}
			if !strings.Contains(strings.ToLower(res.Stdout), "usage") {
				return "", errors.New("help output has no usage text")
			}
			return "help menu accessible", nil
		}},
	}
}

func (env Env) protocolCases() []Case {
	cases := []Case{{Name: "definitions", Run: func() (string, error) {
		var missing []string
		for _, p := range env.Protocols {
			if _, err := os.Stat(filepath.Join(env.Paths.ProtocolsPath(), p+".yaml")); err != nil {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			return "", fmt.Errorf("missing from %s: %s", env.Paths.ProtocolsPath(), strings.Join(missing, ", "))
		}
		return fmt.Sprintf("%d definitions", len(env.Protocols)), nil
	}}}

	for _, p := range env.Protocols {
		cases = append(cases, Case{Name: p, Run: func() (string, error) {
			res := env.Invoke([]string{p, "--help"})
			if res.ReturnCode != 0 {
				return "", errors.New(describe(res))
			}
			if len(res.Stdout) <= 100 {
				return "", fmt.Errorf("help output too short (%d chars)", len(res.Stdout))
			}
			if !strings.Contains(strings.ToLower(res.Stdout), p) {
				return "", fmt.Errorf("help output does not mention %s", p)
			}
			return strings.ToUpper(p) + " protocol available", nil
		}})
	}
	return cases
}

func (env Env) moduleCases() []Case {
	return []Case{
		{Name: "list", Run: func() (string, error) {
			res := env.Invoke([]string{"smb", "-L"})
			if res.ReturnCode != 0 {
				return "", errors.New(describe(res))
			}
			if !strings.Contains(res.Stdout, "spider_plus") {
				return "", errors.New("spider_plus not listed for smb")
			}
			return fmt.Sprintf("%d smb modules", strings.Count(res.Stdout, "[*]")), nil
		}},
		{Name: "options", Run: func() (string, error) {
			res := env.Invoke([]string{"smb", "-M", "spider_plus", "--options"})
			if res.ReturnCode != 0 {
				return "", errors.New(describe(res))
			}
			if !strings.Contains(res.Stdout, "spider_plus") {
				return "", errors.New("module options not shown")
			}
			return "module options accessible", nil
		}},
	}
}

func (env Env) pathCases() []Case {
	cases := []Case{{Name: "mode", Run: func() (string, error) {
		return fmt.Sprintf("%s mode, base %s", env.Paths.Mode(), env.Paths.Base()), nil
	}}}
	for _, d := range env.Paths.Dirs() {
		cases = append(cases, Case{Name: d.Name, Run: func() (string, error) {
			if !filepath.IsAbs(d.Path) {
				return "", fmt.Errorf("%s is not absolute", d.Path)
			}
			info, err := os.Stat(d.Path)
			if err != nil {
				return "", err
			}
			if !info.IsDir() {
				return "", fmt.Errorf("%s is not a directory", d.Path)
			}
			return d.Path, nil
		}})
	}
	return cases
}

// scratchWorkspace names a workspace that never collides with a user's own.
func scratchWorkspace() string {
	return ".selftest-" + uuid.NewString()
}

func (env Env) stateCases() []Case {
	writable := func(dir string) func() (string, error) {
		return func() (string, error) {
			if err := resources.CheckWritable(dir); err != nil {
				return "", err
			}
			return dir + " writable", nil
		}
	}
	return []Case{
		{Name: "db_writable", Run: writable(env.Paths.DBPath())},
		{Name: "config_writable", Run: writable(env.Paths.ConfigPath())},
		{Name: "workspace_db", Run: func() (string, error) {
			ws := scratchWorkspace()
			defer os.RemoveAll(filepath.Join(env.Paths.DBPath(), ws))

			store, err := workspace.Open(env.Paths.DBPath(), ws, "smb")
			if err != nil {
				return "", err
			}
			defer store.Close()

			ctx := context.Background()
			if err := store.AddHost(ctx, workspace.Host{IP: "127.0.0.1", Port: 445}); err != nil {
				return "", err
			}
			hosts, err := store.Hosts(ctx)
			if err != nil {
				return "", err
			}
			if len(hosts) != 1 {
				return "", fmt.Errorf("read back %d hosts, want 1", len(hosts))
			}
			return "workspace database read/write ok", nil
		}},
	}
}

func (env Env) dataCases() []Case {
	var cases []Case
	for _, name := range env.DataManifest {
		cases = append(cases, Case{Name: name, Run: func() (string, error) {
			p := filepath.Join(env.Paths.DataPath(), name)
			info, err := os.Stat(p)
			if err != nil {
				return "", err
			}
			if !info.Mode().IsRegular() {
				return "", fmt.Errorf("%s is not a regular file", p)
			}
			return fmt.Sprintf("%d bytes", info.Size()), nil
		}})
	}
	return cases
}

func (env Env) argumentCases() []Case {
	accept := func(args ...string) func() (string, error) {
		return func() (string, error) {
			res := env.Invoke(args)
			if res.ReturnCode != 0 {
				return "", errors.New(describe(res))
			}
			return "accepted", nil
		}
	}
	reject := func(args ...string) func() (string, error) {
		return func() (string, error) {
			res := env.Invoke(args)
			if res.ReturnCode == 0 {
				return "", errors.New("accepted an invalid command line")
			}
			if strings.TrimSpace(res.Stderr) == "" {
				return "", errors.New("rejected without a diagnostic")
			}
			return fmt.Sprintf("rejected with exit code %d", res.ReturnCode), nil
		}
	}
	return []Case{
		{Name: "credentials", Run: func() (string, error) {
			ws := scratchWorkspace()
			defer os.RemoveAll(filepath.Join(env.Paths.DBPath(), ws))
			return accept("smb", "127.0.0.1", "-u", "test", "-p", "test", "--timeout", "1", "--workspace", ws)()
		}},
		{Name: "global_option_first", Run: accept("--threads", "10", "smb", "--help")},
		{Name: "unknown_protocol", Run: reject("notaprotocol", "127.0.0.1")},
		{Name: "missing_target", Run: reject("smb")},
	}
}

func (env Env) captureCases() []Case {
	return []Case{
		{Name: "round_trip", Run: func() (string, error) {
			text := "nxc-capture-" + uuid.NewString()
			before := os.Stdout
			res, err := capture.Redirect(func(stdout, _ io.Writer) int {
				fmt.Fprint(stdout, text)
				return 42
			})
			if err != nil {
				return "", err
			}
			if res.Stdout != text || res.ReturnCode != 42 {
				return "", fmt.Errorf("got code %d stdout %q", res.ReturnCode, res.Stdout)
			}
			if os.Stdout != before {
				return "", errors.New("stdout not restored")
			}
			return "text and exit code preserved", nil
		}},
		{Name: "induced_failure", Run: func() (string, error) {
			before, beforeErr := os.Stdout, os.Stderr
			res, err := capture.Redirect(func(io.Writer, io.Writer) int {
				panic("self-test induced failure")
			})
			if err != nil {
				return "", err
			}
			if res.ReturnCode == 0 {
				return "", errors.New("failure reported exit code 0")
			}
			if os.Stdout != before || os.Stderr != beforeErr {
				return "", errors.New("streams not restored")
			}
			return fmt.Sprintf("failure reported exit code %d", res.ReturnCode), nil
		}},
		{Name: "early_exit", Run: func() (string, error) {
			res, err := capture.Redirect(func(io.Writer, io.Writer) int {
				capture.Exit(3)
				return 0
			})
			if err != nil {
				return "", err
			}
			if res.ReturnCode != 3 {
				return "", fmt.Errorf("exit code %d, want 3", res.ReturnCode)
			}
			return "exit code preserved", nil
		}},
		{Name: "api", Run: func() (string, error) {
			res := env.Invoke([]string{"--help"})
			if res.ReturnCode != 0 || res.Stdout == "" {
				return "", errors.New(describe(res))
			}
			return fmt.Sprintf("%d chars captured", len(res.Stdout)), nil
		}},
	}
}

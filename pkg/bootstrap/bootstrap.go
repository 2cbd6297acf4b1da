// Package bootstrap prepares the process environment for nxc and dispatches
// to the self-test or to the tool.
//
// Initialization runs at most once per App: optional bundle extraction, mode
// detection, resource resolution, environment export, first-run config and
// logger setup. A failure in any step is fatal and the tool is never invoked.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ayanrajpoot10/nxc-go/cmd"
	"github.com/ayanrajpoot10/nxc-go/pkg/bundle"
	"github.com/ayanrajpoot10/nxc-go/pkg/capture"
	"github.com/ayanrajpoot10/nxc-go/pkg/config"
	"github.com/ayanrajpoot10/nxc-go/pkg/logging"
	"github.com/ayanrajpoot10/nxc-go/pkg/mode"
	"github.com/ayanrajpoot10/nxc-go/pkg/resources"
	"github.com/ayanrajpoot10/nxc-go/pkg/selftest"
)

// Tool is the command line tool the bootstrap delegates to.
type Tool interface {
	Execute(args []string, stdout, stderr io.Writer) int
}

// ToolFunc adapts a function to Tool.
type ToolFunc func(args []string, stdout, stderr io.Writer) int

func (f ToolFunc) Execute(args []string, stdout, stderr io.Writer) int {
	return f(args, stdout, stderr)
}

// Options customizes an App. Zero values select the process defaults.
type Options struct {
	Tool        Tool
	ModeEnv     mode.Env
	ResourceEnv resources.Env
	Setenv      func(key, value string) error

	// Extract unpacks an embedded resource tree and returns its directory,
	// or "" when nothing was extracted. Defaults to extracting the embedded
	// tree in frozen builds.
	Extract func() (string, error)

	Stdout    io.Writer           // Main output, default os.Stdout
	Stderr    io.Writer           // Main diagnostics, default os.Stderr
	LogOutput zapcore.WriteSyncer // bootstrap log, default os.Stderr
}

// App is one bootstrap context.
type App struct {
	opts Options

	once  sync.Once
	det   mode.Detection
	paths *resources.Paths
	log   *zap.Logger
	err   error
}

// New returns an App. Nothing is resolved until first use.
func New(opts Options) *App {
	if opts.Tool == nil {
		opts.Tool = ToolFunc(cmd.Execute)
	}
	if opts.ModeEnv.Getenv == nil {
		opts.ModeEnv = mode.FromProcess()
	}
	if opts.ResourceEnv.Getenv == nil {
		opts.ResourceEnv = resources.ProcessEnv()
	}
	if opts.Setenv == nil {
		opts.Setenv = os.Setenv
	}
	if opts.Extract == nil && bundle.IsFrozen() {
		opts.Extract = extractEmbedded
	}
	return &App{opts: opts, log: zap.NewNop()}
}

// Init resolves the environment. It is safe to call repeatedly and from
// multiple goroutines; only the first call does any work.
func (a *App) Init() error {
	a.once.Do(func() {
		a.err = a.init()
	})
	return a.err
}

func (a *App) init() error {
	if a.opts.Extract != nil {
		dir, err := a.opts.Extract()
		if err != nil {
			return fmt.Errorf("extract bundle: %w", err)
		}
		if dir != "" {
			if err := a.opts.Setenv(mode.EnvBundleDir, dir); err != nil {
				return err
			}
		}
	}

	a.det = mode.Detect(a.opts.ModeEnv)
	paths, err := resources.Resolve(a.det, a.opts.ResourceEnv)
	if err != nil {
		return err
	}
	if err := paths.Export(a.opts.Setenv); err != nil {
		return err
	}
	a.paths = paths

	wrote, cfgErr := paths.EnsureConfig()
	cfg, err := config.LoadOrDefault(paths.ConfigFile())
	if err != nil {
		cfgErr = errors.Join(cfgErr, err)
		cfg = config.Default()
	}

	out := a.opts.LogOutput
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: out})
	if err != nil {
		return err
	}
	a.log = log.Named("bootstrap")

	if cfgErr != nil {
		a.log.Warn("using default configuration", zap.Error(cfgErr))
	}
	if wrote {
		a.log.Info("installed default configuration", zap.String("path", paths.ConfigFile()))
	}
	if a.det.Ambiguous {
		a.log.Warn("mode detection ambiguous, using working directory",
			zap.String("base", a.det.Base))
	}
	a.log.Debug("environment resolved",
		zap.Stringer("mode", a.det.Mode),
		zap.String("source", string(a.det.Source)),
		zap.String("protocols", paths.ProtocolsPath()),
		zap.String("db", paths.DBPath()))
	return nil
}

// Paths returns the resolved layout, or nil before a successful Init.
func (a *App) Paths() *resources.Paths { return a.paths }

// Detection returns the mode detection outcome, valid after Init.
func (a *App) Detection() mode.Detection { return a.det }

func fatal(err error) string {
	return fmt.Sprintf("nxc: fatal: %v\n", err)
}

func (a *App) stdout() io.Writer {
	if a.opts.Stdout != nil {
		return a.opts.Stdout
	}
	return os.Stdout
}

func (a *App) stderr() io.Writer {
	if a.opts.Stderr != nil {
		return a.opts.Stderr
	}
	return os.Stderr
}

// Main is the command line entry. Without arguments it runs the self-test
// and prints the report; otherwise it hands args to the tool on the real
// streams. It returns the process exit code.
func (a *App) Main(args []string) int {
	if err := a.Init(); err != nil {
		fmt.Fprint(a.stderr(), fatal(err))
		return 1
	}
	defer func() { _ = a.log.Sync() }()

	if len(args) == 0 {
		out := a.stdout()
		fmt.Fprintf(out, "nxc %s - %s (%s mode, base %s)\n", cmd.Version, cmd.Codename, a.det.Mode, a.det.Base)
		rep := a.SelfTest()
		rep.Print(out)
		if !rep.OK() {
			return 1
		}
		return 0
	}
	return a.opts.Tool.Execute(args, a.stdout(), a.stderr())
}

// Run is the programmatic entry. The tool's output is captured instead of
// reaching the process streams.
func (a *App) Run(args []string) capture.Result {
	if err := a.Init(); err != nil {
		return capture.Result{ReturnCode: 1, Stderr: fatal(err)}
	}
	args = append([]string{}, args...)
	res, err := capture.Redirect(func(stdout, stderr io.Writer) int {
		return a.opts.Tool.Execute(args, stdout, stderr)
	})
	if err != nil {
		a.log.Error("capture failed", zap.Error(err))
		return capture.Result{ReturnCode: 1, Stderr: fatal(err)}
	}
	return res
}

// SelfTest runs the installation checks against this App.
func (a *App) SelfTest() *selftest.Report {
	if err := a.Init(); err != nil {
		return (&selftest.Runner{Suites: []selftest.Suite{{
			Name: "bootstrap",
			Cases: func() []selftest.Case {
				return []selftest.Case{{Name: "init", Run: func() (string, error) { return "", err }}}
			},
		}}}).Run()
	}
	r := &selftest.Runner{
		Log: a.log.Named("selftest"),
		Suites: selftest.DefaultSuites(selftest.Env{
			Invoke:       a.Run,
			Paths:        a.paths,
			Protocols:    bundle.Protocols,
			DataManifest: bundle.DataManifest,
		}),
	}
	return r.Run()
}

func extractEmbedded() (string, error) {
	if os.Getenv(mode.EnvBundleDir) != "" {
		return "", nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, "nxc")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return bundle.Extract(dir)
}

var defaultApp = sync.OnceValue(func() *App { return New(Options{}) })

// Main runs the process-wide App's command line entry.
func Main(args []string) int {
	return defaultApp().Main(args)
}

// Run runs args through the process-wide App and returns the captured result.
func Run(args []string) capture.Result {
	return defaultApp().Run(args)
}

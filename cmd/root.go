// Package cmd implements the nxc command line tool.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ayanrajpoot10/nxc-go/pkg/config"
	"github.com/ayanrajpoot10/nxc-go/pkg/logging"
	"github.com/ayanrajpoot10/nxc-go/pkg/resources"
)

// Version information, overridable at link time.
var (
	Version  = "1.4.0"
	Codename = "Yippie-Ki-Yay"
)

// Exit codes returned by Execute.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

type globalFlags struct {
	threads   int
	timeout   int
	verbose   bool
	logFile   string
	workspace string
}

// invocation holds the state of one Execute call. Each call builds its own
// command tree so flag values never leak between calls.
type invocation struct {
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags
	cfg    *config.Config
	cfgErr error // nxc.yaml could not be used
	cat    *catalog
	log    *zap.Logger
}

// usageError is a command line the parser rejected.
type usageError struct {
	cmd *cobra.Command
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(cmd *cobra.Command, format string, a ...any) error {
	return &usageError{cmd: cmd, err: fmt.Errorf(format, a...)}
}

// Execute runs nxc with args and returns its exit code. Protocol, module and
// data directories and the workspace store are taken from the environment
// exported by the bootstrap, falling back to the embedded resource tree.
func Execute(args []string, stdout, stderr io.Writer) int {
	inv := &invocation{stdout: stdout, stderr: stderr, log: zap.NewNop()}
	defer func() { _ = inv.log.Sync() }()

	rootCmd, err := inv.newRootCmd()
	if err != nil {
		fmt.Fprintf(stderr, "nxc: %v\n", err)
		return ExitError
	}
	if args == nil {
		args = []string{} // nil makes cobra fall back to os.Args
	}
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()
	var ue *usageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ue):
		fmt.Fprint(stderr, ue.cmd.UsageString())
		fmt.Fprintf(stderr, "%s: error: %v\n", ue.cmd.CommandPath(), ue.err)
		return ExitUsage
	default:
		fmt.Fprintf(stderr, "nxc: %v\n", err)
		return ExitError
	}
}

func (inv *invocation) newRootCmd() (*cobra.Command, error) {
	cfg := config.Default()
	if dir := os.Getenv(resources.EnvConfig); dir != "" {
		loaded, err := config.LoadOrDefault(filepath.Join(dir, config.FileName))
		if err != nil {
			inv.cfgErr = err
		} else {
			cfg = loaded
		}
	}
	inv.cfg = cfg

	cat, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	inv.cat = cat

	rootCmd := &cobra.Command{
		Use:     "nxc",
		Short:   "Network execution and enumeration tool",
		Long:    strings.TrimRight(cat.banner, "\n") + "\n\nnxc " + Version + " - " + Codename + "\n\nAvailable protocols: " + strings.Join(cat.protocolNames(), ", "),
		Version: Version,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef(cmd, "a protocol is required (choose from %s)", strings.Join(cat.protocolNames(), ", "))
			}
			return usagef(cmd, "invalid protocol %q (choose from %s)", args[0], strings.Join(cat.protocolNames(), ", "))
		},
		PersistentPreRunE: inv.setupLogger,
		SilenceErrors:     true,
		SilenceUsage:      true,
	}
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}} - " + Codename + "\n")
	rootCmd.SetOut(inv.stdout)
	rootCmd.SetErr(inv.stderr)
	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &usageError{cmd: c, err: err}
	})
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := rootCmd.PersistentFlags()
	pf.IntVarP(&inv.flags.threads, "threads", "t", cfg.Threads, "total threads to use")
	pf.IntVar(&inv.flags.timeout, "timeout", cfg.Timeout, "connection timeout in seconds")
	pf.BoolVar(&inv.flags.verbose, "verbose", false, "enable verbose output")
	pf.StringVar(&inv.flags.logFile, "log", "", "also write results to this file")
	pf.StringVar(&inv.flags.workspace, "workspace", cfg.Workspace, "workspace to record results in")

	for _, p := range cat.protocols {
		rootCmd.AddCommand(inv.newProtocolCmd(p))
	}
	return rootCmd, nil
}

func (inv *invocation) setupLogger(cmd *cobra.Command, _ []string) error {
	opts := logging.Options{
		Level:  inv.cfg.LogLevel,
		Format: inv.cfg.LogFormat,
		Output: zapcore.Lock(zapcore.AddSync(inv.stderr)),
	}
	log, err := logging.New(opts.Verbose(inv.flags.verbose))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	inv.log = log.Named(cmd.Name())
	if inv.cfgErr != nil {
		inv.log.Warn("using default configuration", zap.Error(inv.cfgErr))
	}
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ayanrajpoot10/nxc-go/pkg/queuescanner"
	"github.com/ayanrajpoot10/nxc-go/pkg/resources"
	"github.com/ayanrajpoot10/nxc-go/pkg/workspace"
)

type protocolFlags struct {
	usernames     []string
	passwords     []string
	port          int
	modules       []string
	moduleOptions []string
	listModules   bool
	showOptions   bool
	extra         map[string]func() string // protocol specific options, rendered
}

func (inv *invocation) newProtocolCmd(p Protocol) *cobra.Command {
	f := &protocolFlags{extra: make(map[string]func() string)}

	long := p.Description
	if p.Details != "" {
		long += "\n\n" + strings.TrimSpace(p.Details)
	}
	c := &cobra.Command{
		Use:     p.Name + " [target ...]",
		Short:   p.Description,
		Long:    long,
		Example: fmt.Sprintf("  nxc %[1]s 192.168.1.0/24\n  nxc %[1]s targets.txt -u admin -p 'Passw0rd!'\n  nxc %[1]s -L", p.Name),
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return inv.runProtocol(cmd, p, f, args)
		},
	}

	fs := c.Flags()
	fs.SortFlags = false
	fs.StringArrayVarP(&f.usernames, "username", "u", nil, "username(s) or file(s) containing usernames")
	fs.StringArrayVarP(&f.passwords, "password", "p", nil, "password(s) or file(s) containing passwords")
	fs.IntVar(&f.port, "port", p.Port, fmt.Sprintf("%s port", strings.ToUpper(p.Name)))
	fs.StringSliceVarP(&f.modules, "module", "M", nil, "module to use")
	fs.StringArrayVarP(&f.moduleOptions, "module-option", "o", nil, "module option as KEY=VALUE")
	fs.BoolVarP(&f.listModules, "list-modules", "L", false, "list available modules")
	fs.BoolVar(&f.showOptions, "options", false, "display module options")

	f.addOptions(fs, p.Options)
	return c
}

// addOptions registers the protocol's own options on fs.
func (f *protocolFlags) addOptions(fs *pflag.FlagSet, opts []Option) {
	for _, o := range opts {
		switch o.Type {
		case "bool":
			def, _ := strconv.ParseBool(o.Default)
			v := fs.Bool(o.Name, def, o.Usage)
			f.extra[o.Name] = func() string { return strconv.FormatBool(*v) }
		case "int":
			def, _ := strconv.Atoi(o.Default)
			v := fs.Int(o.Name, def, o.Usage)
			f.extra[o.Name] = func() string { return strconv.Itoa(*v) }
		default:
			v := fs.String(o.Name, o.Default, o.Usage)
			f.extra[o.Name] = func() string { return *v }
		}
	}
}

func (inv *invocation) runProtocol(cmd *cobra.Command, p Protocol, f *protocolFlags, args []string) error {
	if f.listModules {
		inv.listModules(p)
		return nil
	}

	mods, err := inv.selectModules(p, f)
	if err != nil {
		return err
	}
	if f.showOptions {
		if len(mods) == 0 {
			return usagef(cmd, "--options requires -M")
		}
		for _, m := range mods {
			inv.printModuleOptions(m)
		}
		return nil
	}

	if len(args) == 0 {
		return usagef(cmd, "at least one target is required")
	}
	if f.port <= 0 || f.port > 65535 {
		return usagef(cmd, "invalid port %d", f.port)
	}
	hosts, err := ExpandTargets(args)
	if err != nil {
		return err
	}

	log := inv.log.With(zap.String("protocol", p.Name), zap.Int("port", f.port))
	for name, v := range f.extra {
		log.Debug("protocol option", zap.String("name", name), zap.String("value", v()))
	}
	if len(f.usernames) > 0 || len(f.passwords) > 0 {
		log.Debug("credentials supplied", zap.Int("usernames", len(f.usernames)), zap.Int("passwords", len(f.passwords)))
	}
	for _, m := range mods {
		fmt.Fprintf(inv.stdout, "[*] Loaded module %s\n", m.Name)
	}

	var store *workspace.Store
	if dbDir := inv.dbDir(); dbDir != "" {
		store, err = workspace.Open(dbDir, inv.flags.workspace, p.Name)
		if err != nil {
			return err
		}
		defer store.Close()
		log.Debug("recording hosts", zap.String("db", store.Path()))
	}

	probe := &prober{
		protocol: p.Name,
		port:     f.port,
		timeout:  inv.timeout(),
		store:    store,
		log:      log,
	}
	scanner := queuescanner.NewQueueScanner(inv.flags.threads, probe.scan, inv.stdout)
	scanner.Add(hosts)
	if err := scanner.SetOutputFile(inv.flags.logFile); err != nil {
		return fmt.Errorf("--log: %w", err)
	}

	if err := scanner.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := scanner.OutputErr(); err != nil {
		log.Warn("results not saved", zap.String("file", inv.flags.logFile), zap.Error(err))
	}
	complete, success := scanner.Stats()
	log.Info("scan complete", zap.Int64("targets", complete), zap.Int64("reachable", success))
	return nil
}

func (inv *invocation) selectModules(p Protocol, f *protocolFlags) ([]Module, error) {
	var mods []Module
	for _, name := range f.modules {
		m, ok := inv.cat.module(name)
		if !ok || !m.Supports(p.Name) {
			return nil, fmt.Errorf("module %q not found for protocol %s", name, p.Name)
		}
		mods = append(mods, m)
	}
	for _, kv := range f.moduleOptions {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("module option %q: want KEY=VALUE", kv)
		}
		if len(mods) == 0 {
			return nil, errors.New("module options require -M")
		}
		found := false
		for _, m := range mods {
			if _, ok := m.option(key); ok {
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("module option %q is not accepted by the selected modules", key)
		}
	}
	return mods, nil
}

func (inv *invocation) listModules(p Protocol) {
	mods := inv.cat.modulesFor(p.Name)
	fmt.Fprintf(inv.stdout, "%s modules:\n", strings.ToUpper(p.Name))
	if len(mods) == 0 {
		fmt.Fprintln(inv.stdout, "  (none)")
		return
	}
	for _, m := range mods {
		safe := ""
		if !m.OpsecSafe {
			safe = " [not opsec safe]"
		}
		fmt.Fprintf(inv.stdout, "[*] %-20s %s%s\n", m.Name, m.Description, safe)
	}
}

func (inv *invocation) printModuleOptions(m Module) {
	fmt.Fprintf(inv.stdout, "[*] %s module options:\n", m.Name)
	if len(m.Options) == 0 {
		fmt.Fprintln(inv.stdout, "    No options")
		return
	}
	for _, o := range m.Options {
		def := o.Default
		if def == "" {
			def = "<none>"
		}
		fmt.Fprintf(inv.stdout, "    %-16s %s (default: %s)\n", o.Name, o.Usage, def)
	}
}

func (inv *invocation) dbDir() string {
	return strings.TrimSpace(os.Getenv(resources.EnvDB))
}

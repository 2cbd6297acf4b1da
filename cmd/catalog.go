package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ayanrajpoot10/nxc-go/pkg/bundle"
	"github.com/ayanrajpoot10/nxc-go/pkg/resources"
)

// Protocol is a protocol definition read from <protocols>/<name>.yaml.
type Protocol struct {
	Name        string   `yaml:"name"`
	Port        int      `yaml:"port"`
	Description string   `yaml:"description"`
	Details     string   `yaml:"details"`
	Options     []Option `yaml:"options"`
}

// Option is a protocol specific flag.
type Option struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // bool, int or string
	Default string `yaml:"default"`
	Usage   string `yaml:"usage"`
}

// Module is a module definition read from <modules>/<name>.yaml.
type Module struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Protocols     []string       `yaml:"protocols"`
	OpsecSafe     bool           `yaml:"opsec_safe"`
	MultipleHosts bool           `yaml:"multiple_hosts"`
	Options       []ModuleOption `yaml:"options"`
}

type ModuleOption struct {
	Name    string `yaml:"name"`
	Default string `yaml:"default"`
	Usage   string `yaml:"usage"`
}

// Supports reports whether the module runs against proto.
func (m Module) Supports(proto string) bool {
	return slices.Contains(m.Protocols, proto)
}

func (m Module) option(name string) (ModuleOption, bool) {
	for _, o := range m.Options {
		if strings.EqualFold(o.Name, name) {
			return o, true
		}
	}
	return ModuleOption{}, false
}

// flags every protocol command defines before its own options
var reservedFlags = []string{
	"username", "password", "port", "module", "module-option", "list-modules", "options",
	"help", "threads", "timeout", "verbose", "log", "workspace", "version",
}

type catalog struct {
	protocols []Protocol // sorted by name
	modules   []Module   // sorted by name
	banner    string
}

func (c *catalog) protocolNames() []string {
	names := make([]string, len(c.protocols))
	for i, p := range c.protocols {
		names[i] = p.Name
	}
	return names
}

func (c *catalog) module(name string) (Module, bool) {
	for _, m := range c.modules {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Module{}, false
}

func (c *catalog) modulesFor(proto string) []Module {
	var out []Module
	for _, m := range c.modules {
		if m.Supports(proto) {
			out = append(out, m)
		}
	}
	return out
}

// resourceFS returns the directory named by the exported environment variable,
// or the embedded copy when the tool runs without a bootstrap.
func resourceFS(envKey, sub string) (fs.FS, string, error) {
	if dir := os.Getenv(envKey); dir != "" {
		return os.DirFS(dir), dir, nil
	}
	fsys, err := fs.Sub(bundle.FS(), sub)
	return fsys, "embedded " + sub, err
}

func loadCatalog() (*catalog, error) {
	c := &catalog{}

	fsys, where, err := resourceFS(resources.EnvProtocols, bundle.ProtocolsDir)
	if err != nil {
		return nil, err
	}
	if err := decodeDir(fsys, where, func(name string, data []byte) error {
		var p Protocol
		if err := yaml.Unmarshal(data, &p); err != nil {
			return err
		}
		if err := p.validate(name); err != nil {
			return err
		}
		c.protocols = append(c.protocols, p)
		return nil
	}); err != nil {
		return nil, err
	}
	if len(c.protocols) == 0 {
		return nil, fmt.Errorf("no protocol definitions in %s", where)
	}

	fsys, where, err = resourceFS(resources.EnvModules, bundle.ModulesDir)
	if err != nil {
		return nil, err
	}
	if err := decodeDir(fsys, where, func(name string, data []byte) error {
		var m Module
		if err := yaml.Unmarshal(data, &m); err != nil {
			return err
		}
		if m.Name == "" {
			m.Name = name
		}
		c.modules = append(c.modules, m)
		return nil
	}); err != nil {
		return nil, err
	}

	fsys, _, err = resourceFS(resources.EnvData, bundle.DataDir)
	if err == nil {
		if data, err := fs.ReadFile(fsys, "banner.txt"); err == nil {
			c.banner = string(data)
		}
	}
	return c, nil
}

// decodeDir calls fn for every .yaml file in fsys, in name order.
func decodeDir(fsys fs.FS, where string, fn func(name string, data []byte) error) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read %s: %w", where, err)
	}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return fmt.Errorf("read %s/%s: %w", where, e.Name(), err)
		}
		if err := fn(strings.TrimSuffix(e.Name(), ".yaml"), data); err != nil {
			return fmt.Errorf("%s/%s: %w", where, e.Name(), err)
		}
	}
	return nil
}

func (p *Protocol) validate(file string) error {
	if p.Name == "" {
		p.Name = file
	}
	if p.Name != file {
		return fmt.Errorf("name %q does not match file name", p.Name)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("port %d out of range", p.Port)
	}
	var errs []error
	seen := make(map[string]bool)
	for _, o := range p.Options {
		if o.Name == "" || slices.Contains(reservedFlags, o.Name) || seen[o.Name] {
			errs = append(errs, fmt.Errorf("option %q collides with another flag", o.Name))
			continue
		}
		seen[o.Name] = true
		switch o.Type {
		case "bool", "string", "":
			if o.Type == "bool" && o.Default != "" {
				if _, err := strconv.ParseBool(o.Default); err != nil {
					errs = append(errs, fmt.Errorf("option %q: default: %w", o.Name, err))
				}
			}
		case "int":
			if o.Default != "" {
				if _, err := strconv.Atoi(o.Default); err != nil {
					errs = append(errs, fmt.Errorf("option %q: default: %w", o.Name, err))
				}
			}
		default:
			errs = append(errs, fmt.Errorf("option %q: unknown type %q", o.Name, o.Type))
		}
	}
	return errors.Join(errs...)
}

// Package resources resolves the directories nxc reads from and writes to.
//
// The read-only resource tree (protocol definitions, modules, data files)
// lives under the base chosen by the mode detector. The writable state tree
// always lives under the user's home directory, whatever the mode.
package resources

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ayanrajpoot10/nxc-go/pkg/bundle"
	"github.com/ayanrajpoot10/nxc-go/pkg/config"
	"github.com/ayanrajpoot10/nxc-go/pkg/mode"
)

// Environment variables read by Resolve and published by Export.
const (
	EnvStateRoot = "NXC_PATH" // explicit state root, default ~/.nxc
	EnvDB        = "NXC_DB"   // explicit workspace store, default <root>/workspaces

	EnvProtocols = "NXC_PROTOCOLS_PATH"
	EnvModules   = "NXC_MODULES_PATH"
	EnvData      = "NXC_DATA_PATH"
	EnvConfig    = "NXC_CONFIG_PATH"
)

const (
	stateDirName     = ".nxc"
	workspaceDirName = "workspaces"
	logsDirName      = "logs"
)

// Env is the slice of process state Resolve depends on.
type Env struct {
	Getenv      func(string) string
	UserHomeDir func() (string, error)
}

// ProcessEnv returns an Env backed by the running process.
func ProcessEnv() Env {
	return Env{Getenv: os.Getenv, UserHomeDir: os.UserHomeDir}
}

// Paths is the resolved directory layout. It is immutable once returned by
// Resolve and safe to share.
type Paths struct {
	mode      mode.Mode
	base      string
	protocols string
	modules   string
	data      string
	root      string
	db        string
	config    string
	logs      string
}

// Resolve builds Paths for det. In bundled mode every resource directory must
// exist. The state directories are created if absent and must be writable.
func Resolve(det mode.Detection, env Env) (*Paths, error) {
	if !filepath.IsAbs(det.Base) {
		return nil, fmt.Errorf("resource base %q is not absolute", det.Base)
	}
	tree := filepath.Join(det.Base, bundle.Root)
	p := &Paths{
		mode:      det.Mode,
		base:      det.Base,
		protocols: filepath.Join(tree, bundle.ProtocolsDir),
		modules:   filepath.Join(tree, bundle.ModulesDir),
		data:      filepath.Join(tree, bundle.DataDir),
	}

	if det.Mode == mode.Bundled {
		for _, dir := range []string{p.protocols, p.modules, p.data} {
			if err := requireDir(dir); err != nil {
				return nil, err
			}
		}
	}

	root, err := stateRoot(env)
	if err != nil {
		return nil, err
	}
	p.root = root
	p.config = root
	p.logs = filepath.Join(root, logsDirName)
	p.db = filepath.Join(root, workspaceDirName)
	if dir := strings.TrimSpace(env.Getenv(EnvDB)); dir != "" {
		if p.db, err = filepath.Abs(dir); err != nil {
			return nil, &PathError{Kind: ErrPermissionDenied, Path: dir, Err: err}
		}
	}

	for _, dir := range []string{p.root, p.db, p.logs} {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func stateRoot(env Env) (string, error) {
	if dir := strings.TrimSpace(env.Getenv(EnvStateRoot)); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", &PathError{Kind: ErrPermissionDenied, Path: dir, Err: err}
		}
		return abs, nil
	}
	home, err := env.UserHomeDir()
	if err != nil {
		return "", &PathError{Kind: ErrPermissionDenied, Path: "~/" + stateDirName, Err: err}
	}
	return filepath.Join(home, stateDirName), nil
}

func requireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return &PathError{Kind: ErrResourceNotFound, Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &PathError{Kind: ErrResourceNotFound, Path: dir, Err: errors.New("not a directory")}
	}
	return nil
}

// ensureDir creates dir if absent and checks it is writable. MkdirAll is
// create-if-absent, so independent instances racing on first start agree.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &PathError{Kind: ErrPermissionDenied, Path: dir, Err: err}
	}
	return CheckWritable(dir)
}

// CheckWritable verifies dir accepts new files by creating and removing a
// uniquely named probe.
func CheckWritable(dir string) error {
	if err := accessible(dir); err != nil {
		return &PathError{Kind: ErrPermissionDenied, Path: dir, Err: err}
	}
	probe := filepath.Join(dir, ".write_test-"+uuid.NewString())
	f, err := os.OpenFile(probe, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return &PathError{Kind: ErrPermissionDenied, Path: dir, Err: err}
	}
	_, werr := f.WriteString("nxc")
	cerr := f.Close()
	rerr := os.Remove(probe)
	if err := errors.Join(werr, cerr, rerr); err != nil {
		return &PathError{Kind: ErrPermissionDenied, Path: dir, Err: err}
	}
	return nil
}

func (p *Paths) Mode() mode.Mode       { return p.mode }
func (p *Paths) Base() string          { return p.base }
func (p *Paths) ProtocolsPath() string { return p.protocols }
func (p *Paths) ModulesPath() string   { return p.modules }
func (p *Paths) DataPath() string      { return p.data }
func (p *Paths) RootPath() string      { return p.root }
func (p *Paths) DBPath() string        { return p.db }
func (p *Paths) ConfigPath() string    { return p.config }
func (p *Paths) LogsPath() string      { return p.logs }

// ConfigFile is the user's configuration file inside ConfigPath.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.config, config.FileName)
}

// Dirs returns every resolved directory keyed by a short name, in a stable
// order suitable for reporting.
func (p *Paths) Dirs() []NamedPath {
	return []NamedPath{
		{"protocols", p.protocols},
		{"modules", p.modules},
		{"data", p.data},
		{"state", p.root},
		{"db", p.db},
		{"config", p.config},
	}
}

// NamedPath pairs a directory with its role.
type NamedPath struct {
	Name string
	Path string
}

// Export publishes the layout to the environment the scanner reads. A
// resource directory that does not exist is exported empty, which leaves the
// scanner on its embedded copy.
func (p *Paths) Export(setenv func(key, value string) error) error {
	vars := [][2]string{
		{EnvProtocols, existingDir(p.protocols)},
		{EnvModules, existingDir(p.modules)},
		{EnvData, existingDir(p.data)},
		{EnvStateRoot, p.root},
		{EnvDB, p.db},
		{EnvConfig, p.config},
	}
	for _, kv := range vars {
		if err := setenv(kv[0], kv[1]); err != nil {
			return fmt.Errorf("export %s: %w", kv[0], err)
		}
	}
	return nil
}

func existingDir(dir string) string {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ""
	}
	return dir
}

// EnsureConfig installs the default configuration into ConfigPath unless a
// file is already there. The template comes from the data directory, or from
// the embedded tree when the data directory lacks it. It reports whether a
// file was written.
func (p *Paths) EnsureConfig() (bool, error) {
	template, err := os.ReadFile(filepath.Join(p.data, config.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		template, err = bundle.ReadFile(bundle.DataDir + "/" + config.FileName)
	}
	if err != nil {
		return false, fmt.Errorf("read default config: %w", err)
	}

	f, err := os.OpenFile(p.ConfigFile(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, &PathError{Kind: ErrPermissionDenied, Path: p.ConfigFile(), Err: err}
	}
	if _, err := f.Write(template); err != nil {
		f.Close()
		return false, &PathError{Kind: ErrPermissionDenied, Path: p.ConfigFile(), Err: err}
	}
	if err := f.Close(); err != nil {
		return false, &PathError{Kind: ErrPermissionDenied, Path: p.ConfigFile(), Err: err}
	}
	return true, nil
}

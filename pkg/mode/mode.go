// Package mode decides whether nxc runs from a self-extracting bundle or from
// an unpacked source tree.
package mode

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ayanrajpoot10/nxc-go/pkg/bundle"
)

// Mode is the execution mode of the process.
type Mode int

const (
	Development Mode = iota
	Bundled
)

func (m Mode) String() string {
	switch m {
	case Development:
		return "development"
	case Bundled:
		return "bundled"
	default:
		return "unknown"
	}
}

// Environment variables consulted by Detect.
const (
	EnvBundleDir   = "NXC_BUNDLE_DIR"   // extraction directory of a bundled build
	EnvFrozen      = "NXC_FROZEN"       // runtime flag for standalone bundles
	EnvInstallRoot = "NXC_INSTALL_ROOT" // configured install root
)

// Source names the search step that produced a Detection.
type Source string

const (
	SourceBundleDir   Source = "extraction directory"
	SourceFrozen      Source = "executable directory (frozen)"
	SourceInstallRoot Source = "install root"
	SourceExecutable  Source = "executable directory"
	SourceSourceTree  Source = "source tree"
	SourceWorkingDir  Source = "working directory"
)

// Env is the slice of process state Detect depends on.
type Env struct {
	Getenv     func(string) string
	Executable func() (string, error)
	SourceDir  func() string
	Getwd      func() (string, error)
	Stat       func(string) (fs.FileInfo, error)

	// EvalSymlinks resolves the executable path. Nil leaves it as reported.
	EvalSymlinks func(string) (string, error)
}

// FromProcess returns an Env backed by the running process.
func FromProcess() Env {
	return Env{
		Getenv:     os.Getenv,
		Executable: os.Executable,
		SourceDir:  bundle.SourceDir,
		Getwd:      os.Getwd,
		Stat:       os.Stat,

		EvalSymlinks: filepath.EvalSymlinks,
	}
}

// Detection is the outcome of Detect.
type Detection struct {
	Mode   Mode
	Base   string // absolute directory containing the nxc resource tree
	Source Source

	// Ambiguous is set when no search step located the resource tree and
	// Detect fell back to Development in the working directory.
	Ambiguous bool
}

// Detect runs the ordered search and returns the first match:
//
//  1. NXC_BUNDLE_DIR                      -> Bundled
//  2. NXC_FROZEN                          -> Bundled, executable directory
//  3. NXC_INSTALL_ROOT containing nxc/    -> Development
//  4. executable directory containing nxc/ -> Development
//  5. source tree containing nxc/          -> Development
//  6. otherwise                           -> Development, working directory, Ambiguous
//
// Detect has no side effects; everything it observes comes through env.
func Detect(env Env) Detection {
	if dir := strings.TrimSpace(env.Getenv(EnvBundleDir)); dir != "" {
		return Detection{Mode: Bundled, Base: env.abs(dir), Source: SourceBundleDir}
	}
	if truthy(env.Getenv(EnvFrozen)) {
		if exe, err := env.Executable(); err == nil {
			return Detection{Mode: Bundled, Base: filepath.Dir(env.abs(exe)), Source: SourceFrozen}
		}
	}

	for _, c := range env.candidates() {
		if c.dir != "" && env.hasTree(c.dir) {
			return Detection{Mode: Development, Base: env.abs(c.dir), Source: c.source}
		}
	}

	wd, err := env.Getwd()
	if err != nil {
		wd = "."
	}
	return Detection{Mode: Development, Base: env.abs(wd), Source: SourceWorkingDir, Ambiguous: true}
}

type candidate struct {
	dir    string
	source Source
}

func (env Env) candidates() []candidate {
	out := []candidate{{dir: strings.TrimSpace(env.Getenv(EnvInstallRoot)), source: SourceInstallRoot}}
	if exe, err := env.Executable(); err == nil {
		if env.EvalSymlinks != nil {
			if resolved, err := env.EvalSymlinks(exe); err == nil {
				exe = resolved
			}
		}
		out = append(out, candidate{dir: filepath.Dir(exe), source: SourceExecutable})
	}
	if env.SourceDir != nil {
		out = append(out, candidate{dir: env.SourceDir(), source: SourceSourceTree})
	}
	return out
}

func (env Env) hasTree(dir string) bool {
	info, err := env.Stat(filepath.Join(dir, bundle.Root))
	return err == nil && info.IsDir()
}

func (env Env) abs(p string) string {
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	wd, err := env.Getwd()
	if err != nil {
		return p
	}
	return filepath.Join(wd, p)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	}
	return false
}

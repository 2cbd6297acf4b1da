// Package bundle carries the nxc resource tree inside the binary.
//
// Release builds set Frozen through -ldflags and extract the embedded tree
// before the mode detector runs:
//
//	go build -ldflags "-X github.com/ayanrajpoot10/nxc-go/pkg/bundle.Frozen=1"
//
// Development builds read the same tree straight from the source checkout.
package bundle

import (
	"embed"
	"io/fs"
	"path/filepath"
	"runtime"
	"strconv"
)

//go:embed nxc
var files embed.FS

// Frozen marks a self-extracting build. Set at link time.
var Frozen = ""

// Root is the directory holding the resource tree, relative to a resource base.
const Root = "nxc"

// Resource directories under Root.
const (
	ProtocolsDir = "protocols"
	ModulesDir   = "modules"
	DataDir      = "data"
)

// Protocols lists the protocol definitions every build ships.
var Protocols = []string{"ftp", "ldap", "mssql", "nfs", "rdp", "smb", "ssh", "vnc", "winrm", "wmi"}

// DataManifest lists the files expected under the data directory.
var DataManifest = []string{"nxc.yaml", "banner.txt"}

// IsFrozen reports whether this binary was linked as a self-extracting bundle.
func IsFrozen() bool {
	frozen, err := strconv.ParseBool(Frozen)
	return err == nil && frozen
}

// FS returns the embedded tree rooted at Root.
func FS() fs.FS {
	sub, err := fs.Sub(files, Root)
	if err != nil {
		// Root is a compile-time constant matched by the embed directive.
		panic(err)
	}
	return sub
}

// SourceDir returns the directory containing this package's source, which in a
// checkout also contains Root. It returns "" for binaries built with -trimpath.
func SourceDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok || !filepath.IsAbs(file) {
		return ""
	}
	return filepath.Dir(file)
}

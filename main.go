// Package main provides the entry point for nxc.
//
// Run without arguments, nxc verifies its own installation: it resolves the
// resource tree and state directories, exercises every protocol definition
// and reports the results. With arguments it behaves as the network
// execution tool.
//
// Usage:
//
//	nxc
//	nxc smb 192.168.1.0/24 -u admin -p secret
//	nxc --threads 32 ssh targets.txt --port 2222
//	nxc smb -M spider_plus --options
package main

import (
	"os"

	"github.com/ayanrajpoot10/nxc-go/pkg/bootstrap"
)

func main() {
	os.Exit(bootstrap.Main(os.Args[1:]))
}

//go:build unix

package resources

import "golang.org/x/sys/unix"

func accessible(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}

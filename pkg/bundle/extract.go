package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// Digest returns a short content hash of the embedded tree.
func Digest() (string, error) {
	h := sha256.New()
	err := fs.WalkDir(files, Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := files.ReadFile(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\x00%d\x00", p, len(data))
		h.Write(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// Extract writes the embedded tree to dir/bundle-<digest>/nxc and returns
// dir/bundle-<digest>, the extraction directory. An existing extraction with
// the same digest is reused. Concurrent extractions race on a final rename;
// the loser discards its copy.
func Extract(dir string) (string, error) {
	digest, err := Digest()
	if err != nil {
		return "", fmt.Errorf("hash bundle: %w", err)
	}
	dst := filepath.Join(dir, "bundle-"+digest)
	if info, err := os.Stat(filepath.Join(dst, Root)); err == nil && info.IsDir() {
		return dst, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create extraction root: %w", err)
	}
	tmp, err := os.MkdirTemp(dir, ".extract-*")
	if err != nil {
		return "", fmt.Errorf("create extraction dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := copyTree(tmp); err != nil {
		return "", fmt.Errorf("extract bundle: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		if info, statErr := os.Stat(filepath.Join(dst, Root)); statErr == nil && info.IsDir() {
			return dst, nil
		}
		return "", fmt.Errorf("install bundle: %w", err)
	}
	return dst, nil
}

func copyTree(dst string) error {
	return fs.WalkDir(files, Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dst, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, target string) error {
	in, err := files.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ReadFile reads a file from the embedded tree, relative to Root.
func ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	}
	data, err := files.ReadFile(path.Join(Root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("bundle: %s: %w", name, fs.ErrNotExist)
	}
	return data, err
}

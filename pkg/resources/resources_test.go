package resources

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayanrajpoot10/nxc-go/pkg/mode"
)

func testEnv(vars map[string]string, home string) Env {
	return Env{
		Getenv: func(k string) string { return vars[k] },
		UserHomeDir: func() (string, error) {
			if home == "" {
				return "", errors.New("no home")
			}
			return home, nil
		},
	}
}

func bundleTree(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	for _, sub := range []string{"protocols", "modules", "data"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, "nxc", sub), 0o755))
	}
	return base
}

func TestResolveDevelopment(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	home := t.TempDir()
	p, err := Resolve(mode.Detection{Mode: mode.Development, Base: base}, testEnv(nil, home))
	require.NoError(t, err)

	assert.Equal(t, mode.Development, p.Mode())
	assert.Equal(t, filepath.Join(base, "nxc", "protocols"), p.ProtocolsPath())
	assert.Equal(t, filepath.Join(base, "nxc", "modules"), p.ModulesPath())
	assert.Equal(t, filepath.Join(base, "nxc", "data"), p.DataPath())
	assert.Equal(t, filepath.Join(home, ".nxc"), p.RootPath())
	assert.Equal(t, filepath.Join(home, ".nxc", "workspaces"), p.DBPath())
	assert.Equal(t, filepath.Join(home, ".nxc"), p.ConfigPath())
	assert.Equal(t, filepath.Join(home, ".nxc", "nxc.yaml"), p.ConfigFile())

	for _, d := range p.Dirs() {
		assert.True(t, filepath.IsAbs(d.Path), d.Name)
	}
	assert.DirExists(t, p.DBPath())
	assert.DirExists(t, p.ConfigPath())
	assert.DirExists(t, p.LogsPath())
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	det := mode.Detection{Mode: mode.Development, Base: t.TempDir()}

	first, err := Resolve(det, testEnv(nil, home))
	require.NoError(t, err)
	marker := filepath.Join(first.DBPath(), "keep.db")
	require.NoError(t, os.WriteFile(marker, []byte("hosts"), 0o600))

	second, err := Resolve(det, testEnv(nil, home))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "hosts", string(data))

	entries, err := os.ReadDir(second.DBPath())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "write probes must not be left behind")
}

func TestResolveOverrides(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "state")
	db := filepath.Join(t.TempDir(), "db")
	p, err := Resolve(
		mode.Detection{Mode: mode.Development, Base: t.TempDir()},
		testEnv(map[string]string{EnvStateRoot: root, EnvDB: db}, ""),
	)
	require.NoError(t, err)
	assert.Equal(t, root, p.RootPath())
	assert.Equal(t, root, p.ConfigPath())
	assert.Equal(t, db, p.DBPath())
	assert.DirExists(t, db)
}

func TestResolveBundled(t *testing.T) {
	t.Parallel()

	t.Run("complete_tree", func(t *testing.T) {
		base := bundleTree(t)
		p, err := Resolve(mode.Detection{Mode: mode.Bundled, Base: base}, testEnv(nil, t.TempDir()))
		require.NoError(t, err)
		assert.Equal(t, base, p.Base())
		assert.DirExists(t, p.ProtocolsPath())
	})

	t.Run("missing_modules_dir", func(t *testing.T) {
		base := bundleTree(t)
		require.NoError(t, os.RemoveAll(filepath.Join(base, "nxc", "modules")))

		_, err := Resolve(mode.Detection{Mode: mode.Bundled, Base: base}, testEnv(nil, t.TempDir()))
		require.ErrorIs(t, err, ErrResourceNotFound)

		var pe *PathError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, filepath.Join(base, "nxc", "modules"), pe.Path)
	})

	t.Run("development_tolerates_missing_tree", func(t *testing.T) {
		_, err := Resolve(mode.Detection{Mode: mode.Development, Base: t.TempDir()}, testEnv(nil, t.TempDir()))
		assert.NoError(t, err)
	})
}

func TestResolveUnwritableState(t *testing.T) {
	t.Parallel()

	t.Run("root_under_regular_file", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, nil, 0o600))

		_, err := Resolve(
			mode.Detection{Mode: mode.Development, Base: t.TempDir()},
			testEnv(map[string]string{EnvStateRoot: filepath.Join(blocker, "state")}, ""),
		)
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("no_home", func(t *testing.T) {
		_, err := Resolve(mode.Detection{Mode: mode.Development, Base: t.TempDir()}, testEnv(nil, ""))
		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("read_only_dir", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		dir := t.TempDir()
		require.NoError(t, os.Chmod(dir, 0o500))
		t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

		assert.ErrorIs(t, CheckWritable(dir), ErrPermissionDenied)
	})
}

func TestResolveRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	_, err := Resolve(mode.Detection{Mode: mode.Development, Base: "relative"}, testEnv(nil, t.TempDir()))
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	t.Parallel()

	p, err := Resolve(mode.Detection{Mode: mode.Development, Base: bundleTree(t)}, testEnv(nil, t.TempDir()))
	require.NoError(t, err)

	got := map[string]string{}
	require.NoError(t, p.Export(func(k, v string) error {
		got[k] = v
		return nil
	}))
	assert.Equal(t, map[string]string{
		EnvProtocols: p.ProtocolsPath(),
		EnvModules:   p.ModulesPath(),
		EnvData:      p.DataPath(),
		EnvStateRoot: p.RootPath(),
		EnvDB:        p.DBPath(),
		EnvConfig:    p.ConfigPath(),
	}, got)

	boom := errors.New("boom")
	err = p.Export(func(string, string) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestExportSkipsMissingResourceDirs(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "nxc", "modules"), 0o755))
	p, err := Resolve(mode.Detection{Mode: mode.Development, Base: base, Ambiguous: true}, testEnv(nil, t.TempDir()))
	require.NoError(t, err)

	got := map[string]string{}
	require.NoError(t, p.Export(func(k, v string) error {
		got[k] = v
		return nil
	}))
	assert.Empty(t, got[EnvProtocols])
	assert.Empty(t, got[EnvData])
	assert.Equal(t, p.ModulesPath(), got[EnvModules])
	assert.Equal(t, p.DBPath(), got[EnvDB])

	// accessors still report the resolved layout
	assert.Equal(t, filepath.Join(base, "nxc", "protocols"), p.ProtocolsPath())
}

func TestResolveConcurrentFirstRun(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	base := bundleTree(t)
	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := Resolve(mode.Detection{Mode: mode.Bundled, Base: base}, testEnv(nil, home))
			if err == nil {
				_, err = p.EnsureConfig()
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.DirExists(t, filepath.Join(home, ".nxc", "workspaces"))
	assert.DirExists(t, filepath.Join(home, ".nxc", "logs"))
	assert.FileExists(t, filepath.Join(home, ".nxc", "nxc.yaml"))

	entries, err := os.ReadDir(filepath.Join(home, ".nxc"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".write_test", "probe file left behind")
	}
}

func TestEnsureConfig(t *testing.T) {
	t.Parallel()

	t.Run("copies_from_data_dir_once", func(t *testing.T) {
		base := bundleTree(t)
		require.NoError(t, os.WriteFile(filepath.Join(base, "nxc", "data", "nxc.yaml"), []byte("workspace: lab\n"), 0o644))
		p, err := Resolve(mode.Detection{Mode: mode.Bundled, Base: base}, testEnv(nil, t.TempDir()))
		require.NoError(t, err)

		wrote, err := p.EnsureConfig()
		require.NoError(t, err)
		assert.True(t, wrote)

		require.NoError(t, os.WriteFile(p.ConfigFile(), []byte("workspace: mine\n"), 0o600))
		wrote, err = p.EnsureConfig()
		require.NoError(t, err)
		assert.False(t, wrote)

		data, err := os.ReadFile(p.ConfigFile())
		require.NoError(t, err)
		assert.Equal(t, "workspace: mine\n", string(data))
	})

	t.Run("falls_back_to_embedded_template", func(t *testing.T) {
		p, err := Resolve(mode.Detection{Mode: mode.Development, Base: t.TempDir()}, testEnv(nil, t.TempDir()))
		require.NoError(t, err)

		wrote, err := p.EnsureConfig()
		require.NoError(t, err)
		assert.True(t, wrote)

		data, err := os.ReadFile(p.ConfigFile())
		require.NoError(t, err)
		assert.Contains(t, string(data), "workspace: default")
	})
}

func TestPathErrorMessage(t *testing.T) {
	err := &PathError{Kind: ErrResourceNotFound, Path: "/x/nxc/data", Err: os.ErrNotExist}
	assert.Equal(t, "resource not found: /x/nxc/data: file does not exist", err.Error())
	assert.ErrorIs(t, err, os.ErrNotExist)

	bare := &PathError{Kind: ErrPermissionDenied, Path: "/x"}
	assert.Equal(t, "permission denied: /x", bare.Error())
}

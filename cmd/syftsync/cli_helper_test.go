package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// testEnv is a local dir, a folder backend and a data dir under one temp dir.
type testEnv struct {
	configPath string
	localDir   string
	remoteDir  string
	dataDir    string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		configPath: filepath.Join(root, "config.yaml"),
		localDir:   filepath.Join(root, "local"),
		remoteDir:  filepath.Join(root, "remote"),
		dataDir:    filepath.Join(root, "data"),
	}
	require.NoError(t, os.MkdirAll(env.localDir, 0o755))
	require.NoError(t, os.MkdirAll(env.remoteDir, 0o755))

	cfg := fmt.Sprintf(`local_dir: %s
data_dir: %s
connect_retries: 1
control_plane:
  addr: 127.0.0.1:1
backends:
  - id: nas
    type: localdir
    enabled: true
    localdir:
      path: %s
%s`, env.localDir, env.dataDir, env.remoteDir, extra)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))
	return env
}

func (e *testEnv) writeLocal(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.localDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (e *testEnv) remoteFile(rel string) (string, bool) {
	raw, err := os.ReadFile(filepath.Join(e.remoteDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// runCmd executes sub under a fresh root carrying the persistent flags.
func runCmd(t *testing.T, sub *cobra.Command, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "syftsync", SilenceErrors: true, SilenceUsage: true}
	root.PersistentFlags().StringP("config", "c", "", "config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	root.AddCommand(sub)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{sub.Name()}, args...))

	err := root.Execute()
	return out.String(), err
}

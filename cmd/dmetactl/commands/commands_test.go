package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittometa/cmd/dmetactl/cmdutil"
	"github.com/marmos91/dittometa/pkg/config"
	"github.com/marmos91/dittometa/pkg/metadata"
	"github.com/marmos91/dittometa/pkg/metadata/metastore"
)

// seedNode creates an fs-backed node with a file and a directory in root
// and returns the path of its configuration file.
func seedNode(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.GetDefaultConfig()
	cfg.Metadata.Root = filepath.Join(dir, "meta")
	cfg.Metadata.HashDirs = 4
	cfg.Metrics.Enabled = false
	cfg.Admin.Enabled = false
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, cfgPath))

	ctx := context.Background()
	records, err := config.OpenRecordStore(ctx, cfg.Metadata)
	require.NoError(t, err)
	ms, err := metastore.New(ctx, config.MetaStoreOptions(cfg, records, nil))
	require.NoError(t, err)

	_, err = ms.MkNewMetaFile(ctx, metadata.RootDirID, metastore.MkFileRequest{
		Name: "hello.txt",
		Type: metadata.EntryTypeRegularFile,
		Mode: 0o640,
		UID:  1000,
		GID:  1000,
	})
	require.NoError(t, err)
	_, err = ms.MkDir(ctx, metadata.RootDirID, metastore.MkDirRequest{Name: "sub", Mode: 0o755})
	require.NoError(t, err)

	require.NoError(t, ms.Close(ctx))
	require.NoError(t, records.Close())
	return cfgPath, cfg
}

// run executes dmetactl with args and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	*cmdutil.Flags = cmdutil.GlobalFlags{}
	decodeFromStore = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// ============================================================================
// Offline commands
// ============================================================================

func TestLs(t *testing.T) {
	cfgPath, _ := seedNode(t)

	out, err := run(t, "--config", cfgPath, "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "hello.txt")
	assert.Contains(t, out, "sub")
	assert.Contains(t, out, "NAME")

	out, err = run(t, "--config", cfgPath, "ls", metadata.RootDirID, "-o", "json")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 2)
}

func TestStat(t *testing.T) {
	cfgPath, _ := seedNode(t)

	out, err := run(t, "--config", cfgPath, "stat", metadata.RootDirID, "hello.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "0640")
	assert.Contains(t, out, "1000/1000")

	out, err = run(t, "--config", cfgPath, "stat", metadata.RootDirID, "sub", "-o", "json")
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Contains(t, res, "dir_inode")
	assert.Equal(t, metadata.RootDirID, res["dir_inode"].(map[string]any)["parent_dir_id"])

	_, err = run(t, "--config", cfgPath, "stat", metadata.RootDirID, "missing")
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	cfgPath, cfg := seedNode(t)

	var recordFile string
	err := filepath.WalkDir(filepath.Join(cfg.Metadata.Root, "dentries"), func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && d.Name() == "hello.txt" {
			recordFile = p
		}
		return err
	})
	require.NoError(t, err)
	require.NotEmpty(t, recordFile)

	out, err := run(t, "decode", recordFile)
	require.NoError(t, err)
	assert.Contains(t, out, "hello.txt")

	rel, err := filepath.Rel(cfg.Metadata.Root, recordFile)
	require.NoError(t, err)
	out, err = run(t, "--config", cfgPath, "decode", "--store", filepath.ToSlash(rel), "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "hello.txt"`)

	garbage := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte{1}, 0o600))
	_, err = run(t, "decode", garbage)
	assert.Error(t, err)
}

// ============================================================================
// Online commands
// ============================================================================

func TestStats_UsesServerFlag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/stats", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok","data":{"cached_dirs":12,"dir_cache":3,"global_files":1,"inlined_files":4}}`))
	}))
	defer server.Close()

	out, err := run(t, "--server", server.URL, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "Inlined files")
}

func TestLocks_Table(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/locks/root/f", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok","data":{"dir_id":"root","name":"f","entry_id":"1-2-3","locks":{
			"entry":{"exclusive":{"client_num_id":7,"handle":1,"ack_id":"a1","kind":2},"shared":[],"waiters_exclusive":[],"waiters_shared":[]},
			"append":{"shared":[],"waiters_exclusive":[],"waiters_shared":[]},
			"range":{"exclusive":[],"shared":[],"waiters_exclusive":[],"waiters_shared":[]}}}}`))
	}))
	defer server.Close()

	out, err := run(t, "--server", server.URL, "locks", "root", "f")
	require.NoError(t, err)
	assert.Contains(t, out, "a1")
	assert.Contains(t, out, "granted")
}

func TestOnline_AdminDisabled(t *testing.T) {
	cfgPath, _ := seedNode(t)
	_, err := run(t, "--config", cfgPath, "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--server")
}

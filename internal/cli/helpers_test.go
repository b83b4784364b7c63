package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/config"
	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/oplog"
	"github.com/roach88/oplog/internal/testutil"
)

// writeConfig writes an oplog config backed by a SQLite file in a temp dir
// and returns its path.
func writeConfig(t *testing.T, multilayer bool) string {
	t.Helper()
	dir := t.TempDir()
	content := "environment: test-env\n" +
		"storage:\n" +
		"  backend: sqlite\n" +
		"  path: " + filepath.Join(dir, "oplog.db") + "\n"
	if multilayer {
		content += "multilayer:\n" +
			"  enabled: true\n" +
			"  entry_count_limit: 1000\n" +
			"  layers:\n" +
			"    - kind: indexed\n" +
			"      codec: snappy\n"
	}
	path := filepath.Join(dir, "oplog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seedOplog creates the oplog of worker name with a Create entry followed
// by the entries built by build, and commits it.
func seedOplog(t *testing.T, cfgPath, name string, build func(b *testutil.Entries) []model.Entry) {
	t.Helper()
	ctx := context.Background()

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	stack, err := config.Open(cfg)
	require.NoError(t, err)
	defer stack.Close()

	b := testutil.NewEntries()
	owned := testutil.Worker(name)
	o, err := stack.Service.Create(ctx, owned, b.Create(owned), oplog.WorkerState{})
	require.NoError(t, err)
	for _, e := range build(b) {
		_, err := o.Add(ctx, e)
		require.NoError(t, err)
	}
	_, err = o.Commit(ctx, oplog.CommitAlways)
	require.NoError(t, err)
	require.NoError(t, o.Close())
}

// consistentEntries ends inside an open atomic region begun at 5.
func consistentEntries(b *testutil.Entries) []model.Entry {
	return []model.Entry{
		b.ExportedInvoked("checkout", "key-1"), // 2
		b.ExportedCompleted(),                  // 3
		b.NoOp(),                               // 4
		b.BeginAtomicRegion(),                  // 5
		b.Log("reserving stock"),               // 6
	}
}

// violatingEntries completes an invocation inside the remote write begun
// at 2.
func violatingEntries(b *testutil.Entries) []model.Entry {
	return []model.Entry{
		b.BeginRemoteWrite(),  // 2
		b.ExportedCompleted(), // 3
	}
}

// execute runs oplogctl with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

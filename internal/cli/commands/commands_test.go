package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/storage"
)

// testEnv points the CLI at a config with one filesystem storage named
// "files" under a temporary directory.
type testEnv struct {
	t          *testing.T
	dir        string
	configPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := fmt.Sprintf(`
logging:
  level: ERROR
server:
  metrics:
    enabled: false
gc:
  enabled: false
storages:
  files:
    type: filesystem
    versioning: true
    deduplication: true
    filesystem:
      path: %s
`, filepath.Join(dir, "data"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return &testEnv{t: t, dir: dir, configPath: path}
}

// run executes one command line and returns its stdout.
func (e *testEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	var out, errOut bytes.Buffer

	root := NewRootCmd()
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)

	err := root.Execute()
	return out.String(), err
}

func (e *testEnv) mustRun(stdin string, args ...string) string {
	e.t.Helper()
	out, err := e.run(stdin, args...)
	require.NoError(e.t, err, "dittostore %s", strings.Join(args, " "))
	return out
}

func TestPutGet(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun("hello world", "put", "files", "docs/a.txt", "--tag", "report", "--meta", "owner=alice")
	assert.Contains(t, out, "Stored files:docs/a.txt v1")

	assert.Equal(t, "hello world", env.mustRun("", "get", "files", "docs/a.txt"))

	out = env.mustRun("", "ls", "files", "--json")
	var files []*storage.FileMetadata
	require.NoError(t, json.Unmarshal([]byte(out), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "docs/a.txt", files[0].Name)
	assert.Equal(t, "text/plain; charset=utf-8", files[0].ContentType)
	assert.Equal(t, []string{"report"}, files[0].Tags)
	assert.Equal(t, "alice", files[0].Custom["owner"])
}

func TestPutFromFileAndOutput(t *testing.T) {
	env := newTestEnv(t)

	src := filepath.Join(env.dir, "in.bin")
	require.NoError(t, os.WriteFile(src, []byte{0x00, 0x01, 0x02}, 0644))
	env.mustRun("", "put", "files", "blob", src)

	dst := filepath.Join(env.dir, "out.bin")
	env.mustRun("", "get", "files", "blob", "-o", dst)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, data)
}

func TestDeduplicatedPut(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun("same", "put", "files", "a.txt")
	out := env.mustRun("same", "put", "files", "b.txt")
	assert.Contains(t, out, "deduplicated")
}

func TestVersionsAndRestore(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun("one", "put", "files", "f.txt")
	env.mustRun("two", "put", "files", "f.txt")

	out := env.mustRun("", "versions", "files", "f.txt", "--json")
	var versions []*storage.FileMetadata
	require.NoError(t, json.Unmarshal([]byte(out), &versions))
	require.Len(t, versions, 2)
	assert.Equal(t, uint32(1), versions[0].Version)
	assert.Equal(t, versions[0].VersionID, versions[1].ParentVersionID)

	assert.Equal(t, "one", env.mustRun("", "get", "files", "f.txt", "--version", versions[0].VersionID))

	out = env.mustRun("", "restore", "files", "f.txt", "--version", versions[0].VersionID)
	assert.Contains(t, out, "as v3")
	assert.Equal(t, "one", env.mustRun("", "get", "files", "f.txt"))
}

func TestTrashLifecycle(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun("data", "put", "files", "gone.txt")
	env.mustRun("data", "put", "files", "kept.txt")

	assert.Contains(t, env.mustRun("", "rm", "files", "gone.txt"), "to the trash")

	_, err := env.run("", "get", "files", "gone.txt")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))

	out := env.mustRun("", "trash", "list", "files")
	assert.Contains(t, out, "gone.txt (deleted)")
	assert.NotContains(t, out, "kept.txt")

	env.mustRun("", "restore", "files", "gone.txt")
	assert.Equal(t, "data", env.mustRun("", "get", "files", "gone.txt"))

	env.mustRun("", "rm", "files", "gone.txt")
	assert.Contains(t, env.mustRun("", "trash", "empty", "files"), "Purged 1 file(s)")

	_, err = env.run("", "versions", "files", "gone.txt")
	require.Error(t, err)
	assert.Equal(t, "data", env.mustRun("", "get", "files", "kept.txt"))
}

func TestRmPermanent(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun("v1", "put", "files", "p.txt")
	env.mustRun("v2", "put", "files", "p.txt")

	assert.Contains(t, env.mustRun("", "rm", "files", "p.txt", "--permanent"), "(2 version(s))")

	_, err := env.run("", "rm", "files", "p.txt", "--permanent", "--version", "x")
	require.Error(t, err)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun("a", "put", "files", "reports/q1.csv", "--tag", "finance")
	env.mustRun("b", "put", "files", "reports/q2.csv", "--tag", "finance", "--meta", "owner=bob")
	env.mustRun("c", "put", "files", "notes.md")

	out := env.mustRun("", "search", "files", "bob", "--json")
	var files []*storage.FileMetadata
	require.NoError(t, json.Unmarshal([]byte(out), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "reports/q2.csv", files[0].Name)

	out = env.mustRun("", "ls", "files", "--tag", "finance")
	assert.Contains(t, out, "reports/q1.csv")
	assert.Contains(t, out, "reports/q2.csv")
	assert.NotContains(t, out, "notes.md")
}

func TestUnknownStorage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("x", "put", "missing", "a.txt")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestGCDryRun(t *testing.T) {
	env := newTestEnv(t)

	env.mustRun("content", "put", "files", "a.txt")
	out := env.mustRun("", "gc", "--dry-run")
	assert.Contains(t, out, "storage=files")
	assert.Contains(t, out, "dry_run=true")
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"init", "--config", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), path)
	assert.FileExists(t, path)

	root = NewRootCmd()
	root.SetArgs([]string{"init", "--config", path})
	require.Error(t, root.Execute())

	root = NewRootCmd()
	root.SetArgs([]string{"init", "--config", path, "--force"})
	require.NoError(t, root.Execute())
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/json", detectContentType("a.json", []byte("{}")))
	assert.Equal(t, "application/octet-stream", detectContentType("blob", []byte{0x00, 0xff}))
	assert.Equal(t, "", detectContentType("empty", nil))
}

package snapshot

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/cbench/internal/bench"
)

const samplePatch = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
-func main() {}
+func main() {
+}
 // end
diff --git a/new.txt b/new.txt
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+hello
+world
`

func TestPatchStats(t *testing.T) {
	st, err := PatchStats([]byte(samplePatch))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 4, st.Added)
	assert.Equal(t, 1, st.Deleted)
	assert.Equal(t, "2 files, +4 -1", st.String())

	empty, err := PatchStats(nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, empty)
}

func TestPatchFiles(t *testing.T) {
	files, err := PatchFiles([]byte(samplePatch))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"main.go": true, "new.txt": true}, files)
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("abc@deadbeef")
	require.NoError(t, err)
	assert.Equal(t, Ref{SessionID: "abc", Base: "deadbeef"}, ref)
	assert.Equal(t, "abc@deadbeef", ref.String())

	for _, bad := range []string{"", "abc", "@x", "abc@", "../x@y"} {
		_, err := ParseRef(bad)
		assert.ErrorIs(t, err, ErrInvalidRef, bad)
	}
}

func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "test"},
	} {
		gitCmd(t, dir, args...)
	}
	writeFile(t, dir, "main.go", "package main\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-q", "-m", "init")
	return dir
}

func gitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(b)
}

func TestGitApplyAndRevert(t *testing.T) {
	repo := gitRepo(t)
	g := NewGit(repo, t.TempDir(), nil)
	ctx := context.Background()

	ref, err := g.Capture(ctx, "child1")
	require.NoError(t, err)

	wt := g.Worktree("child1")
	writeFile(t, wt, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, wt, "added.txt", "new\n")

	st, err := g.Stats(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Files)

	require.NoError(t, g.ApplyDiff(ctx, ref, false))
	assert.Equal(t, "package main\n\nfunc main() {}\n", readFile(t, repo, "main.go"))
	assert.Equal(t, "new\n", readFile(t, repo, "added.txt"))

	dirty, err := g.IsDirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, g.RevertDiff(ctx, ref, false))
	assert.Equal(t, "package main\n", readFile(t, repo, "main.go"))
	_, err = os.Stat(filepath.Join(repo, "added.txt"))
	assert.True(t, os.IsNotExist(err))

	err = g.RevertDiff(ctx, ref, false)
	assert.ErrorIs(t, err, bench.ErrSnapshotUnavailable)
}

func TestGitDirtyTreeBlocksApply(t *testing.T) {
	repo := gitRepo(t)
	g := NewGit(repo, t.TempDir(), nil)
	ctx := context.Background()

	ref, err := g.Capture(ctx, "child1")
	require.NoError(t, err)
	writeFile(t, g.Worktree("child1"), "feature.txt", "x\n")

	writeFile(t, repo, "scratch.txt", "local edits\n")
	err = g.ApplyDiff(ctx, ref, false)
	require.ErrorIs(t, err, bench.ErrWorkingTreeDirty)

	require.NoError(t, g.ApplyDiff(ctx, ref, true))
	assert.Equal(t, "x\n", readFile(t, repo, "feature.txt"))

	err = g.RevertDiff(ctx, ref, false)
	require.ErrorIs(t, err, bench.ErrWorkingTreeDirty, "scratch.txt is unrelated to the patch")
	require.NoError(t, g.RevertDiff(ctx, ref, true))
	assert.Equal(t, "local edits\n", readFile(t, repo, "scratch.txt"))
}

func TestGitDiffWithoutWorktree(t *testing.T) {
	g := NewGit(t.TempDir(), t.TempDir(), nil)
	_, err := g.Diff(context.Background(), "ghost@abc")
	assert.ErrorIs(t, err, bench.ErrSnapshotUnavailable)
}

func TestGitApplyOverlappingEdits(t *testing.T) {
	repo := gitRepo(t)
	g := NewGit(repo, t.TempDir(), nil)
	ctx := context.Background()

	ref, err := g.Capture(ctx, "child1")
	require.NoError(t, err)
	writeFile(t, g.Worktree("child1"), "main.go", "package main\n\nfunc child() {}\n")
	writeFile(t, g.Worktree("child1"), "extra.txt", "x\n")

	writeFile(t, repo, "main.go", "package main\n\nfunc local() {}\n")
	err = g.ApplyDiff(ctx, ref, false)
	require.ErrorIs(t, err, bench.ErrWorkingTreeDirty)

	require.NoError(t, g.ApplyDiff(ctx, ref, true))
	merged := readFile(t, repo, "main.go")
	assert.Contains(t, merged, "<<<<<<<")
	assert.Contains(t, merged, "func child() {}")
	assert.Contains(t, merged, "func local() {}")
	assert.Equal(t, "x\n", readFile(t, repo, "extra.txt"))

	out, err := exec.Command("git", "-C", repo, "diff", "--cached", "--name-only").CombinedOutput()
	require.NoError(t, err, string(out))
	assert.Empty(t, string(out), "merge leaves the index as it was")
}

func TestGitApplyOntoMovedHeadIsConflict(t *testing.T) {
	repo := gitRepo(t)
	g := NewGit(repo, t.TempDir(), nil)
	ctx := context.Background()

	ref, err := g.Capture(ctx, "child1")
	require.NoError(t, err)
	writeFile(t, g.Worktree("child1"), "main.go", "package main\n\nfunc child() {}\n")

	writeFile(t, repo, "main.go", "package other\n")
	gitCmd(t, repo, "commit", "-q", "-am", "move head")

	err = g.ApplyDiff(ctx, ref, false)
	require.ErrorIs(t, err, bench.ErrConflict)
	assert.NotErrorIs(t, err, bench.ErrWorkingTreeDirty)
	assert.Equal(t, "package other\n", readFile(t, repo, "main.go"))
}

package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Stats summarizes a patch.
type Stats struct {
	Files   int `json:"files" yaml:"files"`
	Added   int `json:"added" yaml:"added"`
	Deleted int `json:"deleted" yaml:"deleted"`
}

func (s Stats) String() string {
	return fmt.Sprintf("%d files, +%d -%d", s.Files, s.Added, s.Deleted)
}

// PatchStats counts files and changed lines in a unified diff. A changed
// line counts as one addition and one deletion.
func PatchStats(patch []byte) (Stats, error) {
	fds, err := parsePatch(patch)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, fd := range fds {
		s := fd.Stat()
		st.Files++
		st.Added += int(s.Added + s.Changed)
		st.Deleted += int(s.Deleted + s.Changed)
	}
	return st, nil
}

// PatchFiles returns the set of repository paths a patch touches.
func PatchFiles(patch []byte) (map[string]bool, error) {
	fds, err := parsePatch(patch)
	if err != nil {
		return nil, err
	}
	files := make(map[string]bool, len(fds))
	for _, fd := range fds {
		for _, name := range []string{fd.OrigName, fd.NewName} {
			if p := stripPrefix(name); p != "" {
				files[p] = true
			}
		}
	}
	return files, nil
}

func parsePatch(patch []byte) ([]*diff.FileDiff, error) {
	if len(strings.TrimSpace(string(patch))) == 0 {
		return nil, nil
	}
	fds, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("parsing patch: %w", err)
	}
	return fds, nil
}

func stripPrefix(name string) string {
	if name == "/dev/null" {
		return ""
	}
	if len(name) > 2 && (strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/")) {
		return name[2:]
	}
	return name
}

// Stats returns statistics for a child's current changes.
func (g *Git) Stats(ctx context.Context, ref string) (Stats, error) {
	patch, err := g.Diff(ctx, ref)
	if err != nil {
		return Stats{}, err
	}
	return PatchStats(patch)
}

// Package search is a trivial literal-substring note search used only
// by the CLI's convenience "search" subcommand. It holds no index and
// is entirely outside the rename protocol's critical path.
package search

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/shayonpal/mcp-lifeos/internal/vault/fsio"
	"github.com/shayonpal/mcp-lifeos/internal/vault/linkscan"
	"github.com/shayonpal/mcp-lifeos/internal/vault/pathutil"
)

// Match is one hit: the note path and the byte offset of the first
// occurrence of the query within it.
type Match struct {
	Path   string
	Offset int
}

// Searcher performs on-demand substring search over markdown notes. It
// holds no index; every call re-walks the vault, which is acceptable
// given the out-of-scope, convenience-only nature of this collaborator.
type Searcher struct {
	FS afero.Fs
}

// New constructs a Searcher over filesystem.
func New(filesystem afero.Fs) *Searcher {
	return &Searcher{FS: filesystem}
}

// Search returns every markdown note under vaultRoot containing query,
// sorted by path.
func (s *Searcher) Search(vaultRoot, query string) ([]Match, error) {
	if query == "" {
		return nil, nil
	}

	var matches []Match
	err := afero.Walk(s.FS, vaultRoot, func(path string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			if linkscan.ExcludeDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !pathutil.IsMarkdown(path) || strings.HasPrefix(info.Name(), fsio.StagePrefix) {
			return nil
		}
		data, readErr := afero.ReadFile(s.FS, path)
		if readErr != nil {
			return nil
		}
		if idx := strings.Index(string(data), query); idx >= 0 {
			matches = append(matches, Match{Path: path, Offset: idx})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	return matches, nil
}

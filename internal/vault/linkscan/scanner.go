// Package linkscan enumerates wikilink references to a target note
// across a vault.
package linkscan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/shayonpal/mcp-lifeos/internal/logging"
	"github.com/shayonpal/mcp-lifeos/internal/vault/fsio"
	"github.com/shayonpal/mcp-lifeos/internal/vault/model"
	"github.com/shayonpal/mcp-lifeos/internal/vault/pathutil"
)

// wikilinkPattern recognizes all five reference kinds in one pass:
// an optional leading "!" (embed), "[[", a target up to the first
// "|", "#" or "]]", an optional "|alias" or "#heading"/"#^blockref",
// and the closing "]]". References are matched lexically; fenced code
// blocks and inline code are not special-cased.
var wikilinkPattern = regexp.MustCompile(`(!?)\[\[([^\]\|#]+)(?:(\|)([^\]#]*)|(#)(\^?)([^\]]*))?\]\]`)

// ExcludeDirs lists directory names the scanner never descends into
// (template/configuration directories supplied by the external
// collaborator that owns vault layout policy).
var ExcludeDirs = map[string]bool{
	".obsidian":   true,
	".mcp-lifeos": true,
	"templates":   true,
}

// ScanError wraps a catastrophic directory-traversal failure. Per-file
// read errors never produce one; only a failed walk does.
type ScanError struct {
	VaultRoot string
	Err       error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("SCAN_FAILED: walk %s: %v", e.VaultRoot, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Scanner walks a vault looking for wikilink references.
type Scanner struct {
	FS     afero.Fs
	Logger logging.Logger
}

// New constructs a Scanner over fs. A nil logger defaults to
// logging.Global().
func New(fsys afero.Fs, logger logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.Global()
	}
	return &Scanner{FS: fsys, Logger: logger}
}

// ScanReferences enumerates every .md file under vaultRoot whose
// content references targetName (matched case-sensitively against the
// target's filename stem), returning a deterministic, path-sorted slice
// of AffectedFile.
//
// Per-file read errors are logged and skipped; only a directory-walk
// failure aborts the scan with ScanError.
func (s *Scanner) ScanReferences(vaultRoot, targetName string) ([]model.AffectedFile, error) {
	var results []model.AffectedFile

	err := afero.Walk(s.FS, vaultRoot, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if ExcludeDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !pathutil.IsMarkdown(path) {
			return nil
		}
		// Staging/backup artifacts end in the original note's .md
		// basename; a crash can leave them behind until recovery
		// reclaims them, and they must never count as notes.
		if strings.HasPrefix(info.Name(), fsio.StagePrefix) {
			return nil
		}

		data, readErr := afero.ReadFile(s.FS, path)
		if readErr != nil {
			s.Logger.Warn("skipping unreadable file during link scan path=%s error=%v", path, readErr)
			return nil
		}

		refs := findReferences(path, string(data), targetName)
		if len(refs) > 0 {
			results = append(results, model.AffectedFile{
				Path:       path,
				References: refs,
			})
		}
		return nil
	})

	if err != nil {
		return nil, &ScanError{VaultRoot: vaultRoot, Err: err}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// findReferences returns every wikilink reference in content whose
// target stem matches targetName.
func findReferences(sourcePath, content, targetName string) []model.Reference {
	var refs []model.Reference

	for _, loc := range wikilinkPattern.FindAllStringSubmatchIndex(content, -1) {
		matched := content[loc[0]:loc[1]]
		groups := submatches(content, loc)

		// groups[0]=embed marker, groups[1]=target, groups[2]=pipe
		// marker, groups[3]=alias text, groups[4]=hash marker,
		// groups[5]=caret (blockref) marker, groups[6]=heading/
		// blockref text.
		embed := groups[0]
		target := strings.TrimSpace(groups[1])
		if !pathutil.SameStem(target, targetName) {
			continue
		}

		kind := model.KindBasic
		switch {
		case groups[2] == "|":
			kind = model.KindAlias
		case groups[4] == "#" && groups[5] == "^":
			kind = model.KindBlockRef
		case groups[4] == "#":
			kind = model.KindHeading
		}
		if embed == "!" {
			kind = model.KindEmbed
		}

		refs = append(refs, model.Reference{
			SourcePath: sourcePath,
			Target:     target,
			Kind:       kind,
			Offset:     loc[0],
			Matched:    matched,
		})
	}

	return refs
}

// submatches extracts the capture groups from a FindAllStringSubmatchIndex
// location slice, returning "" for groups that did not participate.
func submatches(content string, loc []int) [7]string {
	var out [7]string
	for i := 0; i < 7; i++ {
		start, end := loc[2+2*i], loc[2+2*i+1]
		if start >= 0 && end >= 0 {
			out[i] = content[start:end]
		}
	}
	return out
}

// Package linkupdate rewrites wikilinks from an old target name to a
// new one across a set of affected files. It exposes three distinct
// operations (RenderUpdates, CommitUpdates, and ApplyUpdatesDirect), so
// transactional callers can separate rendering new content from writing
// it. RenderUpdates and ApplyUpdatesDirect share the
// buildReferenceGroups helper; CommitUpdates only writes content that
// was already rendered.
package linkupdate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shayonpal/mcp-lifeos/internal/vault/fsio"
	"github.com/shayonpal/mcp-lifeos/internal/vault/model"
	"github.com/shayonpal/mcp-lifeos/internal/vault/pathutil"
)

// singleReferencePattern mirrors linkscan's wikilinkPattern but is used
// to re-decompose one already-matched reference string so the rewrite
// only ever touches the target portion.
var singleReferencePattern = regexp.MustCompile(`^(!?)\[\[([^\]\|#]+)(?:(\|)([^\]#]*)|(#)(\^?)([^\]]*))?\]\]$`)

// RenderError is returned by RenderUpdates when a read fails; no side
// effects occur in this case.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("LINK_RENDER_FAILED: read %s: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// DirectResult is the outcome of ApplyUpdatesDirect.
type DirectResult struct {
	FilesUpdated      int
	ReferencesUpdated int
	Errors            []error
}

// CommitResult is the outcome of CommitUpdates.
type CommitResult struct {
	FilesUpdated      int
	ReferencesUpdated int
}

// referenceGroup is one file's references, sorted in the reverse byte-
// offset order rewriting requires: rewrite later offsets first so
// earlier offsets remain valid.
type referenceGroup struct {
	Path       string
	References []model.Reference
}

// buildReferenceGroups groups affected-file references by path and
// sorts each group's references by descending byte offset.
func buildReferenceGroups(affected []model.AffectedFile) []referenceGroup {
	groups := make([]referenceGroup, 0, len(affected))
	for _, af := range affected {
		refs := make([]model.Reference, len(af.References))
		copy(refs, af.References)
		sort.Slice(refs, func(i, j int) bool { return refs[i].Offset > refs[j].Offset })
		groups = append(groups, referenceGroup{Path: af.Path, References: refs})
	}
	return groups
}

// rewriteContent applies every reference rewrite in group to content,
// replacing oldStem with newStem in each matched wikilink while
// preserving brackets, alias text, heading anchor, blockref anchor, and
// embed prefix.
func rewriteContent(content, oldStem, newStem string, group referenceGroup) (string, int) {
	updated := 0
	for _, ref := range group.References {
		end := ref.Offset + len(ref.Matched)
		if end > len(content) || content[ref.Offset:end] != ref.Matched {
			// Content has drifted since the reference was located
			// (e.g. an earlier rewrite in this same pass changed
			// length); skip rather than corrupt the file. Byte-
			// offset-descending order makes this a rare defensive
			// check, not the common path.
			continue
		}

		rewritten, ok := rewriteReference(ref.Matched, oldStem, newStem)
		if !ok {
			continue
		}

		content = content[:ref.Offset] + rewritten + content[end:]
		updated++
	}
	return content, updated
}

// rewriteReference rewrites a single matched wikilink string, replacing
// only its target portion. Target comparison mirrors the scanner's:
// surrounding whitespace is ignored and both sides are NFKC-normalized
// via pathutil.SameStem, so every reference the scanner counts is one
// this function rewrites. Whitespace padding around the target is
// preserved byte for byte.
func rewriteReference(matched, oldStem, newStem string) (string, bool) {
	m := singleReferencePattern.FindStringSubmatch(matched)
	if m == nil {
		return matched, false
	}

	embed, target, pipe, alias, hash, caret, tail := m[1], m[2], m[3], m[4], m[5], m[6], m[7]
	trimmed := strings.TrimSpace(target)
	if !pathutil.SameStem(trimmed, oldStem) {
		return matched, false
	}
	pad := strings.Index(target, trimmed)
	lead, trail := target[:pad], target[pad+len(trimmed):]

	out := embed + "[[" + lead + newStem + trail
	switch {
	case pipe == "|":
		out += "|" + alias
	case hash == "#":
		out += "#" + caret + tail
	}
	out += "]]"
	return out, true
}

// RenderFile rewrites references in a single already-read file's content.
// It applies the same rewriteContent step RenderUpdates and
// ApplyUpdatesDirect use, exposed directly for callers (the Transaction Manager's Prepare phase) that already hold a
// file's bytes and need both the raw bytes (for a backup copy) and the
// rendered bytes from a single read.
func RenderFile(content, oldStem, newStem string, references []model.Reference) (string, int) {
	refs := make([]model.Reference, len(references))
	copy(refs, references)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Offset > refs[j].Offset })
	return rewriteContent(content, oldStem, newStem, referenceGroup{References: refs})
}

// RenderUpdates is phase 1 of the two-phase contract: it reads each
// affected file, rewrites its content in memory, and returns the
// {path -> new content} map without writing anything.
func RenderUpdates(l *fsio.Layer, oldStem, newStem string, affected []model.AffectedFile) (map[string][]byte, error) {
	rendered := make(map[string][]byte, len(affected))
	for _, group := range buildReferenceGroups(affected) {
		data, err := l.ReadFile(group.Path)
		if err != nil {
			return nil, &RenderError{Path: group.Path, Err: err}
		}
		newContent, _ := rewriteContent(string(data), oldStem, newStem, group)
		rendered[group.Path] = []byte(newContent)
	}
	return rendered, nil
}

// CommitUpdates is phase 2 of the two-phase contract: it atomically
// writes each entry of rendered (typically produced by RenderUpdates).
// An atomic write error aborts; the caller is responsible for rollback
// via the WAL.
func CommitUpdates(l *fsio.Layer, rendered map[string][]byte) (CommitResult, error) {
	paths := make([]string, 0, len(rendered))
	for p := range rendered {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	result := CommitResult{}
	for _, path := range paths {
		if err := l.WriteFileWithRetry(path, rendered[path], true); err != nil {
			return result, fmt.Errorf("commit link update for %s: %w", path, err)
		}
		result.FilesUpdated++
	}
	return result, nil
}

// ApplyUpdatesDirect is the legacy, non-transactional mode: read,
// rewrite, write, one file at a time in path order. Any per-file write
// error aborts and returns partial metrics; state consistency is not
// guaranteed in this mode.
func ApplyUpdatesDirect(l *fsio.Layer, oldStem, newStem string, affected []model.AffectedFile) DirectResult {
	var result DirectResult

	groups := buildReferenceGroups(affected)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Path < groups[j].Path })
	for _, group := range groups {
		data, err := l.ReadFile(group.Path)
		if err != nil {
			result.Errors = append(result.Errors, &RenderError{Path: group.Path, Err: err})
			break
		}

		newContent, count := rewriteContent(string(data), oldStem, newStem, group)
		if err := l.WriteFileWithRetry(group.Path, []byte(newContent), false); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("direct update %s: %w", group.Path, err))
			break
		}

		result.FilesUpdated++
		result.ReferencesUpdated += count
	}

	return result
}

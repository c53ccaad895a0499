package search

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestSearch_FindsSubstringAcrossNotes(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/vault/a.md", []byte("hello world"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/vault/b.md", []byte("nothing here"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/vault/c.md", []byte("say hello again"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/vault/.obsidian/hello.md", []byte("hello"), 0o644))

	s := New(fs)
	matches, err := s.Search("/vault", "hello")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "/vault/a.md", matches[0].Path)
	require.Equal(t, "/vault/c.md", matches[1].Path)
}

func TestSearch_EmptyQueryReturnsNoMatches(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/vault/a.md", []byte("hello"), 0o644))

	s := New(fs)
	matches, err := s.Search("/vault", "")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestSearch_IgnoresNonMarkdown(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/vault/notes.txt", []byte("hello"), 0o644))

	s := New(fs)
	matches, err := s.Search("/vault", "hello")
	require.NoError(t, err)
	require.Empty(t, matches)
}

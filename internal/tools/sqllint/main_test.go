package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryQueriesCarryMarkers(t *testing.T) {
	findings, err := lint([]string{"../../sqlinline"})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestLintReportsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	src := "package q\n\n" +
		"const QOK = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;`\n" +
		"const QDup = `--sql 11111111-2222-4333-8444-555555555555\nselect 2;`\n" +
		"const QBare = \"select 3\"\n" +
		"const Label = \"not a query\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q.go"), []byte(src), 0o644))

	findings, err := lint([]string{dir})
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "QDup", findings[0].name)
	assert.Contains(t, findings[0].msg, "QOK")
	assert.Equal(t, "QBare", findings[1].name)

	var out bytes.Buffer
	assert.Equal(t, 1, run([]string{dir}, &out))
	assert.Contains(t, out.String(), "QBare")
}

func TestLintSkipsTestsAndNonGoFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q_test.go"), []byte("package q\nconst Q = \"select 1\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.sql"), []byte("select 1"), 0o644))

	var out bytes.Buffer
	assert.Equal(t, 0, run([]string{dir}, &out))
	assert.Empty(t, out.String())
}

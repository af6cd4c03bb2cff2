package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/solvegraph/state"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadProblem_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	write(t, path, `cp_id: 1333_platinum_good_bitstrings
description: |
  Count the good bitstrings.
runtime_limit: 4
test_cases:
  - inputs: "1\n"
    outputs: "1\n"
`)

	p, err := LoadProblem(path)
	require.NoError(t, err)
	assert.Equal(t, "1333_platinum_good_bitstrings", p.ThreadID())
	assert.Equal(t, 4, p.RuntimeLimit)
	require.Len(t, p.Tests, 1)
	assert.Equal(t, "1\n", p.Tests[0].Input)

	rec := p.Record()
	assert.Equal(t, p.ThreadID(), rec.Title)
	assert.Equal(t, state.StatusInProgress, rec.Status)
	require.Len(t, rec.Messages, 1)
	assert.Equal(t, state.KindUser, rec.Messages[0].Kind)
}

func TestLoadProblem_JSONTitleFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	write(t, path, `{"title":"sum","description":"add numbers","runtime_limit":2}`)

	p, err := LoadProblem(path)
	require.NoError(t, err)
	assert.Equal(t, "sum", p.ThreadID())
}

func TestLoadProblem_Invalid(t *testing.T) {
	dir := t.TempDir()

	noID := filepath.Join(dir, "noid.json")
	write(t, noID, `{"description":"x"}`)
	_, err := LoadProblem(noID)
	assert.Error(t, err)

	noDesc := filepath.Join(dir, "nodesc.json")
	write(t, noDesc, `{"cp_id":"x"}`)
	_, err = LoadProblem(noDesc)
	assert.Error(t, err)

	_, err = LoadProblem(filepath.Join(dir, "p.txt"))
	assert.Error(t, err)
}

func TestLoadTests(t *testing.T) {
	dir := t.TempDir()
	for i, pair := range [][2]string{{"1\n", "1\n"}, {"2\n", "4\n"}, {"3\n", "9\n"}} {
		n := string(rune('1' + i))
		write(t, filepath.Join(dir, "I."+n), pair[0])
		write(t, filepath.Join(dir, "O."+n), pair[1])
	}

	all, err := LoadTests(dir, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "9\n", all[2].Output)

	two, err := LoadTests(dir, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	_, err = LoadTests(dir, 4)
	assert.Error(t, err)

	_, err = LoadTests(t.TempDir(), 0)
	assert.ErrorIs(t, err, ErrNoTests)
}

func TestLoad_TestDirOverridesInline(t *testing.T) {
	dir := t.TempDir()
	problem := filepath.Join(dir, "p.yaml")
	write(t, problem, "cp_id: x\ndescription: d\nruntime_limit: 1\nnum_tests: 1\ntest_cases:\n  - inputs: a\n    outputs: b\n")
	tests := filepath.Join(dir, "tests")
	require.NoError(t, os.Mkdir(tests, 0o755))
	write(t, filepath.Join(tests, "I.1"), "in")
	write(t, filepath.Join(tests, "O.1"), "out")

	p, err := Load(problem, tests)
	require.NoError(t, err)
	require.Len(t, p.Tests, 1)
	assert.Equal(t, "in", p.Tests[0].Input)
}

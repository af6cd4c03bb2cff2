// Package dataset loads problems and their test cases from disk.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/solvegraph/state"
)

// ErrNoTests is returned when a test directory holds no I.n/O.n pairs.
var ErrNoTests = errors.New("no test cases found")

// Problem is one programming problem.
type Problem struct {
	ID           string           `json:"cp_id" yaml:"cp_id"`
	Title        string           `json:"title,omitempty" yaml:"title,omitempty"`
	Description  string           `json:"description" yaml:"description"`
	Level        string           `json:"problem_level,omitempty" yaml:"problem_level,omitempty"`
	RuntimeLimit int              `json:"runtime_limit" yaml:"runtime_limit"`
	NumTests     int              `json:"num_tests,omitempty" yaml:"num_tests,omitempty"`
	Tests        []state.TestCase `json:"test_cases,omitempty" yaml:"test_cases,omitempty"`
}

// ThreadID is the id a problem's solve thread runs under.
func (p Problem) ThreadID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Title
}

// Record builds the initial solve record for the problem.
func (p Problem) Record() state.Record {
	return state.NewRecord(p.ThreadID(), p.Description, p.Tests, p.RuntimeLimit)
}

// LoadProblem reads a problem from a YAML or JSON file.
func LoadProblem(path string) (Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Problem{}, fmt.Errorf("read problem: %w", err)
	}

	var p Problem
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &p)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	default:
		return Problem{}, fmt.Errorf("unsupported problem format %q", filepath.Ext(path))
	}
	if err != nil {
		return Problem{}, fmt.Errorf("parse problem %s: %w", path, err)
	}

	if p.ThreadID() == "" {
		return Problem{}, fmt.Errorf("problem %s has no id or title", path)
	}
	if strings.TrimSpace(p.Description) == "" {
		return Problem{}, fmt.Errorf("problem %s has no description", path)
	}
	if p.RuntimeLimit < 0 {
		return Problem{}, fmt.Errorf("problem %s has negative runtime limit", path)
	}
	return p, nil
}

// LoadTests reads paired input/output files I.1/O.1 ... I.n/O.n from dir.
// With n <= 0 every I.k present in dir is loaded, in numeric order.
func LoadTests(dir string, n int) ([]state.TestCase, error) {
	indices, err := testIndices(dir, n)
	if err != nil {
		return nil, err
	}

	tests := make([]state.TestCase, 0, len(indices))
	for _, i := range indices {
		in, err := os.ReadFile(filepath.Join(dir, "I."+strconv.Itoa(i)))
		if err != nil {
			return nil, fmt.Errorf("read test input %d: %w", i, err)
		}
		out, err := os.ReadFile(filepath.Join(dir, "O."+strconv.Itoa(i)))
		if err != nil {
			return nil, fmt.Errorf("read test output %d: %w", i, err)
		}
		tests = append(tests, state.TestCase{Input: string(in), Output: string(out)})
	}
	return tests, nil
}

func testIndices(dir string, n int) ([]int, error) {
	if n > 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "I.*"))
	if err != nil {
		return nil, err
	}
	var out []int
	for _, m := range matches {
		i, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(m), "I."))
		if err != nil || i < 1 {
			continue
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTests, dir)
	}
	sort.Ints(out)
	return out, nil
}

// Load reads a problem file and, when testDir is non-empty, replaces its
// inline tests with those in testDir.
func Load(problemPath, testDir string) (Problem, error) {
	p, err := LoadProblem(problemPath)
	if err != nil {
		return Problem{}, err
	}
	if testDir == "" {
		return p, nil
	}
	tests, err := LoadTests(testDir, p.NumTests)
	if err != nil {
		return Problem{}, err
	}
	p.Tests = tests
	return p, nil
}

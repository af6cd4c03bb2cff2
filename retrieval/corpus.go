// Package retrieval finds previously solved problems similar to a draft
// solution.
package retrieval

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoCodePayload is returned when a search is attempted without a code
// draft to search with.
var ErrNoCodePayload = errors.New("draft did not produce a code payload")

// Entry is one solved problem in the example corpus.
type Entry struct {
	ID          string `json:"cp_id" yaml:"cp_id"`
	Description string `json:"description" yaml:"description"`
	Solution    string `json:"solution" yaml:"solution"`
}

// Text renders the entry the way it is indexed and shown to the model.
func (e Entry) Text() string {
	return "<problem>\n" + e.Description + "\n</problem>\n<solution>\n" + e.Solution + "\n</solution>"
}

// LoadCorpus reads entries from a .yaml/.yml list, a .json array, or a
// .jsonl file with one entry per line.
func LoadCorpus(path string) ([]Entry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return loadJSONL(path)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read corpus: %w", err)
		}
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse corpus %s: %w", path, err)
		}
		return entries, validate(entries)
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read corpus: %w", err)
		}
		var entries []Entry
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse corpus %s: %w", path, err)
		}
		return entries, validate(entries)
	default:
		return nil, fmt.Errorf("unsupported corpus format %q", filepath.Ext(path))
	}
}

func loadJSONL(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("parse corpus %s line %d: %w", path, line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return entries, validate(entries)
}

func validate(entries []Entry) error {
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("corpus entry %d has no id", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate corpus id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// FormatExamples wraps retrieved entries in the instruction block spliced
// into the solve prompt.
func FormatExamples(entries []Entry) string {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text()
	}
	return "\nYou previously solved the following problems in this competition:\n<Examples>\n" +
		strings.Join(texts, "\n") +
		"\n<Examples>\nApproach this new question with similar sophistication."
}

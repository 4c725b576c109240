package dataset

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"sensor-agent/workspace"
)

// columnKeyword maps a prompt phrase to a canonical column identifier.
// The table is tested in order against the lowercased prompt; all matches are
// collected, not just the first.
type columnKeyword struct {
	phrase    string
	canonical string
}

var columnKeywords = []columnKeyword{
	{"temp one", "temperature_one"},
	{"temperature one", "temperature_one"},
	{"temp1", "temperature_one"},
	{"temp two", "temperature_two"},
	{"temperature two", "temperature_two"},
	{"temp2", "temperature_two"},
	{"vibration x", "vibration_x"},
	{"vib x", "vibration_x"},
	{"vibration y", "vibration_y"},
	{"vib y", "vibration_y"},
	{"vibration z", "vibration_z"},
	{"vib z", "vibration_z"},
}

var datasetRefPattern = regexp.MustCompile(`\bdata(\d+)\b`)

// ParsePrompt resolves column references and an optional dataset reference
// from a free-text prompt. Columns are returned in keyword-table order with
// duplicates collapsed; dataset is the logical name ("data2") or empty.
func ParsePrompt(prompt string) (columns []string, dataset string) {
	lower := strings.ToLower(prompt)

	if m := datasetRefPattern.FindStringSubmatch(lower); m != nil {
		dataset = "data" + m[1]
	}

	seen := make(map[string]bool)
	for _, kw := range columnKeywords {
		if !strings.Contains(lower, kw.phrase) || seen[kw.canonical] {
			continue
		}
		seen[kw.canonical] = true
		columns = append(columns, kw.canonical)
	}
	return columns, dataset
}

// WantsReport reports whether the prompt asks for a statistical report.
func WantsReport(prompt string) bool {
	return strings.Contains(strings.ToLower(prompt), "report")
}

// ResolveDatasetPath locates the file backing a logical dataset name inside
// dir. With an empty name it falls back to the lexicographically-first
// dataset file found. Returns empty string when nothing matches.
func ResolveDatasetPath(dir, name string) string {
	if name != "" {
		for ext := range workspace.DatasetExtensions {
			p := filepath.Join(dir, name+ext)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
		}
		return ""
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() || !workspace.IsDatasetFile(entry.Name()) {
			continue
		}
		candidates = append(candidates, entry.Name())
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	return filepath.Join(dir, candidates[0])
}

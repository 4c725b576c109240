package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParsePrompt(t *testing.T) {
	tests := []struct {
		name        string
		prompt      string
		wantColumns []string
		wantDataset string
	}{
		{
			name:        "report_with_two_columns_and_dataset",
			prompt:      "report for temp one and vib z from data2",
			wantColumns: []string{"temperature_one", "vibration_z"},
			wantDataset: "data2",
		},
		{
			name:        "case_insensitive",
			prompt:      "Report for TEMP TWO from DATA3",
			wantColumns: []string{"temperature_two"},
			wantDataset: "data3",
		},
		{
			name:        "duplicate_phrases_collapse",
			prompt:      "report for temp one and temperature one",
			wantColumns: []string{"temperature_one"},
			wantDataset: "",
		},
		{
			name:        "all_vibration_axes_in_table_order",
			prompt:      "vib z, vib x and vibration y please",
			wantColumns: []string{"vibration_x", "vibration_y", "vibration_z"},
			wantDataset: "",
		},
		{
			name:        "no_matches",
			prompt:      "compare columns of all datasets",
			wantColumns: nil,
			wantDataset: "",
		},
		{
			name:        "dataset_number_only",
			prompt:      "columns of data12",
			wantColumns: nil,
			wantDataset: "data12",
		},
		{
			name:        "dataset_token_not_matched_inside_word",
			prompt:      "show metadata1 info",
			wantColumns: nil,
			wantDataset: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			columns, dataset := ParsePrompt(tt.prompt)
			if !reflect.DeepEqual(columns, tt.wantColumns) {
				t.Errorf("ParsePrompt() columns = %v, want %v", columns, tt.wantColumns)
			}
			if dataset != tt.wantDataset {
				t.Errorf("ParsePrompt() dataset = %q, want %q", dataset, tt.wantDataset)
			}
		})
	}
}

func TestWantsReport(t *testing.T) {
	if !WantsReport("give me a REPORT for temp one") {
		t.Error("WantsReport() should match case-insensitively")
	}
	if WantsReport("plot temp one over time") {
		t.Error("WantsReport() should not match a plotting request")
	}
}

func TestResolveDatasetPath(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"data2.csv", "data1.tsv", "other.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("a\n1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("named_dataset", func(t *testing.T) {
		got := ResolveDatasetPath(dir, "data2")
		if filepath.Base(got) != "data2.csv" {
			t.Errorf("ResolveDatasetPath(data2) = %q, want data2.csv", got)
		}
	})

	t.Run("fallback_lexicographic_first", func(t *testing.T) {
		got := ResolveDatasetPath(dir, "")
		if filepath.Base(got) != "data1.tsv" {
			t.Errorf("ResolveDatasetPath(\"\") = %q, want data1.tsv", got)
		}
	})

	t.Run("missing_dataset", func(t *testing.T) {
		if got := ResolveDatasetPath(dir, "data9"); got != "" {
			t.Errorf("ResolveDatasetPath(data9) = %q, want empty", got)
		}
	})
}

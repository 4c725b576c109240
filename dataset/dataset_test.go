package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data1.csv",
		"device_id,temperature_one,vibration_x\nA,20.5,0.1\nA,21.0,\nB,19.0,0.3\n")

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []string{"device_id", "temperature_one", "vibration_x"}
	if !reflect.DeepEqual(table.Columns, want) {
		t.Errorf("Columns = %v, want %v", table.Columns, want)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("Rows = %d, want 3", len(table.Rows))
	}

	temps := table.NumericColumn("temperature_one")
	if !reflect.DeepEqual(temps, []float64{20.5, 21.0, 19.0}) {
		t.Errorf("NumericColumn(temperature_one) = %v", temps)
	}

	// Missing cell in vibration_x is dropped, not zero-filled.
	vib := table.NumericColumn("vibration_x")
	if !reflect.DeepEqual(vib, []float64{0.1, 0.3}) {
		t.Errorf("NumericColumn(vibration_x) = %v, want missing cell dropped", vib)
	}
}

func TestLoadTSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data1.tsv", "a\tb\n1\t2\n3\t4\n")

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := table.NumericColumn("b"); !reflect.DeepEqual(got, []float64{2, 4}) {
		t.Errorf("NumericColumn(b) = %v", got)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data1.json",
		`[{"temperature_one": 10, "device_id": "A"}, {"temperature_one": 20, "device_id": "B"}]`)

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// JSON columns are sorted alphabetically for determinism.
	if !reflect.DeepEqual(table.Columns, []string{"device_id", "temperature_one"}) {
		t.Errorf("Columns = %v", table.Columns)
	}
	if got := table.NumericColumn("temperature_one"); !reflect.DeepEqual(got, []float64{10, 20}) {
		t.Errorf("NumericColumn(temperature_one) = %v", got)
	}
}

func TestLoadParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data1.json", "not json at all")

	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail on malformed json")
	}
}

func TestDistinctValuesAndFilter(t *testing.T) {
	table := &Table{
		Columns: []string{"device_id", "temperature_one"},
		Rows: [][]string{
			{"B", "1"},
			{"A", "2"},
			{"B", "3"},
		},
	}

	if got := table.DistinctValues("device_id"); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Errorf("DistinctValues() = %v, want first-appearance order", got)
	}

	filtered := table.FilterByValue("device_id", "B")
	if got := filtered.NumericColumn("temperature_one"); !reflect.DeepEqual(got, []float64{1, 3}) {
		t.Errorf("FilterByValue() temperatures = %v", got)
	}
}

func TestCacheReusesParsedTable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data1.csv", "a\n1\n")

	cache, err := NewCache(4, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	first, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	second, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if first != second {
		t.Error("expected second Load to return the cached *Table")
	}
}

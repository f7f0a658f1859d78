package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MergeStats reports what a master merge changed.
type MergeStats struct {
	MasterBefore      int `json:"master_before"`
	NewRows           int `json:"new_rows"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	MasterAfter       int `json:"master_after"`
	RowsAdded         int `json:"rows_added"`
}

// Table holds a result file in memory with its column order preserved.
type Table struct {
	Columns []string
	Rows    []Record
}

// ReadTable loads a CSV file. A missing file yields an empty table so the
// first merge can create the master dataset.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Table{}, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return &Table{}, nil
	}
	t := &Table{Columns: rows[0]}
	for _, row := range rows[1:] {
		rec := make(Record, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// WriteTable rewrites path with the table's contents, creating parent
// directories as needed.
func WriteTable(path string, t *Table) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		f.Close() //nolint:errcheck,gosec
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(t.Columns))
	for _, rec := range t.Rows {
		for i, col := range t.Columns {
			row[i] = rec[col]
		}
		if err := w.Write(row); err != nil {
			f.Close() //nolint:errcheck,gosec
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close() //nolint:errcheck,gosec
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Merge folds the result file at newPath into the master dataset at
// masterPath, rewriting the master in place. Master rows matching a new row
// by key, or sitting within toleranceMeters of a same-named new row, are
// replaced by the new data (last write wins). The target label identifies
// the source in logs and reports.
func Merge(newPath, masterPath, target string, toleranceMeters float64) (MergeStats, error) {
	if toleranceMeters <= 0 {
		toleranceMeters = DefaultToleranceMeters
	}
	master, err := ReadTable(masterPath)
	if err != nil {
		return MergeStats{}, err
	}
	incoming, err := ReadTable(newPath)
	if err != nil {
		return MergeStats{}, err
	}

	stats := MergeStats{
		MasterBefore: len(master.Rows),
		NewRows:      len(incoming.Rows),
		MasterAfter:  len(master.Rows),
	}
	if len(incoming.Rows) == 0 {
		return stats, nil
	}

	newKeys := make(map[string]struct{}, len(incoming.Rows))
	for _, rec := range incoming.Rows {
		newKeys[Key(rec)] = struct{}{}
	}

	kept := master.Rows[:0]
	for _, rec := range master.Rows {
		if _, dup := newKeys[Key(rec)]; dup {
			stats.DuplicatesRemoved++
			continue
		}
		if nearDuplicate(rec, incoming.Rows, toleranceMeters) {
			stats.DuplicatesRemoved++
			continue
		}
		kept = append(kept, rec)
	}

	columns := master.Columns
	if len(columns) == 0 {
		columns = incoming.Columns
	}
	merged := &Table{
		Columns: columns,
		Rows:    append(kept, incoming.Rows...),
	}
	if err := WriteTable(masterPath, merged); err != nil {
		return MergeStats{}, err
	}

	stats.MasterAfter = len(merged.Rows)
	stats.RowsAdded = stats.MasterAfter - stats.MasterBefore + stats.DuplicatesRemoved
	return stats, nil
}

// nearDuplicate reports whether rec sits within tolerance of a same-named
// incoming record. This catches re-scraped stores whose handle or address
// formatting drifted between runs.
func nearDuplicate(rec Record, incoming []Record, tolerance float64) bool {
	lat, lng, ok := Coordinates(rec)
	if !ok {
		return false
	}
	name := strings.ToLower(strings.TrimSpace(rec["Name"]))
	if name == "" {
		return false
	}
	for _, cand := range incoming {
		if strings.ToLower(strings.TrimSpace(cand["Name"])) != name {
			continue
		}
		clat, clng, ok := Coordinates(cand)
		if !ok {
			continue
		}
		if DistanceMeters(lat, lng, clat, clng) <= tolerance {
			return true
		}
	}
	return false
}

package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestMergeCreatesMasterOnFirstRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	newPath := filepath.Join(dir, "alpha.csv")
	masterPath := filepath.Join(dir, "master.csv")
	writeCSV(t, newPath, "Handle,Name,City\na1,Alpha Geneva,Geneva\na2,Alpha Zurich,Zurich\n")

	stats, err := Merge(newPath, masterPath, "alpha", 0)
	require.NoError(t, err)
	require.Equal(t, MergeStats{MasterBefore: 0, NewRows: 2, MasterAfter: 2, RowsAdded: 2}, stats)

	master, err := ReadTable(masterPath)
	require.NoError(t, err)
	require.Len(t, master.Rows, 2)
	require.Equal(t, []string{"Handle", "Name", "City"}, master.Columns)
}

func TestMergeLastWriteWinsOnSharedKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	masterPath := filepath.Join(dir, "master.csv")
	writeCSV(t, masterPath, "Handle,Name,Phone\na1,Alpha Geneva,111\nb1,Beta Paris,222\n")
	newPath := filepath.Join(dir, "alpha.csv")
	writeCSV(t, newPath, "Handle,Name,Phone\na1,Alpha Geneva,999\n")

	stats, err := Merge(newPath, masterPath, "alpha", 0)
	require.NoError(t, err)
	require.Equal(t, 1, stats.DuplicatesRemoved)
	require.Equal(t, 2, stats.MasterAfter)
	require.Equal(t, 0, stats.RowsAdded)

	master, err := ReadTable(masterPath)
	require.NoError(t, err)
	byHandle := map[string]Record{}
	for _, rec := range master.Rows {
		byHandle[rec["Handle"]] = rec
	}
	// The later-arriving field values win.
	require.Equal(t, "999", byHandle["a1"]["Phone"])
	require.Equal(t, "222", byHandle["b1"]["Phone"])
}

func TestMergeCoordinateProximityFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	masterPath := filepath.Join(dir, "master.csv")
	// Same store, no handle, address formatting drifted, coordinates ~20m apart.
	writeCSV(t, masterPath, "Handle,Name,Address Line 1,Latitude,Longitude\n,Alpha Geneva,1 Rue du Rhone,46.20000,6.15000\n")
	newPath := filepath.Join(dir, "alpha.csv")
	writeCSV(t, newPath, "Handle,Name,Address Line 1,Latitude,Longitude\n,Alpha Geneva,1 Rue du Rhône,46.20018,6.15000\n")

	stats, err := Merge(newPath, masterPath, "alpha", 50)
	require.NoError(t, err)
	require.Equal(t, 1, stats.DuplicatesRemoved)
	require.Equal(t, 1, stats.MasterAfter)
}

func TestMergeBeyondToleranceKeepsBoth(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	masterPath := filepath.Join(dir, "master.csv")
	writeCSV(t, masterPath, "Handle,Name,Address Line 1,Latitude,Longitude\n,Alpha Geneva,1 Rue du Rhone,46.20000,6.15000\n")
	newPath := filepath.Join(dir, "alpha.csv")
	// ~500m away: a different branch of the same brand.
	writeCSV(t, newPath, "Handle,Name,Address Line 1,Latitude,Longitude\n,Alpha Geneva,9 Rue de Lausanne,46.20450,6.15000\n")

	stats, err := Merge(newPath, masterPath, "alpha", 50)
	require.NoError(t, err)
	require.Equal(t, 0, stats.DuplicatesRemoved)
	require.Equal(t, 2, stats.MasterAfter)
}

func TestMergeEmptyNewFileIsNoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	masterPath := filepath.Join(dir, "master.csv")
	writeCSV(t, masterPath, "Handle,Name\na1,Alpha\n")
	newPath := filepath.Join(dir, "empty.csv")
	writeCSV(t, newPath, "Handle,Name\n")

	stats, err := Merge(newPath, masterPath, "alpha", 0)
	require.NoError(t, err)
	require.Equal(t, 1, stats.MasterBefore)
	require.Equal(t, 1, stats.MasterAfter)
	require.Equal(t, 0, stats.RowsAdded)
}

func TestKeyPrecedence(t *testing.T) {
	t.Parallel()

	require.Equal(t, "handle:a1", Key(Record{"Handle": "a1", "Name": "Alpha"}))
	require.Equal(t,
		"name_addr:alpha|1 main st|geneva",
		Key(Record{"Name": "Alpha", "Address Line 1": "1 Main St", "City": "Geneva"}))
	require.Equal(t,
		"name_coords:alpha|46.2|6.15",
		Key(Record{"Name": "Alpha", "Latitude": "46.2", "Longitude": "6.15"}))
	// Keyless records fall back to a field hash, stable across calls.
	rec := Record{"Website": "https://example.test"}
	require.Equal(t, Key(rec), Key(rec))
}

func TestKeyHashFallbackIsDeterministic(t *testing.T) {
	t.Parallel()

	// No handle, name, or coordinates: the key is a hash over all fields,
	// which must not depend on map iteration order.
	rec := Record{
		"Website":        "https://example.test",
		"Phone":          "+41 22 000 00 00",
		"Hours Mon":      "09:00-18:00",
		"Address Line 2": "2nd floor",
	}
	first := Key(rec)
	for range 50 {
		require.Equal(t, first, Key(rec))
	}

	// A field-for-field copy hashes identically too.
	copied := make(Record, len(rec))
	for k, v := range rec {
		copied[k] = v
	}
	require.Equal(t, first, Key(copied))
}

func TestDistanceMeters(t *testing.T) {
	t.Parallel()

	// One degree of latitude is roughly 111km.
	d := DistanceMeters(46.0, 6.0, 47.0, 6.0)
	require.InDelta(t, 111195, d, 200)
	require.InDelta(t, 0, DistanceMeters(46.2, 6.15, 46.2, 6.15), 0.001)
}

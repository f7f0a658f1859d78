package csvkit

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// chunkReader forces reads to a fixed size so tests can exercise chunk
// boundaries falling inside and between lines.
type chunkReader struct {
	data []byte
	size int
	off  int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.off >= len(c.data) {
		return 0, io.EOF
	}
	n := c.size
	if n > len(p) {
		n = len(p)
	}
	if rem := len(c.data) - c.off; n > rem {
		n = rem
	}
	copy(p, c.data[c.off:c.off+n])
	c.off += n
	return n, nil
}

func TestCountLinesChunkIndependent(t *testing.T) {
	t.Parallel()

	content := "Handle,Name,City\n"
	for i := 0; i < 120; i++ {
		content += "h,Store,Geneva\n"
	}

	for _, size := range []int{1, 17, len(content)} {
		r := &chunkReader{data: []byte(content), size: size}
		lines, err := CountLines(r)
		require.NoError(t, err)
		require.Equal(t, 121, lines, "chunk size %d", size)
	}
}

func TestCountLinesNoTrailingNewline(t *testing.T) {
	t.Parallel()

	lines, err := CountLines(strings.NewReader("header\nrow1\nrow2"))
	require.NoError(t, err)
	require.Equal(t, 3, lines)
}

func TestCountLinesEmpty(t *testing.T) {
	t.Parallel()

	lines, err := CountLines(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, 0, lines)
}

func TestCountDataRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "stores.csv")
	require.NoError(t, os.WriteFile(path, []byte("Handle,Name\na,Alpha\nb,Beta\n"), 0o600))

	rows, err := CountDataRows(path)
	require.NoError(t, err)
	require.Equal(t, 2, rows)
}

func TestCountDataRowsHeaderOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "stores.csv")
	require.NoError(t, os.WriteFile(path, []byte("Handle,Name\n"), 0o600))

	rows, err := CountDataRows(path)
	require.NoError(t, err)
	require.Equal(t, 0, rows)
}

func TestCountDataRowsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := CountDataRows(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
}

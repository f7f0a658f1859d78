// Package csvkit provides streaming helpers for tabular result files.
package csvkit

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

const countBufferSize = 32 * 1024

// CountLines streams r and returns the number of lines it contains. Counting
// is done by scanning for newline bytes across read chunks, so the result is
// independent of how the underlying reads are sized. A final line without a
// trailing newline still counts as one line.
func CountLines(r io.Reader) (int, error) {
	buf := make([]byte, countBufferSize)
	lines := 0
	sawData := false
	lastByte := byte('\n')
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sawData = true
			lines += bytes.Count(buf[:n], []byte{'\n'})
			lastByte = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("count lines: %w", err)
		}
	}
	if sawData && lastByte != '\n' {
		lines++
	}
	return lines, nil
}

// CountDataRows counts the data rows in a CSV file, excluding the single
// header line. An empty or header-only file yields zero.
func CountDataRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	lines, err := CountLines(f)
	if err != nil {
		return 0, err
	}
	if lines <= 1 {
		return 0, nil
	}
	return lines - 1, nil
}

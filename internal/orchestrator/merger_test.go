package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWorkerCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stdout string
		want   int
		ok     bool
	}{
		{
			name:   "normalized summary",
			stdout: "✅ 42 stores normalized",
			want:   42,
			ok:     true,
		},
		{
			name:   "found summary",
			stdout: "Found 17 stores",
			want:   17,
			ok:     true,
		},
		{
			name:   "normalized preferred over found",
			stdout: "Found 20 stores\n18 stores normalized",
			want:   18,
			ok:     true,
		},
		{
			name:   "last occurrence wins",
			stdout: "Found 5 stores\nFound 9 stores",
			want:   9,
			ok:     true,
		},
		{
			name:   "no summary",
			stdout: "scraping page 3\nwriting output",
			ok:     false,
		},
		{
			name: "empty",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseWorkerCount(tt.stdout)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	t.Parallel()

	require.Equal(t, "one", firstLine("one\ntwo\nthree"))
	require.Equal(t, "only", firstLine("only"))
	require.Equal(t, "", firstLine(""))
}

package file_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/utils/file"
)

func TestWriteAtomic(t *testing.T) {
	tests := map[string]struct {
		existing *string
		path     func(dir string) string
		expErrIs error
	}{
		"A new file should be written.": {
			path: func(dir string) string { return filepath.Join(dir, "a.txt") },
		},
		"An existing file should be replaced.": {
			existing: func() *string { s := "old content that is longer"; return &s }(),
			path:     func(dir string) string { return filepath.Join(dir, "a.txt") },
		},
		"A missing parent directory should fail.": {
			path:     func(dir string) string { return filepath.Join(dir, "missing", "a.txt") },
			expErrIs: fs.ErrNotExist,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := test.path(dir)
			if test.existing != nil {
				require.NoError(t, os.WriteFile(path, []byte(*test.existing), 0o600))
			}

			err := file.WriteAtomic(path, []byte("new"), 0o644)
			if test.expErrIs != nil {
				assert.ErrorIs(t, err, test.expErrIs)
				return
			}
			require.NoError(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "new", string(data))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temporary files should not be left behind")
		})
	}
}
